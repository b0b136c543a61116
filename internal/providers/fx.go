package providers

import (
	"github.com/babcialabs/babcia/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	pdf.Module,
)
