package ledger

import (
	"go.uber.org/fx"

	"github.com/babcialabs/babcia/internal/ledger/service"
)

var Module = fx.Module("ledger.service",
	fx.Provide(service.NewService),
)
