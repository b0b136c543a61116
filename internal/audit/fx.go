package audit

import (
	"github.com/babcialabs/babcia/internal/audit/repository"
	"github.com/babcialabs/babcia/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
