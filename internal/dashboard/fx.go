package dashboard

import (
	"go.uber.org/fx"

	"github.com/babcialabs/babcia/internal/dashboard/rollup"
	"github.com/babcialabs/babcia/internal/dashboard/service"
)

var Module = fx.Module("dashboard.service",
	fx.Provide(
		service.NewService,
		rollup.NewService,
	),
)
