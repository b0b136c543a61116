package shop

import (
	"go.uber.org/fx"

	"github.com/babcialabs/babcia/internal/shop/service"
)

var Module = fx.Module("shop.service",
	fx.Provide(service.NewService),
)
