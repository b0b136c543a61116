package auth

import (
	"go.uber.org/fx"

	"github.com/babcialabs/babcia/internal/auth/repository"
	"github.com/babcialabs/babcia/internal/auth/service"
	"github.com/babcialabs/babcia/internal/auth/session"
)

var Module = fx.Module("auth.service",
	fx.Provide(
		repository.New,
		service.NewService,
	),
	session.Module,
)
