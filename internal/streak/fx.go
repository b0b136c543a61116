package streak

import (
	"go.uber.org/fx"

	"github.com/babcialabs/babcia/internal/streak/service"
)

var Module = fx.Module("streak.tracker",
	fx.Provide(service.NewTracker),
)
