package persona

import "go.uber.org/fx"

var Module = fx.Module("persona.repository",
	fx.Provide(NewRepository),
)
