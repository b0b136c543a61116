package vision

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/babcialabs/babcia/internal/config"
	obsmetrics "github.com/babcialabs/babcia/internal/observability/metrics"
	"github.com/babcialabs/babcia/internal/vision/adapters"
	"github.com/babcialabs/babcia/internal/vision/adapters/remote"
	"github.com/babcialabs/babcia/internal/vision/adapters/static"
	"github.com/babcialabs/babcia/internal/vision/domain"
)

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	Registry   *adapters.Registry
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewProvider(p Params) (domain.Provider, error) {
	name := p.Config.VisionProvider
	if name == "" {
		name = "static"
	}

	provider, err := p.Registry.NewProvider(name, domain.AdapterConfig{
		Endpoint: p.Config.VisionEndpoint,
		APIKey:   p.Config.VisionAPIKey,
		Model:    p.Config.VisionModel,
	})
	if err != nil {
		return nil, err
	}
	return instrument(provider, p.Log, p.ObsMetrics), nil
}

var Module = fx.Module("vision",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			static.NewFactory(),
			remote.NewFactory(),
		)
	}),
	fx.Provide(NewProvider),
)
