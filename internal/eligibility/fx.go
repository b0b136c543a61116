package eligibility

import (
	"go.uber.org/fx"

	"github.com/babcialabs/babcia/internal/config"
	"github.com/babcialabs/babcia/internal/eligibility/service"
)

var Module = fx.Module("eligibility.policy",
	fx.Provide(config.NewEligibilityConfigHolder),
	fx.Provide(service.NewPolicy),
)
