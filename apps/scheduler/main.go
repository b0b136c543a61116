package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/babcialabs/babcia/internal/audit"
	"github.com/babcialabs/babcia/internal/auth"
	"github.com/babcialabs/babcia/internal/authorization"
	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/cloudmetrics"
	"github.com/babcialabs/babcia/internal/config"
	"github.com/babcialabs/babcia/internal/dashboard"
	"github.com/babcialabs/babcia/internal/events"
	"github.com/babcialabs/babcia/internal/ledger"
	"github.com/babcialabs/babcia/internal/observability"
	"github.com/babcialabs/babcia/internal/ratelimit"
	"github.com/babcialabs/babcia/internal/scheduler"
	"github.com/babcialabs/babcia/pkg/db"
)

// Standalone job runner. No HTTP server; the same jobs the embedded
// loop runs, deployed on its own schedule.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,

		scheduler.Module,
		audit.Module,
		auth.Module,
		authorization.Module,
		events.Module,
		dashboard.Module,
		ledger.Module,
		ratelimit.Module,
		cloudmetrics.Module,

		fx.Invoke(startScheduler),
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}

func startScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())
			go s.RunForever(runCtx)
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
