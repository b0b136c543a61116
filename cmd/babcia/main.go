package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/migration"
	"github.com/babcialabs/babcia/internal/observability"
	"github.com/babcialabs/babcia/internal/scheduler"
	"github.com/babcialabs/babcia/internal/server"
	"github.com/babcialabs/babcia/pkg/db"
)

// Single-binary install: HTTP API, background jobs and migrations in
// one process. Larger installs run apps/scheduler separately and set
// SCHEDULER_ENABLED_JOBS accordingly.
func main() {
	app := fx.New(
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// server.Module pulls in config and every domain module.
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
