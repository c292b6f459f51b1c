package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/inkflow-ai/inkflow/internal/callback"
	"github.com/inkflow-ai/inkflow/internal/clock"
	"github.com/inkflow-ai/inkflow/internal/completion"
	"github.com/inkflow-ai/inkflow/internal/config"
	"github.com/inkflow-ai/inkflow/internal/credits"
	"github.com/inkflow-ai/inkflow/internal/delivery"
	"github.com/inkflow-ai/inkflow/internal/executor/direct"
	"github.com/inkflow-ai/inkflow/internal/executor/polling"
	"github.com/inkflow-ai/inkflow/internal/executor/relay"
	"github.com/inkflow-ai/inkflow/internal/generation"
	"github.com/inkflow-ai/inkflow/internal/migration"
	"github.com/inkflow-ai/inkflow/internal/observability"
	"github.com/inkflow-ai/inkflow/internal/queue"
	"github.com/inkflow-ai/inkflow/internal/ratelimit"
	"github.com/inkflow-ai/inkflow/internal/server"
	"github.com/inkflow-ai/inkflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		queue.Module,

		// Engine domains
		credits.Module,
		generation.Module,
		completion.Module,
		callback.Module,
		delivery.Module,
		ratelimit.Module,

		// Executors
		direct.Module,
		relay.Module,
		polling.Module,

		// HTTP surface
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
