package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/clearhaven/dunlin/internal/clock"
	"github.com/clearhaven/dunlin/internal/config"
	"github.com/clearhaven/dunlin/internal/eventledger"
	"github.com/clearhaven/dunlin/internal/gateway"
	"github.com/clearhaven/dunlin/internal/logger"
	"github.com/clearhaven/dunlin/internal/migration"
	"github.com/clearhaven/dunlin/internal/notification"
	"github.com/clearhaven/dunlin/internal/observability"
	"github.com/clearhaven/dunlin/internal/reconcile"
	"github.com/clearhaven/dunlin/internal/server"
	"github.com/clearhaven/dunlin/internal/subscription"
	"github.com/clearhaven/dunlin/internal/tenant"
	"github.com/clearhaven/dunlin/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		tenant.Module,
		subscription.Module,
		eventledger.Module,
		gateway.Module,
		notification.Module,
		reconcile.Module,

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
