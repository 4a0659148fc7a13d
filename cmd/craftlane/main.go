package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/craftlane/craftlane/internal/booking"
	"github.com/craftlane/craftlane/internal/clock"
	"github.com/craftlane/craftlane/internal/config"
	"github.com/craftlane/craftlane/internal/escrow"
	"github.com/craftlane/craftlane/internal/logger"
	"github.com/craftlane/craftlane/internal/migration"
	"github.com/craftlane/craftlane/internal/notifier"
	"github.com/craftlane/craftlane/internal/observability/metrics"
	"github.com/craftlane/craftlane/internal/order"
	"github.com/craftlane/craftlane/internal/server"
	"github.com/craftlane/craftlane/internal/sweeper"
	"github.com/craftlane/craftlane/internal/timeline"
	"github.com/craftlane/craftlane/internal/wallet"
	"github.com/craftlane/craftlane/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		metrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		timeline.Module,
		wallet.Module,
		notifier.Module,
		escrow.Module,
		order.Module,
		booking.Module,
		sweeper.Module,

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
