package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facilitycore/internal/authorization"
	"github.com/smallbiznis/facilitycore/internal/clock"
	"github.com/smallbiznis/facilitycore/internal/config"
	"github.com/smallbiznis/facilitycore/internal/externalservice"
	"github.com/smallbiznis/facilitycore/internal/instrument"
	"github.com/smallbiznis/facilitycore/internal/locking"
	"github.com/smallbiznis/facilitycore/internal/migration"
	"github.com/smallbiznis/facilitycore/internal/observability"
	"github.com/smallbiznis/facilitycore/internal/orderline"
	"github.com/smallbiznis/facilitycore/internal/pricepolicy"
	"github.com/smallbiznis/facilitycore/internal/reservation"
	"github.com/smallbiznis/facilitycore/internal/server"
	"github.com/smallbiznis/facilitycore/internal/split"
	"github.com/smallbiznis/facilitycore/pkg/db"
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
		locking.Module,
		authorization.Module,

		// Functional domains
		instrument.Module,
		orderline.Module,
		pricepolicy.Module,
		reservation.Module,
		split.Module,
		externalservice.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
