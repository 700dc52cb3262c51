package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/engineerpark/cdulog/internal/audit"
	"github.com/engineerpark/cdulog/internal/authorization"
	"github.com/engineerpark/cdulog/internal/cache"
	"github.com/engineerpark/cdulog/internal/clock"
	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/internal/export"
	"github.com/engineerpark/cdulog/internal/identity"
	"github.com/engineerpark/cdulog/internal/maintenance"
	"github.com/engineerpark/cdulog/internal/migration"
	"github.com/engineerpark/cdulog/internal/notify"
	"github.com/engineerpark/cdulog/internal/observability"
	"github.com/engineerpark/cdulog/internal/ratelimit"
	"github.com/engineerpark/cdulog/internal/reconcile"
	"github.com/engineerpark/cdulog/internal/server"
	"github.com/engineerpark/cdulog/internal/user"
	"github.com/engineerpark/cdulog/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		cache.Module,
		clock.Module,
		identity.Module,
		ratelimit.Module,
		notify.Module,

		// Domains
		audit.Module,
		user.Module,
		authorization.Module,
		maintenance.Module,
		export.Module,

		// Schema and bootstrap data must exist before anything serves traffic.
		migration.Module,
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
