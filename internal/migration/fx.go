package migration

import (
	"context"

	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/internal/seed"
	userdomain "github.com/engineerpark/cdulog/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, users userdomain.Service, log *zap.Logger) error {
		if err := Run(conn, log.Named("migration")); err != nil {
			return err
		}
		return seed.EnsureBootstrapAdmin(context.Background(), cfg, users, log)
	}),
)
