package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	auditdomain "github.com/engineerpark/cdulog/internal/audit/domain"
	maintenancedomain "github.com/engineerpark/cdulog/internal/maintenance/domain"
	userdomain "github.com/engineerpark/cdulog/internal/user/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// models are created directly on dialects without versioned SQL.
var models = []any{
	&maintenancedomain.Unit{},
	&maintenancedomain.Record{},
	&userdomain.User{},
	&auditdomain.AuditLog{},
}

// Run brings the schema up to date. Postgres applies the embedded SQL files
// through golang-migrate; MySQL and SQLite are migrated from the models.
func Run(conn *gorm.DB, log *zap.Logger) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	dialect := conn.Dialector.Name()
	if dialect != "postgres" {
		if err := conn.AutoMigrate(models...); err != nil {
			return fmt.Errorf("auto-migrate %s: %w", dialect, err)
		}
		log.Info("schema migrated from models", zap.String("dialect", dialect))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	version, err := applyVersioned(sqlDB)
	if err != nil {
		return err
	}
	log.Info("schema migrated", zap.String("dialect", dialect), zap.Uint("version", version))
	return nil
}

func newSource() (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	return iofs.New(sub, ".")
}

// applyVersioned runs pending up migrations and returns the resulting schema
// version. The migrator is never closed since that would close sqlDB.
func applyVersioned(sqlDB *sql.DB) (uint, error) {
	src, err := newSource()
	if err != nil {
		return 0, err
	}
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return 0, fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}
