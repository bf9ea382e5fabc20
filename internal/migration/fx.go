package migration

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/facilitycore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrUnsupportedDatabase is returned when migrations are requested for a
// database the embedded schema does not target.
var ErrUnsupportedDatabase = errors.New("embedded migrations support postgres only")

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply runs the embedded migrations when the config asks for them.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")
	if !cfg.DBRunMigrations {
		log.Info("skipping embedded migrations", zap.String("db_type", cfg.DBType))
		return nil
	}
	if cfg.DBType != "postgres" {
		log.Error("cannot run embedded migrations", zap.String("db_type", cfg.DBType))
		return fmt.Errorf("%w: got %q, set DATABASE_RUN_MIGRATIONS=false and provision the schema", ErrUnsupportedDatabase, cfg.DBType)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}
