package migration

import (
	"github.com/shelfsync/shelfsync/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// Embedded migrations target postgres. Other dialects (notably the
		// in-memory sqlite used by tests) migrate through AutoMigrate in
		// their own setup.
		if cfg.DBType != "postgres" {
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
