package migration

import (
	"strings"

	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

// Run brings the schema up to date before any service touches it.
func Run(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	dbType := strings.ToLower(strings.TrimSpace(cfg.DBType))
	if dbType != db.TypePostgres {
		log.Info("migrating schema with gorm", zap.String("type", dbType))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	log.Info("applying embedded migrations")
	return RunMigrations(sqlDB)
}
