package db

import (
	"fmt"

	"github.com/kasuganosora/socialgraph/config"
	dbmysql "github.com/kasuganosora/socialgraph/db/mysql"
	dbpostgres "github.com/kasuganosora/socialgraph/db/postgres"
	dbsqlite "github.com/kasuganosora/socialgraph/db/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	level := logger.Silent
	if cfg.Debug {
		level = logger.Info
	}
	switch cfg.Mode {
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath, level)
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife, level)
	case ModePostgres:
		return dbpostgres.Open(cfg.PostgresDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife, level)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
