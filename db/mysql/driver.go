package mysql

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open creates a GORM *DB backed by MySQL with a connection pool.
// Friendship timestamps are scanned into time.Time, so the DSN always
// carries parseTime=true.
func Open(dsn string, maxOpen, maxIdle int, maxLife time.Duration, level logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(NormalizeDSN(dsn)), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql: get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(maxLife)

	return db, nil
}

// NormalizeDSN adds parseTime=true and charset=utf8mb4 unless the DSN
// already sets them.
func NormalizeDSN(dsn string) string {
	var extra []string
	if !strings.Contains(dsn, "parseTime=") {
		extra = append(extra, "parseTime=true")
	}
	if !strings.Contains(dsn, "charset=") {
		extra = append(extra, "charset=utf8mb4")
	}
	if len(extra) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(extra, "&")
}
