// Package db provides database connection and migration functionality.
package db

import (
	"fmt"
	stdlog "log"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ballotwatch/internal/config"
	"ballotwatch/internal/models"
)

// Open opens a database connection using the provided configuration.
// It returns (nil, nil) when persistence is not configured.
func Open(cfg config.Config, log zerolog.Logger) (*gorm.DB, error) {
	if cfg.DBDialect == "" || cfg.DBDsn == "" {
		return nil, nil
	}

	// Route GORM's own output through zerolog; only slow queries and errors are reported
	level := logger.Silent
	if cfg.Debug {
		level = logger.Warn
	}
	gormLog := log.With().Str("component", "gorm").Logger()
	newLogger := logger.New(
		stdlog.New(gormLog, "", 0),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	switch cfg.DBDialect {
	case config.DatabaseSchemePostgres:
		return gorm.Open(postgres.Open(cfg.DBDsn), &gorm.Config{Logger: newLogger, TranslateError: true})
	default:
		return nil, fmt.Errorf("unsupported DB_DIALECT: %s", cfg.DBDialect)
	}
}

// AutoMigrate runs database migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&models.Notification{},
		&models.Transaction{},
		&models.SessionResult{},
		&models.PartyVote{},
		&models.VoterProfile{},
	)
}
