package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"ballotwatch/internal/config"
	"ballotwatch/internal/coordinator"
	dbpkg "ballotwatch/internal/db"
	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
	"ballotwatch/internal/ledger/comet"
	"ballotwatch/internal/ledger/evm"
	"ballotwatch/internal/ledger/memory"
)

// memorySigner is the admin of the in-process ledger when no viewer is
// configured.
const memorySigner = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func loadConfig() (config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openLogFile returns the debug log destination. Debug logs go to a file so
// they do not interfere with the dashboard.
func openLogFile(cfg config.Config) io.Writer {
	if !cfg.Debug {
		return io.Discard
	}
	logFile, err := os.OpenFile("ballotwatch.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open log file, logs will go to stderr (may interfere with TUI): %v\n", err)
		return os.Stderr
	}
	fmt.Fprintf(os.Stderr, "Debug logs written to ballotwatch.log\n")
	return logFile
}

func openLedger(ctx context.Context, cfg config.Config, log zerolog.Logger) (ledger.Ledger, error) {
	switch cfg.Backend {
	case config.BackendEVM:
		return evm.Dial(ctx, evm.Config{
			RPCURL:       cfg.RPCURL,
			Contract:     cfg.Contract,
			ChainID:      cfg.ChainID,
			PrivateKey:   cfg.PrivateKey,
			PollInterval: cfg.PollInterval,
		}, log)
	case config.BackendComet:
		return comet.Dial(ctx, comet.Config{
			RPCURL:       cfg.RPCURL,
			WSPath:       cfg.WSPath,
			PrivateKey:   cfg.PrivateKey,
			PollInterval: cfg.PollInterval,
		}, log)
	case config.BackendMemory:
		signer := cfg.Viewer
		if signer == "" {
			signer = memorySigner
		}
		log.Warn().Str("admin", signer).Msg("using the in-process ledger; nothing is persisted on chain")
		return memory.New(signer), nil
	}
	return nil, config.ErrUnknownBackend
}

// viewerFor resolves the identity the session follows: the configured
// viewer, else the ledger's signing account.
func viewerFor(cfg config.Config, l ledger.Ledger) election.ViewerIdentity {
	addr := cfg.Viewer
	if addr == "" {
		addr = l.Viewer()
	}
	return election.ViewerIdentity{Connected: addr != "", Address: addr}
}

func openDatabase(cfg config.Config, log zerolog.Logger) (*gorm.DB, error) {
	gormDB, err := dbpkg.Open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if gormDB == nil {
		log.Info().Msg("DATABASE_URL not provided, persistence disabled")
		return nil, nil
	}
	log.Info().Msg("DB connected")
	if err := dbpkg.AutoMigrate(gormDB); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Msg("Migrations applied")
	return gormDB, nil
}

func closeDatabase(gormDB *gorm.DB) {
	if gormDB == nil {
		return
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func newSession(l ledger.Ledger, cfg config.Config, log zerolog.Logger) *coordinator.Session {
	return coordinator.New(l, log, coordinator.Options{RetryDelay: cfg.RetryDelay})
}
