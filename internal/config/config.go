// Package config loads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"ballotwatch/internal/election"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"

	BackendEVM    = "evm"
	BackendComet  = "comet"
	BackendMemory = "memory"
)

var (
	ErrMissingRPCURL   = errors.New("RPC_URL is required")
	ErrMissingContract = errors.New("CONTRACT_ADDRESS is required for the evm backend")
	ErrUnknownBackend  = errors.New("LEDGER_BACKEND must be evm, comet or memory")
	ErrBadContract     = errors.New("CONTRACT_ADDRESS is not a valid address")
)

// Config is immutable after Load.
type Config struct {
	Backend    string
	RPCURL     string
	WSPath     string // comet only
	Contract   string // evm only
	ChainID    uint64 // evm only; 0 asks the node
	PrivateKey string
	// Viewer overrides the viewer address; defaults to the signer.
	Viewer       string
	PollInterval time.Duration
	RetryDelay   time.Duration

	DBDialect string // postgres only
	DBDsn     string // DSN string passed to GORM driver

	StatusAddr string // optional status API listen address, e.g. :8080
	Debug      bool   // if true: show logs, no TUI; if false: no logs, show TUI
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %s\n", key, v, def)
		return def
	}
	return d
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

// Load reads the configuration. Call Validate before use.
func Load() Config {
	cfg := Config{
		Backend:      strings.ToLower(getenv("LEDGER_BACKEND", BackendEVM)),
		RPCURL:       getenv("RPC_URL", "ws://localhost:8546"),
		WSPath:       getenv("WS_PATH", "/websocket"),
		Contract:     strings.TrimSpace(os.Getenv("CONTRACT_ADDRESS")),
		PrivateKey:   strings.TrimSpace(os.Getenv("PRIVATE_KEY")),
		Viewer:       strings.TrimSpace(os.Getenv("VIEWER_ADDRESS")),
		PollInterval: getenvDuration("POLL_INTERVAL", 2*time.Second),
		RetryDelay:   getenvDuration("SUBSCRIBE_RETRY", 3*time.Second),
		StatusAddr:   os.Getenv("STATUS_ADDR"),
		Debug:        getenvBool("DEBUG", false),
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ChainID = id
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid CHAIN_ID %q, asking the node\n", v)
		}
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, disabling persistence: %v\n", err)
		}
	}

	return cfg
}

// Validate checks the settings the selected backend needs.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendEVM:
		if c.RPCURL == "" {
			return ErrMissingRPCURL
		}
		if c.Contract == "" {
			return ErrMissingContract
		}
		if !election.IsAddress(c.Contract) {
			return ErrBadContract
		}
	case BackendComet:
		if c.RPCURL == "" {
			return ErrMissingRPCURL
		}
	default:
		return ErrUnknownBackend
	}
	if c.Viewer != "" && !election.IsAddress(c.Viewer) {
		return fmt.Errorf("VIEWER_ADDRESS %q is not a valid address", c.Viewer)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("backend=%s rpc=%s db=%s", c.Backend, c.RPCURL, c.DBDialect)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"backend=%s rpc=%s ws_path=%s contract=%s chain_id=%d key=%s db=%s dsn=%s status=%s",
		c.Backend,
		c.RPCURL,
		c.WSPath,
		c.Contract,
		c.ChainID,
		maskKey(c.PrivateKey),
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		c.StatusAddr,
	)
}

func maskKey(k string) string {
	if k == "" {
		return ""
	}
	return "***"
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
