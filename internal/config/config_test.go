package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"LEDGER_BACKEND", "RPC_URL", "WS_PATH", "CONTRACT_ADDRESS", "CHAIN_ID",
		"PRIVATE_KEY", "VIEWER_ADDRESS", "POLL_INTERVAL", "SUBSCRIBE_RETRY",
		"DATABASE_URL", "STATUS_ADDR", "DEBUG",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	assert.Equal(t, BackendEVM, cfg.Backend)
	assert.Equal(t, "ws://localhost:8546", cfg.RPCURL)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.RetryDelay)
	assert.False(t, cfg.Debug)
	assert.Empty(t, cfg.DBDialect)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingContract)
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEDGER_BACKEND", "EVM")
	t.Setenv("CONTRACT_ADDRESS", " 0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed ")
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("SUBSCRIBE_RETRY", "bogus")
	t.Setenv("DATABASE_URL", "postgres://vote:secret@db:5432/ballots")
	t.Setenv("PRIVATE_KEY", "0xabc")
	t.Setenv("DEBUG", "yes")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(31337), cfg.ChainID)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.RetryDelay)
	assert.Equal(t, DatabaseSchemePostgres, cfg.DBDialect)
	assert.True(t, cfg.Debug)

	s := cfg.DebugString()
	assert.NotContains(t, s, "secret")
	assert.NotContains(t, s, "0xabc")
	assert.Contains(t, s, "postgres://vote@db:5432/ballots")
}

func TestLoad_UnsupportedDatabaseDisablesPersistence(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "mysql://root@localhost/x")
	cfg := Load()
	assert.Empty(t, cfg.DBDialect)
	assert.Empty(t, cfg.DBDsn)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want error
	}{
		{"memory needs nothing", Config{Backend: BackendMemory}, nil},
		{"comet needs rpc", Config{Backend: BackendComet}, ErrMissingRPCURL},
		{"comet ok", Config{Backend: BackendComet, RPCURL: "http://localhost:26657"}, nil},
		{"bad contract", Config{Backend: BackendEVM, RPCURL: "ws://x", Contract: "0x12"}, ErrBadContract},
		{"unknown backend", Config{Backend: "solana"}, ErrUnknownBackend},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}

	err := Config{Backend: BackendComet, RPCURL: "http://x", Viewer: "nope"}.Validate()
	assert.Error(t, err)
}

func TestMaskDSN_KeyValue(t *testing.T) {
	got := maskDSN(DatabaseSchemePostgres, "host=db user=vote password=secret dbname=ballots")
	assert.Equal(t, "host=db user=vote password=*** dbname=ballots", got)
}
