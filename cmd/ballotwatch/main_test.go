package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotwatch/internal/config"
)

const voter = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"

func memoryEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"RPC_URL", "CONTRACT_ADDRESS", "PRIVATE_KEY", "VIEWER_ADDRESS", "DATABASE_URL", "STATUS_ADDR", "DEBUG"} {
		t.Setenv(k, "")
	}
	t.Setenv("LEDGER_BACKEND", "memory")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"dashboard", "submit", "profile", "history"})
}

func TestSubmit_MemoryLedger(t *testing.T) {
	memoryEnv(t)
	out, err := execute(t, "submit", "register", voter)
	require.NoError(t, err)
	assert.Contains(t, out, "Register Voter confirmed: 0x")
}

func TestSubmit_RejectedByGate(t *testing.T) {
	memoryEnv(t)
	_, err := execute(t, "submit", "vote", "Blue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Vote not allowed")
}

func TestSubmit_BadCommand(t *testing.T) {
	memoryEnv(t)
	_, err := execute(t, "submit", "start", "600")
	assert.Error(t, err)
}

func TestProfileRegister_RequiresDatabase(t *testing.T) {
	memoryEnv(t)
	_, err := execute(t, "profile", "register",
		"--name", "Ada", "--tax-id", "1234", "--email", "ada@example.com", "--address", "12 Square")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestProfileShow_RequiresAddress(t *testing.T) {
	memoryEnv(t)
	_, err := execute(t, "profile", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VIEWER_ADDRESS")

	_, err = execute(t, "profile", "show", voter)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestHistory_RequiresDatabase(t *testing.T) {
	memoryEnv(t)
	_, err := execute(t, "history", "--limit", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--limit")

	_, err = execute(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestViewerFor(t *testing.T) {
	l, err := openLedger(context.Background(), config.Config{Backend: config.BackendMemory}, zerolog.Nop())
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, memorySigner, viewerFor(config.Config{}, l).Address)
	id := viewerFor(config.Config{Viewer: voter}, l)
	assert.True(t, id.HasAddress())
	assert.Equal(t, voter, id.Address)
}
