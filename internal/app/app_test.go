package app

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexusdao/internal/config"
	"nexusdao/internal/identity"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(config.Log{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Info().Msg("dropped")
	log.Warn().Str("k", "v").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "v", line["k"])
	assert.Contains(t, line, "timestamp")
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(config.Log{Level: "loud"}, nil)
	assert.Error(t, err)
}

func TestOpenPasswordMode(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Workspace = t.TempDir()
	cfg.Auth.JWTSecret = "test-secret"

	rt, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, config.AuthModePassword, rt.Resolver.Mode())
	require.NotNil(t, rt.Sessions)
	tasks, err := rt.Query.AllTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestOpenDelegatedMode(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Workspace = t.TempDir()
	cfg.Auth.Mode = config.AuthModeDelegated
	cfg.Auth.Delegated.Issuer = "platform"
	cfg.Auth.Delegated.Secret = "platform-secret"

	rt, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Sessions)
	_, ok := rt.Resolver.(identity.DelegatedResolver)
	assert.True(t, ok)
}

func TestLoadConfigDefaultsWorkspace(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Storage.Workspace)
}
