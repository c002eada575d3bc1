package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplateParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, AuthModePassword, cfg.Auth.Mode)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 20.0, cfg.RateLimit.RPS)
	assert.Empty(t, cfg.Webhooks)
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
auth:
  mode: delegated
  delegated:
    issuer: platform
    secret: s3cret
webhooks:
  - url: http://localhost:9000/hook
    events: [task.approved]
`))
	require.NoError(t, err)
	assert.Equal(t, AuthModeDelegated, cfg.Auth.Mode)
	assert.Equal(t, "platform", cfg.Auth.Delegated.Issuer)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"task.approved"}, cfg.Webhooks[0].Events)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown mode":     "auth:\n  mode: oauth\n",
		"delegated issuer": "auth:\n  mode: delegated\n",
		"relative base":    "server:\n  base_path: v0\n",
		"log level":        "log:\n  level: loud\n",
		"burst":            "rate_limit:\n  rps: 5\n  burst: 0\n",
		"webhook url":      "webhooks:\n  - secret: x\n",
		"negative ttl":     "auth:\n  session_ttl: -1h\n",
		"malformed yaml":   "server: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, AuthModePassword, cfg.Auth.Mode)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(Path(dir), []byte("server:\n  addr: 0.0.0.0:9999\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Addr)
}
