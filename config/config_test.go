package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "fileserve.db", cfg.DatabasePath)
	assert.Equal(t, "id", cfg.Lookup)
	assert.Empty(t, cfg.IgnoredUserAgents)
	assert.Equal(t, 600*time.Second, cfg.TokenValidity())
	assert.False(t, cfg.XSendfile)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestFromReader_JSON(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(`{
		"sqlite": "/var/lib/fileserve/db.sqlite",
		"base_url": "https://files.example.com",
		"lookup": "slug",
		"ignored_user_agents": ["bot", "crawler"],
		"token_validity_period": 120,
		"rate_limit": {"enabled": true, "per_second": 2, "burst": 10},
		"log": {"level": "debug", "format": "console"}
	}`), "json")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/fileserve/db.sqlite", cfg.DatabasePath)
	assert.Equal(t, "https://files.example.com", cfg.BaseURL)
	assert.Equal(t, "slug", cfg.Lookup)
	assert.Equal(t, []string{"bot", "crawler"}, cfg.IgnoredUserAgents)
	assert.Equal(t, 2*time.Minute, cfg.TokenValidity())
	assert.Equal(t, RateLimitConfig{Enabled: true, PerSecond: 2, Burst: 10}, cfg.RateLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "console", cfg.Log.Output)
}

func TestFromReader_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "broken json", body: `{"sqlite": `},
		{name: "unknown lookup", body: `{"lookup": "uuid"}`},
		{name: "bad rate limit", body: `{"rate_limit": {"enabled": true, "burst": 0}}`},
		{name: "bad log level", body: `{"log": {"level": "chatty"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromReader(strings.NewReader(tt.body), "json")
			assert.Error(t, err)
		})
	}
}

func TestValidate_ValidityFallback(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(`{"token_validity_period": 0}`), "json")
	require.NoError(t, err)

	assert.Equal(t, 600, cfg.TokenValidityPeriod)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fileserve.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9000\"\nignored_user_agents:\n  - Googlebot\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, []string{"Googlebot"}, cfg.IgnoredUserAgents)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fileserve.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"token_validity_period": 120}`), 0o644))

	t.Setenv("FILESERVE_TOKEN_VALIDITY_PERIOD", "30")
	t.Setenv("FILESERVE_RATE_LIMIT_BURST", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.TokenValidity())
	assert.Equal(t, 9, cfg.RateLimit.Burst)
}
