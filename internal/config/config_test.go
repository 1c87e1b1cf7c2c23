package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Auth.GetTokenExpiry())
	assert.Equal(t, 72*time.Hour, cfg.Pricing.GetStalenessWindow())
	assert.Equal(t, 5*time.Minute, cfg.Snapshot.GetInterval())
	assert.Equal(t, "USD", cfg.Snapshot.BaseCurrency)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment = "production"

[server]
port = "9090"

[pricing]
staleness_window = "24h"

[snapshot]
interval = "1m"
base_currency = "EUR"
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ENV", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Pricing.GetStalenessWindow())
	assert.Equal(t, time.Minute, cfg.Snapshot.GetInterval())
	assert.Equal(t, "EUR", cfg.Snapshot.BaseCurrency)
	// Untouched sections keep their defaults
	assert.Equal(t, "holdings.db", cfg.Database.Path)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = \"9090\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")
	t.Setenv("JWT_SECRET", "override-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "override-secret", cfg.Auth.JWTSecret)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestMalformedDurationFallsBack(t *testing.T) {
	cfg := AuthConfig{TokenExpiry: "not-a-duration"}
	assert.Equal(t, 24*time.Hour, cfg.GetTokenExpiry())
}
