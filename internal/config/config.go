package config

import (
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the holdings engine.
type Config struct {
	Environment string         `toml:"environment"`
	Server      ServerConfig   `toml:"server"`
	Database    DatabaseConfig `toml:"database"`
	Auth        AuthConfig     `toml:"auth"`
	Pricing     PricingConfig  `toml:"pricing"`
	Snapshot    SnapshotConfig `toml:"snapshot"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `toml:"port"`
}

// DatabaseConfig holds the SQLite database path.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// AuthConfig holds JWT signing configuration.
type AuthConfig struct {
	JWTSecret   string `toml:"jwt_secret"`
	TokenExpiry string `toml:"token_expiry"` // duration string, default "24h"
}

// GetTokenExpiry parses and returns the token expiry duration.
func (c *AuthConfig) GetTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.TokenExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// PricingConfig holds price resolver configuration.
type PricingConfig struct {
	StalenessWindow string `toml:"staleness_window"` // duration string, default "72h"
}

// GetStalenessWindow parses and returns the staleness window duration.
func (c *PricingConfig) GetStalenessWindow() time.Duration {
	d, err := time.ParseDuration(c.StalenessWindow)
	if err != nil {
		return 72 * time.Hour
	}
	return d
}

// SnapshotConfig holds snapshot processor configuration.
type SnapshotConfig struct {
	Interval     string `toml:"interval"` // duration string, default "5m"
	BaseCurrency string `toml:"base_currency"`
}

// GetInterval parses and returns the processing interval.
func (c *SnapshotConfig) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server:      ServerConfig{Port: "8080"},
		Database:    DatabaseConfig{Path: "holdings.db"},
		Auth:        AuthConfig{JWTSecret: "holdings-secret-key", TokenExpiry: "24h"},
		Pricing:     PricingConfig{StalenessWindow: "72h"},
		Snapshot:    SnapshotConfig{Interval: "5m", BaseCurrency: "USD"},
	}
}

// Load reads configuration from the TOML file named by CONFIG_FILE (default
// config.toml), then applies environment overrides. A missing file is not an
// error; defaults apply.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.toml"
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Environment overrides
	if v := os.Getenv("ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	return cfg, nil
}
