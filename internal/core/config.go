package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime configuration sourced from the environment.
type Config struct {
	// APIKey authenticates requests against the conversation API.
	APIKey string `env:"CONVCACHE_API_KEY"`

	// BaseURL overrides the default API endpoint (mainly for testing).
	BaseURL string `env:"CONVCACHE_API_URL"`

	// Owner is the default owner identifier used for cache keys and API
	// queries when --owner is not given.
	Owner string `env:"CONVCACHE_OWNER"`

	// Dir is the root directory for both cache tiers.
	// Defaults to ~/.convcache.
	Dir string `env:"CONVCACHE_DIR"`

	// FlatQuotaBytes is the total capacity of the flat (fallback) tier.
	FlatQuotaBytes int64 `env:"CONVCACHE_FLAT_QUOTA" envDefault:"10485760"`

	// Timezone used for date calculations.
	Timezone string `env:"CONVCACHE_TZ"`
}

// LoadConfig parses configuration from environment variables and fills in
// derived defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("%s/%s", APIBaseURL, APIVersion)
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultCacheRoot()
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTZ
	}
	return cfg, nil
}

// DefaultCacheRoot returns the default directory for cache storage.
func DefaultCacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".convcache")
}
