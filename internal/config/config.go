// Package config loads the environment-variable configuration for the
// watch-together client: the server endpoint, auth token, display name, and
// the tunable deadlines/intervals the spec calls out as configuration
// points rather than hardcoded constants.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all client configuration.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// Endpoint is the server address, accepted as a bare host[:port] or a
	// ws://, wss://, http://, https:// URL; see internal/transport.
	Endpoint string `env:"WT_ENDPOINT" envDefault:"localhost:8080"`
	Token    string `env:"WT_TOKEN"`
	Name     string `env:"WT_NAME" envDefault:"anonymous"`

	RequestDeadline         time.Duration `env:"WT_REQUEST_DEADLINE" envDefault:"10s"`
	ReferenceSampleInterval time.Duration `env:"WT_REFERENCE_SAMPLE_INTERVAL" envDefault:"15s"`
	PlayerDriftThresholdMs  int64         `env:"WT_PLAYER_DRIFT_THRESHOLD_MS" envDefault:"1000"`
	SeekRateLimitInterval   time.Duration `env:"WT_SEEK_RATE_LIMIT_INTERVAL" envDefault:"500ms"`

	ReconnectMinBackoff time.Duration `env:"WT_RECONNECT_MIN_BACKOFF" envDefault:"500ms"`
	ReconnectMaxBackoff time.Duration `env:"WT_RECONNECT_MAX_BACKOFF" envDefault:"30s"`

	LogLevel  string `env:"WT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"WT_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a local .env file (best-effort — missing is
// fine) and then environment variables, applying defaults for anything
// unset, and validates the result.
func Load() (Config, error) {
	// Best-effort: a missing .env file is the common case outside development.
	_ = godotenv.Load()

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for internally-inconsistent or nonsensical
// values.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("WT_ENDPOINT is required")
	}
	if c.RequestDeadline <= 0 {
		return fmt.Errorf("WT_REQUEST_DEADLINE must be > 0, got %s", c.RequestDeadline)
	}
	if c.ReferenceSampleInterval <= 0 {
		return fmt.Errorf("WT_REFERENCE_SAMPLE_INTERVAL must be > 0, got %s", c.ReferenceSampleInterval)
	}
	if c.PlayerDriftThresholdMs < 0 {
		return fmt.Errorf("WT_PLAYER_DRIFT_THRESHOLD_MS must be >= 0, got %d", c.PlayerDriftThresholdMs)
	}
	if c.ReconnectMaxBackoff < c.ReconnectMinBackoff {
		return fmt.Errorf("WT_RECONNECT_MAX_BACKOFF (%s) must be >= WT_RECONNECT_MIN_BACKOFF (%s)",
			c.ReconnectMaxBackoff, c.ReconnectMinBackoff)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("WT_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("WT_LOG_FORMAT must be one of json, pretty (got %q)", c.LogFormat)
	}
	return nil
}
