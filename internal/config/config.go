// Package config reads the process configuration from the environment.
// Secrets are not configuration: they live in SSM under ParamPrefix.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the environment driven configuration shared by the webhook
// Lambda, the sweeper and the dev server.
type Config struct {
	StateTable   string        `env:"STATE_TABLE,required"`
	ParamPrefix  string        `env:"PARAM_PREFIX,required"`
	MediaBucket  string        `env:"MEDIA_BUCKET"`
	GraphBaseURL string        `env:"GRAPH_BASE_URL" envDefault:"https://graph.facebook.com/v18.0"`
	StateTTL     time.Duration `env:"STATE_TTL" envDefault:"1h"`
	GraphTimeout time.Duration `env:"GRAPH_TIMEOUT" envDefault:"10s"`
	DevAddr      string        `env:"DEV_ADDR" envDefault:":8080"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if cfg.ParamPrefix == "" {
		return nil, fmt.Errorf("PARAM_PREFIX must not be empty")
	}
	if strings.TrimSpace(cfg.StateTable) == "" {
		return nil, fmt.Errorf("STATE_TABLE must not be empty")
	}
	if cfg.StateTTL <= 0 {
		return nil, fmt.Errorf("STATE_TTL must be positive, got %s", cfg.StateTTL)
	}
	if cfg.GraphTimeout <= 0 {
		return nil, fmt.Errorf("GRAPH_TIMEOUT must be positive, got %s", cfg.GraphTimeout)
	}
	return cfg, nil
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
