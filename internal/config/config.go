// Package config defines the process surface: bind address, ping
// interval, frame limits, idle-detector timings, plus the ambient
// fields every complete deployment needs (logging, optional NATS
// bridge, Prometheus, connection admission).
//
// Uses github.com/caarlos0/env/v11 struct tags, an optional .env
// preload via github.com/joho/godotenv, and a Validate() pass executed
// once at startup.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config is the full process configuration surface.
type Config struct {
	// Transport
	Addr           string        `env:"CHAT_ADDR" envDefault:":8080"`
	PingInterval   time.Duration `env:"CHAT_PING_INTERVAL" envDefault:"30s"`
	MaxFrameSize   int           `env:"CHAT_MAX_FRAME_SIZE" envDefault:"512"`
	GroupName      string        `env:"CHAT_GROUP_NAME" envDefault:"~"`
	HistoryCapacity int          `env:"CHAT_HISTORY_CAPACITY" envDefault:"255"`

	// Idle detector
	IdleCheckPeriod  time.Duration `env:"CHAT_IDLE_CHECK_PERIOD" envDefault:"3s"`
	IdleThreshold    time.Duration `env:"CHAT_IDLE_THRESHOLD" envDefault:"5s"`

	// Connection admission (internal/admission)
	MaxConnections        int     `env:"CHAT_MAX_CONNECTIONS" envDefault:"10000"`
	ConnRateLimitPerSec    float64 `env:"CHAT_CONN_RATE_PER_SEC" envDefault:"50"`
	ConnRateBurst          int     `env:"CHAT_CONN_RATE_BURST" envDefault:"100"`
	ConnRateLimitPerIPRate float64 `env:"CHAT_CONN_RATE_PER_IP" envDefault:"5"`
	ConnRateLimitPerIPBurst int    `env:"CHAT_CONN_RATE_PER_IP_BURST" envDefault:"10"`

	// Optional cross-process bridge (internal/bridge, out-of-core collaborator)
	NATSURL string `env:"CHAT_NATS_URL" envDefault:""`

	// Metrics
	MetricsEnabled  bool          `env:"CHAT_METRICS_ENABLED" envDefault:"true"`
	MetricsInterval time.Duration `env:"CHAT_METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"CHAT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"CHAT_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"CHAT_ENVIRONMENT" envDefault:"development"`
}

// Load reads .env (if present), then overlays environment variables,
// and validates the result. Priority: real env vars > .env file >
// struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate enforces the ranges and enum values the process depends on
// at startup.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("CHAT_ADDR is required")
	}
	if len(c.GroupName) != 1 {
		return fmt.Errorf("CHAT_GROUP_NAME must be exactly one byte, got %q", c.GroupName)
	}
	if c.HistoryCapacity < 1 || c.HistoryCapacity > 255 {
		return fmt.Errorf("CHAT_HISTORY_CAPACITY must be in [1, 255], got %d", c.HistoryCapacity)
	}
	if c.MaxFrameSize < 3 {
		return fmt.Errorf("CHAT_MAX_FRAME_SIZE must be at least 3, got %d", c.MaxFrameSize)
	}
	if c.IdleCheckPeriod <= 0 {
		return fmt.Errorf("CHAT_IDLE_CHECK_PERIOD must be > 0, got %s", c.IdleCheckPeriod)
	}
	if c.IdleThreshold <= 0 {
		return fmt.Errorf("CHAT_IDLE_THRESHOLD must be > 0, got %s", c.IdleThreshold)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("CHAT_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("CHAT_LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("CHAT_LOG_FORMAT must be one of json/pretty, got %q", c.LogFormat)
	}

	return nil
}

// LogConfig emits the loaded configuration as a single structured log
// line, field by field.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Dur("ping_interval", c.PingInterval).
		Int("max_frame_size", c.MaxFrameSize).
		Str("group_name", c.GroupName).
		Int("history_capacity", c.HistoryCapacity).
		Dur("idle_check_period", c.IdleCheckPeriod).
		Dur("idle_threshold", c.IdleThreshold).
		Int("max_connections", c.MaxConnections).
		Bool("nats_bridge_enabled", c.NATSURL != "").
		Bool("metrics_enabled", c.MetricsEnabled).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
