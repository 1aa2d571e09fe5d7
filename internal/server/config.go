// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/store"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay settings. It is loaded once at startup and passed to
// the hub explicitly.
type Config struct {
	Port                    string         `envconfig:"PORT" default:"3000"`
	AllowedOrigins          []string       `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	MaxMessageSize          int64          `envconfig:"MAX_MESSAGE_SIZE" default:"4096"`
	RateLimitBurst          int            `envconfig:"RATE_LIMIT_BURST" default:"5"`
	RateLimitRefillInterval time.Duration  `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
	SendBufferSize          int            `envconfig:"SEND_BUFFER_SIZE" default:"256"`
	OverflowPolicy          OverflowPolicy `envconfig:"OVERFLOW_POLICY" default:"drop"`
	HistoryLimit            int            `envconfig:"HISTORY_LIMIT" default:"50"`
	HistoryOnConnect        bool           `envconfig:"HISTORY_ON_CONNECT" default:"true"`
	StoreDriver             string         `envconfig:"STORE_DRIVER" default:"sqlite"`
	StoreDSN                string         `envconfig:"STORE_DSN" default:"gochat.db"`
	StoreRequired           bool           `envconfig:"STORE_REQUIRED" default:"false"`
	LogMode                 string         `envconfig:"LOG_MODE" default:"development"`
	ShutdownTimeout         time.Duration  `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func defaultConfig() Config {
	return Config{
		Port:                    "3000",
		AllowedOrigins:          []string{"http://localhost:3000"},
		MaxMessageSize:          4096,
		RateLimitBurst:          5,
		RateLimitRefillInterval: time.Second,
		SendBufferSize:          256,
		OverflowPolicy:          OverflowDrop,
		HistoryLimit:            chat.DefaultHistoryLimit,
		HistoryOnConnect:        true,
		StoreDriver:             store.DriverSQLite,
		StoreDSN:                "gochat.db",
		LogMode:                 "development",
		ShutdownTimeout:         10 * time.Second,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads the configuration from the environment, after seeding it
// from a .env file when one exists.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	sanitized := sanitizeConfig(cfg)
	return &sanitized, nil
}

// sanitizeConfig replaces missing or non-positive values with defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	cfg.Port = strings.TrimPrefix(strings.TrimSpace(cfg.Port), ":")
	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = def.RateLimitBurst
	}
	if cfg.RateLimitRefillInterval <= 0 {
		cfg.RateLimitRefillInterval = def.RateLimitRefillInterval
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	switch cfg.OverflowPolicy {
	case OverflowDrop, OverflowDisconnect:
	default:
		cfg.OverflowPolicy = def.OverflowPolicy
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = def.StoreDriver
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Addr returns the listen address for http.Server.
func (c Config) Addr() string {
	return ":" + c.Port
}

// RateLimit returns the per-connection rate limiting parameters.
func (c Config) RateLimit() RateLimitConfig {
	return RateLimitConfig{Burst: c.RateLimitBurst, RefillInterval: c.RateLimitRefillInterval}
}

// StoreConfig returns the parameters for store.Open.
func (c Config) StoreConfig() store.Config {
	return store.Config{Driver: c.StoreDriver, DSN: c.StoreDSN, HistoryLimit: c.HistoryLimit}
}
