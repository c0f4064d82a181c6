// Package config defines the exchange server configuration and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CLOB_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Engine   EngineConfig   `toml:"engine"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	IdleTimeout     duration `toml:"idle_timeout"`
	RequestTimeout  duration `toml:"request_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	CORSOrigins     []string `toml:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty DSN runs
// the server on the in-memory store.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis parameters for the read-through cache and the
// ledger event channels. An empty Addr disables both.
type RedisConfig struct {
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	PoolSize      int      `toml:"pool_size"`
	CacheTTL      duration `toml:"cache_ttl"`
	PublishEvents bool     `toml:"publish_events"`
}

// EngineConfig holds matching-engine parameters. The exposure caps bound a
// user's open order notional; zero disables a cap.
type EngineConfig struct {
	DefaultBookDepth    int     `toml:"default_book_depth"`
	DefaultSpreadBps    int64   `toml:"default_spread_bps"`
	MaxMarketExposure   float64 `toml:"max_market_exposure"`
	MaxCategoryExposure float64 `toml:"max_category_exposure"`
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Defaults returns the built-in configuration, suitable for local
// development without a TOML file.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{10 * time.Second},
			IdleTimeout:     duration{60 * time.Second},
			RequestTimeout:  duration{30 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			DB:            0,
			PoolSize:      20,
			CacheTTL:      duration{30 * time.Second},
			PublishEvents: true,
		},
		Engine: EngineConfig{
			DefaultBookDepth: 20,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency. All problems
// are reported together so operators fix a config file in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Database.DSN != "" {
		if c.Database.PoolMaxConns <= 0 {
			errs = append(errs, "database: pool_max_conns must be positive")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be in [0, pool_max_conns]")
		}
	}
	if c.Redis.Addr != "" && c.Redis.CacheTTL.Duration <= 0 {
		errs = append(errs, "redis: cache_ttl must be positive when redis is enabled")
	}
	if c.Engine.DefaultBookDepth < 0 {
		errs = append(errs, "engine: default_book_depth must be non-negative")
	}
	if c.Engine.DefaultSpreadBps < 0 || c.Engine.DefaultSpreadBps >= 10000 {
		errs = append(errs, "engine: default_spread_bps must be in [0, 10000)")
	}
	if c.Engine.MaxMarketExposure < 0 || c.Engine.MaxCategoryExposure < 0 {
		errs = append(errs, "engine: exposure caps must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogLevelValue maps the configured level onto slog's numeric levels.
func (c *Config) LogLevelValue() int {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return -4
	case "warn":
		return 4
	case "error":
		return 8
	default:
		return 0
	}
}

// duration wraps time.Duration for TOML decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
