package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CLOB_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CLOB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "CLOB_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform-provided alias
	setDuration(&cfg.Server.RequestTimeout, "CLOB_SERVER_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "CLOB_SERVER_SHUTDOWN_TIMEOUT")
	setStringSlice(&cfg.Server.CORSOrigins, "CLOB_SERVER_CORS_ORIGINS")

	// ── Database ──
	setStr(&cfg.Database.DSN, "CLOB_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // platform-provided alias
	setInt(&cfg.Database.PoolMaxConns, "CLOB_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "CLOB_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "CLOB_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CLOB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CLOB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CLOB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CLOB_REDIS_POOL_SIZE")
	setDuration(&cfg.Redis.CacheTTL, "CLOB_REDIS_CACHE_TTL")
	setBool(&cfg.Redis.PublishEvents, "CLOB_REDIS_PUBLISH_EVENTS")

	// ── Engine ──
	setInt(&cfg.Engine.DefaultBookDepth, "CLOB_ENGINE_DEFAULT_BOOK_DEPTH")
	setInt64(&cfg.Engine.DefaultSpreadBps, "CLOB_ENGINE_DEFAULT_SPREAD_BPS")
	setFloat64(&cfg.Engine.MaxMarketExposure, "CLOB_ENGINE_MAX_MARKET_EXPOSURE")
	setFloat64(&cfg.Engine.MaxCategoryExposure, "CLOB_ENGINE_MAX_CATEGORY_EXPOSURE")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "CLOB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
