// Package config loads the umbra daemon configuration from defaults, an
// optional JSON file, and UMBRA_* environment overrides, in that order.
// Validation failures surface here, at startup, never at request time.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// CacheConfig holds cache layer settings.
type CacheConfig struct {
	// Backend selects the store: "redis" or "memory".
	Backend string `json:"backend"`
	// Prefix namespaces every key this instance writes.
	Prefix string `json:"prefix"`
	// DefaultTTLSeconds applies to writes without an explicit TTL.
	DefaultTTLSeconds int `json:"default_ttl_seconds"`
	// HealthFloor is the minimum hit-rate percentage for the health
	// endpoint to report a useful cache.
	HealthFloor float64 `json:"health_floor"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// LoggingConfig holds operational logging settings.
type LoggingConfig struct {
	Format string `json:"format"` // "text" or "json"
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	Enabled    bool    `json:"enabled"`
	Exporter   string  `json:"exporter"` // "otlp-http" or "stdout"
	Endpoint   string  `json:"endpoint"`
	SampleRate float64 `json:"sample_rate"`
}

// Config is the central configuration struct.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Redis     RedisConfig     `json:"redis"`
	Cache     CacheConfig     `json:"cache"`
	Logging   LoggingConfig   `json:"logging"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
		},
		Cache: CacheConfig{
			Backend:           "redis",
			Prefix:            "umbra:cache",
			DefaultTTLSeconds: 300,
			HealthFloor:       50,
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			Exporter:   "otlp-http",
			Endpoint:   "localhost:4318",
			SampleRate: 1.0,
		},
	}
}

// LoadFromFile merges a JSON config file over cfg.
func LoadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv merges UMBRA_* environment variables over cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("UMBRA_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("UMBRA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("UMBRA_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("UMBRA_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("UMBRA_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("UMBRA_CACHE_PREFIX"); v != "" {
		cfg.Cache.Prefix = v
	}
	if v := os.Getenv("UMBRA_CACHE_TTL"); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DefaultTTLSeconds = ttl
		}
	}
	if v := os.Getenv("UMBRA_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("UMBRA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("UMBRA_TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("UMBRA_TELEMETRY_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
}

// Validate rejects configurations that cannot work. Called once at startup.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("config: default TTL must be positive, got %d", c.Cache.DefaultTTLSeconds)
	}
	if c.Cache.HealthFloor < 0 || c.Cache.HealthFloor > 100 {
		return fmt.Errorf("config: health floor must be within [0, 100], got %f", c.Cache.HealthFloor)
	}
	if c.Cache.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis backend requires an address")
	}
	return nil
}
