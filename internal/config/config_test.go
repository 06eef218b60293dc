package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Cache.Prefix != "umbra:cache" {
		t.Fatalf("unexpected default prefix %q", cfg.Cache.Prefix)
	}
	if cfg.Cache.DefaultTTLSeconds != 300 {
		t.Fatalf("unexpected default TTL %d", cfg.Cache.DefaultTTLSeconds)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"server":{"addr":":9090"},"cache":{"backend":"memory","prefix":"app","default_ttl_seconds":60,"health_floor":50}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg := DefaultConfig()
	if err := LoadFromFile(cfg, path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Cache.Backend != "memory" || cfg.Cache.Prefix != "app" {
		t.Fatalf("file values not merged: %+v", cfg)
	}
	// Untouched sections keep their defaults.
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("defaults clobbered: %+v", cfg.Redis)
	}

	if err := LoadFromFile(cfg, filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("UMBRA_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("UMBRA_CACHE_TTL", "120")
	t.Setenv("UMBRA_LOG_FORMAT", "json")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Fatalf("env addr not applied: %q", cfg.Redis.Addr)
	}
	if cfg.Cache.DefaultTTLSeconds != 120 {
		t.Fatalf("env TTL not applied: %d", cfg.Cache.DefaultTTLSeconds)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("env log format not applied: %q", cfg.Logging.Format)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Backend = "memcached"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown backend should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Cache.DefaultTTLSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero TTL should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Cache.HealthFloor = 150
	if err := cfg.Validate(); err == nil {
		t.Fatal("out-of-range health floor should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Redis.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("redis backend without address should fail validation")
	}
}
