package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected driver %q", cfg.Storage.Driver)
	}
	if cfg.Cache.TTL != 300*time.Second {
		t.Fatalf("unexpected ttl %s", cfg.Cache.TTL)
	}
	if cfg.Realtime.BufferSize != 16 {
		t.Fatalf("unexpected buffer size %d", cfg.Realtime.BufferSize)
	}
	if cfg.Metrics.Backend != "prometheus" {
		t.Fatalf("unexpected metrics backend %q", cfg.Metrics.Backend)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  addr: ":9999"
storage:
  driver: memory
cache:
  size: 64
  ttl: 30s
metrics:
  backend: expvar
log:
  level: debug
  format: json
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("unexpected driver %q", cfg.Storage.Driver)
	}
	if cfg.Cache.Size != 64 || cfg.Cache.TTL != 30*time.Second {
		t.Fatalf("unexpected cache settings %+v", cfg.Cache)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("unexpected log format %q", cfg.Log.Format)
	}
	if cfg.Metrics.Backend != "expvar" {
		t.Fatalf("unexpected metrics backend %q", cfg.Metrics.Backend)
	}
	// Untouched keys keep their defaults.
	if cfg.Storage.SQLitePath != "./carecore.db" {
		t.Fatalf("unexpected sqlite path %q", cfg.Storage.SQLitePath)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CARECORE_STORAGE_DRIVER", "postgres")
	t.Setenv("CARECORE_STORAGE_POSTGRES_DSN", "postgres://db.internal/care")
	t.Setenv("CARECORE_CACHE_TTL", "2m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Fatalf("unexpected driver %q", cfg.Storage.Driver)
	}
	if cfg.Storage.PostgresDSN != "postgres://db.internal/care" {
		t.Fatalf("unexpected dsn %q", cfg.Storage.PostgresDSN)
	}
	if cfg.Cache.TTL != 2*time.Minute {
		t.Fatalf("unexpected ttl %s", cfg.Cache.TTL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("CARECORE_STORAGE_DRIVER", "dynamo")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestLoadRejectsUnknownMetricsBackend(t *testing.T) {
	t.Setenv("CARECORE_METRICS_BACKEND", "statsd")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for unknown metrics backend")
	}
}
