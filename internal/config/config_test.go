package config

import (
	"testing"
	"time"
)

func TestLoadAPIFromEnvDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/corpsim")
	t.Setenv("CORPSIM_ADMIN_TOKEN", "sekrit")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr: got %q", cfg.Addr)
	}
	if cfg.MarketTTL != 5*time.Second {
		t.Fatalf("ttl: got %v", cfg.MarketTTL)
	}
	if cfg.PriceEpsilon != 0.01 || cfg.MaxScarcity != 10 {
		t.Fatalf("pricing tunables: eps=%v cap=%v", cfg.PriceEpsilon, cfg.MaxScarcity)
	}
	if !cfg.StartupSeed {
		t.Fatalf("startup seed should default on")
	}
}

func TestLoadAPIFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/corpsim")
	t.Setenv("CORPSIM_ADMIN_TOKEN", "sekrit")
	t.Setenv("PORT", "9090")
	t.Setenv("CORPSIM_MARKET_TTL", "30s")
	t.Setenv("CORPSIM_MAX_SCARCITY", "0")
	t.Setenv("CORPSIM_STARTUP_SEED", "false")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr: got %q", cfg.Addr)
	}
	if cfg.MarketTTL != 30*time.Second {
		t.Fatalf("ttl: got %v", cfg.MarketTTL)
	}
	if cfg.MaxScarcity != 0 {
		t.Fatalf("scarcity cap: got %v", cfg.MaxScarcity)
	}
	if cfg.StartupSeed {
		t.Fatalf("startup seed should be off")
	}
}

func TestLoadAPIFromEnvRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CORPSIM_ADMIN_TOKEN", "")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected missing DATABASE_URL to fail")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/corpsim")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected missing admin token to fail")
	}
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/corpsim")
	t.Setenv("CORPSIM_AUDIT_EVERY", "1m")
	t.Setenv("CORPSIM_WORKER_RUN_ONCE", "true")

	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuditEvery != time.Minute {
		t.Fatalf("audit interval: got %v", cfg.AuditEvery)
	}
	if !cfg.RunOnce {
		t.Fatalf("run once flag not read")
	}
}

func TestEnvDurationDefaultBadValue(t *testing.T) {
	t.Setenv("CORPSIM_MARKET_TTL", "not-a-duration")
	if got := envDurationDefault("CORPSIM_MARKET_TTL", 5*time.Second); got != 5*time.Second {
		t.Fatalf("bad value should fall back: got %v", got)
	}
}
