package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type APIConfig struct {
	Addr        string
	DatabaseURL string
	AdminToken  string

	MarketTTL      time.Duration
	PriceEpsilon   float64
	MaxScarcity    float64
	AuditLogPath   string
	StartupSeed    bool
	EarningsMult   float64
	DividendTarget float64
}

type WorkerConfig struct {
	DatabaseURL  string
	AuditEvery   time.Duration
	AuditLogPath string
	RunOnce      bool

	PriceEpsilon float64
	MaxScarcity  float64
	MarketTTL    time.Duration
}

type CLIConfig struct {
	APIBaseURL string
	AdminToken string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("CORPSIM_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:           addr,
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AdminToken:     strings.TrimSpace(os.Getenv("CORPSIM_ADMIN_TOKEN")),
		MarketTTL:      envDurationDefault("CORPSIM_MARKET_TTL", 5*time.Second),
		PriceEpsilon:   envFloatDefault("CORPSIM_PRICE_EPSILON", 0.01),
		MaxScarcity:    envFloatDefault("CORPSIM_MAX_SCARCITY", 10),
		AuditLogPath:   envDefault("CORPSIM_AUDIT_LOG", ""),
		StartupSeed:    envBoolDefault("CORPSIM_STARTUP_SEED", true),
		EarningsMult:   envFloatDefault("CORPSIM_EARNINGS_MULTIPLE", 8),
		DividendTarget: envFloatDefault("CORPSIM_DIVIDEND_YIELD_TARGET", 0.05),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AdminToken == "" {
		return cfg, fmt.Errorf("CORPSIM_ADMIN_TOKEN is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AuditEvery:   envDurationDefault("CORPSIM_AUDIT_EVERY", 5*time.Minute),
		AuditLogPath: envDefault("CORPSIM_AUDIT_LOG", ""),
		RunOnce:      envBoolDefault("CORPSIM_WORKER_RUN_ONCE", false),
		PriceEpsilon: envFloatDefault("CORPSIM_PRICE_EPSILON", 0.01),
		MaxScarcity:  envFloatDefault("CORPSIM_MAX_SCARCITY", 10),
		MarketTTL:    envDurationDefault("CORPSIM_MARKET_TTL", 5*time.Second),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("CORPSIM_API_BASE_URL", "http://localhost:8080"), "/"),
		AdminToken: strings.TrimSpace(os.Getenv("CORPSIM_ADMIN_TOKEN")),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
