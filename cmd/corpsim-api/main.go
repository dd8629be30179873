package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"corpsim/internal/api"
	"corpsim/internal/auditlog"
	"corpsim/internal/config"
	"corpsim/internal/db"
	"corpsim/internal/sim"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	configs := sim.NewConfigStore(pool, logger)
	if cfg.StartupSeed {
		if err := configs.SeedDefaults(ctx); err != nil {
			logger.Error("seed defaults failed", "err", err)
			os.Exit(1)
		}
	}

	audit, err := auditlog.NewFileSink(cfg.AuditLogPath)
	if err != nil {
		logger.Error("audit sink init failed", "err", err)
		os.Exit(1)
	}

	store := sim.NewStore(pool, logger)
	pricer := sim.Pricer{Epsilon: cfg.PriceEpsilon, MaxScarcity: cfg.MaxScarcity}
	market := sim.NewMarketData(configs, store, pricer, cfg.MarketTTL, audit, logger, nil)

	params := sim.DefaultValuationParams()
	params.EarningsMultiple = cfg.EarningsMult
	params.DividendYieldTarget = cfg.DividendTarget
	valuation := sim.NewValuationEngine(store, store, params, logger)

	server := api.New(cfg, logger, store, configs, market, valuation)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("corpsim api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
