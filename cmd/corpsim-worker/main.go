package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"corpsim/internal/auditlog"
	"corpsim/internal/config"
	"corpsim/internal/db"
	"corpsim/internal/sim"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
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

	audit, err := auditlog.NewFileSink(cfg.AuditLogPath)
	if err != nil {
		logger.Error("audit sink init failed", "err", err)
		os.Exit(1)
	}

	configs := sim.NewConfigStore(pool, logger)
	store := sim.NewStore(pool, logger)
	pricer := sim.Pricer{Epsilon: cfg.PriceEpsilon, MaxScarcity: cfg.MaxScarcity}
	market := sim.NewMarketData(configs, store, pricer, cfg.MarketTTL, audit, logger, nil)
	valuation := sim.NewValuationEngine(store, store, sim.DefaultValuationParams(), logger)

	runPass := func(ctx context.Context) error {
		report, err := market.ValidateAndAudit(ctx)
		if err != nil {
			return err
		}
		logger.Info("audit pass complete",
			"run_id", report.RunID,
			"checked", report.CheckedItems,
			"mismatches", len(report.Mismatches))

		ids, err := store.PublicCorporationIDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			v, err := valuation.CalculateStockPrice(ctx, id)
			if err != nil {
				logger.Error("valuation snapshot failed", "corporation_id", id, "err", err)
				continue
			}
			if err := store.AppendPriceQuote(ctx, id, v.CalculatedPrice); err != nil {
				logger.Error("price quote append failed", "corporation_id", id, "err", err)
			}
		}
		logger.Info("valuation snapshots recorded", "corporations", len(ids))
		return nil
	}

	if cfg.RunOnce {
		if err := runPass(ctx); err != nil {
			logger.Error("run-once pass failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.AuditEvery)
	defer ticker.Stop()

	logger.Info("worker started", "audit_every", cfg.AuditEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := runPass(ctx); err != nil {
				logger.Error("worker pass failed", "err", err)
				continue
			}
		}
	}
}
