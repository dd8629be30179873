package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the sim schema and tables if they are missing.
// Statements are idempotent so startup can always run this.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS sim`,
		`CREATE TABLE IF NOT EXISTS sim.sectors (
			name TEXT PRIMARY KEY,
			production_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			retail_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			service_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			extraction_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			produced_product TEXT NOT NULL DEFAULT '',
			primary_resource TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS sim.sector_resources (
			sector_name TEXT NOT NULL REFERENCES sim.sectors(name),
			resource_name TEXT NOT NULL,
			PRIMARY KEY (sector_name, resource_name)
		)`,
		`CREATE TABLE IF NOT EXISTS sim.unit_flows (
			sector_name TEXT NOT NULL REFERENCES sim.sectors(name),
			unit_type TEXT NOT NULL,
			direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
			item_kind TEXT NOT NULL CHECK (item_kind IN ('resource', 'product')),
			item_name TEXT NOT NULL,
			rate_per_hour DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (sector_name, unit_type, direction, item_kind, item_name)
		)`,
		`CREATE TABLE IF NOT EXISTS sim.resources (
			name TEXT PRIMARY KEY,
			base_price_micros BIGINT NOT NULL,
			min_price_micros BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sim.products (
			name TEXT PRIMARY KEY,
			reference_price_micros BIGINT NOT NULL,
			min_price_micros BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sim.corporations (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			capital_micros BIGINT NOT NULL DEFAULT 0,
			debt_micros BIGINT NOT NULL DEFAULT 0,
			total_shares BIGINT NOT NULL,
			public_shares BIGINT NOT NULL DEFAULT 0,
			dividend_bps INTEGER NOT NULL DEFAULT 0,
			trailing_profit_micros BIGINT NOT NULL DEFAULT 0,
			trailing_period_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sim.market_entries (
			id BIGSERIAL PRIMARY KEY,
			corporation_id BIGINT NOT NULL REFERENCES sim.corporations(id),
			state_code TEXT NOT NULL,
			sector_name TEXT NOT NULL REFERENCES sim.sectors(name),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (corporation_id, state_code, sector_name)
		)`,
		`CREATE TABLE IF NOT EXISTS sim.business_units (
			entry_id BIGINT NOT NULL REFERENCES sim.market_entries(id),
			unit_type TEXT NOT NULL,
			unit_count BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (entry_id, unit_type)
		)`,
		`CREATE TABLE IF NOT EXISTS sim.share_trades (
			id BIGSERIAL PRIMARY KEY,
			corporation_id BIGINT NOT NULL REFERENCES sim.corporations(id),
			side TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
			quantity BIGINT NOT NULL,
			price_micros BIGINT NOT NULL,
			traded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS share_trades_corp_time
			ON sim.share_trades (corporation_id, traded_at DESC)`,
		`CREATE TABLE IF NOT EXISTS sim.share_price_history (
			corporation_id BIGINT NOT NULL REFERENCES sim.corporations(id),
			price_micros BIGINT NOT NULL,
			quoted_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sim.idempotency_keys (
			actor TEXT NOT NULL,
			key TEXT NOT NULL,
			action TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (actor, key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
