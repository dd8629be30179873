package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres persistence layer. It implements UnitLedger,
// CorporationStore and TradeLog for the engines, plus the mutations the
// API exposes.
type Store struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewStore(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

// UnitCounts sums built units across every corporation, grouped by sector
// and unit type. This is the census feeding supply/demand aggregation.
func (s *Store) UnitCounts(ctx context.Context) (UnitCounts, error) {
	rows, err := s.db.Query(ctx, `
		SELECT me.sector_name, bu.unit_type, COALESCE(SUM(bu.unit_count), 0)
		FROM sim.business_units bu
		JOIN sim.market_entries me ON me.id = bu.entry_id
		GROUP BY me.sector_name, bu.unit_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(UnitCounts)
	for rows.Next() {
		var sector, unitType string
		var count int64
		if err := rows.Scan(&sector, &unitType, &count); err != nil {
			return nil, err
		}
		counts[FlowKey{Sector: sector, UnitType: UnitType(unitType)}] = count
	}
	return counts, rows.Err()
}

func (s *Store) Financials(ctx context.Context, corporationID int64) (CorporationFinancials, error) {
	var fin CorporationFinancials
	var capitalMicros, debtMicros, profitMicros int64
	err := s.db.QueryRow(ctx, `
		SELECT id, name, capital_micros, debt_micros, total_shares, public_shares,
		       dividend_bps, trailing_profit_micros, trailing_period_hours
		FROM sim.corporations
		WHERE id = $1
	`, corporationID).Scan(&fin.ID, &fin.Name, &capitalMicros, &debtMicros,
		&fin.TotalShares, &fin.PublicShares, &fin.DividendBps,
		&profitMicros, &fin.TrailingPeriodHours)
	if err == pgx.ErrNoRows {
		return fin, ErrCorporationNotFound
	}
	if err != nil {
		return fin, err
	}
	fin.Capital = MicrosToDollars(capitalMicros)
	fin.Debt = MicrosToDollars(debtMicros)
	fin.TrailingProfit = MicrosToDollars(profitMicros)
	return fin, nil
}

func (s *Store) EntriesForCorporation(ctx context.Context, corporationID int64) ([]MarketEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT me.id, me.state_code, me.sector_name,
		       COALESCE(bu.unit_type, ''), COALESCE(bu.unit_count, 0)
		FROM sim.market_entries me
		LEFT JOIN sim.business_units bu ON bu.entry_id = me.id
		WHERE me.corporation_id = $1
		ORDER BY me.id
	`, corporationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MarketEntry
	byID := make(map[int64]int)
	for rows.Next() {
		var id int64
		var state, sector, unitType string
		var count int64
		if err := rows.Scan(&id, &state, &sector, &unitType, &count); err != nil {
			return nil, err
		}
		idx, ok := byID[id]
		if !ok {
			out = append(out, MarketEntry{
				ID:            id,
				CorporationID: corporationID,
				StateCode:     state,
				SectorName:    sector,
				Units:         make(map[UnitType]int64),
			})
			idx = len(out) - 1
			byID[id] = idx
		}
		if unitType != "" {
			out[idx].Units[UnitType(unitType)] = count
		}
	}
	return out, rows.Err()
}

func (s *Store) EntryByID(ctx context.Context, entryID int64) (MarketEntry, error) {
	var entry MarketEntry
	err := s.db.QueryRow(ctx, `
		SELECT id, corporation_id, state_code, sector_name
		FROM sim.market_entries
		WHERE id = $1
	`, entryID).Scan(&entry.ID, &entry.CorporationID, &entry.StateCode, &entry.SectorName)
	if err == pgx.ErrNoRows {
		return entry, ErrEntryNotFound
	}
	if err != nil {
		return entry, err
	}
	entry.Units = make(map[UnitType]int64)
	rows, err := s.db.Query(ctx, `
		SELECT unit_type, unit_count
		FROM sim.business_units
		WHERE entry_id = $1
	`, entryID)
	if err != nil {
		return entry, err
	}
	defer rows.Close()
	for rows.Next() {
		var unitType string
		var count int64
		if err := rows.Scan(&unitType, &count); err != nil {
			return entry, err
		}
		entry.Units[UnitType(unitType)] = count
	}
	return entry, rows.Err()
}

// RecentTrades returns the newest trades for a corporation with their age
// in hours, newest first.
func (s *Store) RecentTrades(ctx context.Context, corporationID int64, limit int) ([]ShareTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT price_micros, quantity,
		       EXTRACT(EPOCH FROM (now() - traded_at)) / 3600.0
		FROM sim.share_trades
		WHERE corporation_id = $1
		ORDER BY traded_at DESC
		LIMIT $2
	`, corporationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ShareTrade
	for rows.Next() {
		var priceMicros int64
		var t ShareTrade
		if err := rows.Scan(&priceMicros, &t.Quantity, &t.AgeHours); err != nil {
			return nil, err
		}
		t.Price = MicrosToDollars(priceMicros)
		out = append(out, t)
	}
	return out, rows.Err()
}

// PublicCorporationIDs lists corporations with publicly held shares, for
// the worker's valuation snapshots.
func (s *Store) PublicCorporationIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM sim.corporations
		WHERE public_shares > 0
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type CreateCorporationInput struct {
	Name           string
	InitialCapital float64
	TotalShares    int64
	PublicShares   int64
	DividendBps    int32
	Actor          string
	IdempotencyKey string
}

func (s *Store) CreateCorporation(ctx context.Context, in CreateCorporationInput) (int64, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || len(in.Name) > 64 {
		return 0, fmt.Errorf("corporation name must be 1-64 characters")
	}
	if in.InitialCapital < 0 {
		return 0, fmt.Errorf("initial capital must be >= 0")
	}
	if in.TotalShares <= 0 {
		in.TotalShares = 1_000_000
	}
	if in.PublicShares < 0 || in.PublicShares > in.TotalShares {
		return 0, fmt.Errorf("public shares must be within [0, total shares]")
	}
	if in.DividendBps < 0 || in.DividendBps > 10_000 {
		return 0, fmt.Errorf("dividend bps must be within [0, 10000]")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if err := claimIdempotency(ctx, tx, in.Actor, in.IdempotencyKey, "create_corporation"); err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO sim.corporations
			(name, capital_micros, debt_micros, total_shares, public_shares,
			 dividend_bps, trailing_profit_micros, trailing_period_hours)
		VALUES ($1, $2, 0, $3, $4, $5, 0, 0)
		RETURNING id
	`, in.Name, DollarsToMicros(in.InitialCapital), in.TotalShares, in.PublicShares, in.DividendBps).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit(ctx)
}

type EnterMarketInput struct {
	CorporationID  int64
	StateCode      string
	SectorName     string
	Actor          string
	IdempotencyKey string
}

func (s *Store) EnterMarket(ctx context.Context, in EnterMarketInput) (int64, error) {
	in.StateCode = strings.ToUpper(strings.TrimSpace(in.StateCode))
	in.SectorName = strings.TrimSpace(in.SectorName)
	if err := ValidateStateCode(in.StateCode); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if err := claimIdempotency(ctx, tx, in.Actor, in.IdempotencyKey, "enter_market"); err != nil {
		return 0, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM sim.corporations WHERE id = $1)
	`, in.CorporationID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrCorporationNotFound
	}
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM sim.sectors WHERE name = $1)
	`, in.SectorName).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrSectorNotFound
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO sim.market_entries (corporation_id, state_code, sector_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (corporation_id, state_code, sector_name) DO NOTHING
		RETURNING id
	`, in.CorporationID, in.StateCode, in.SectorName).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, ErrEntryExists
	}
	if err != nil {
		return 0, err
	}
	return id, tx.Commit(ctx)
}

type AdjustUnitsInput struct {
	EntryID        int64
	UnitType       UnitType
	Count          int64
	Actor          string
	IdempotencyKey string
}

// BuildUnits adds units of one type to an entry, charging the build cost
// against the owning corporation's capital. Contended rows make this the
// hot mutation, so it retries on serialization failure.
func (s *Store) BuildUnits(ctx context.Context, in AdjustUnitsInput) error {
	if err := ValidateUnitType(in.UnitType); err != nil {
		return err
	}
	if in.Count <= 0 {
		return fmt.Errorf("unit count must be > 0")
	}

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)

			if err := claimIdempotency(ctx, tx, in.Actor, in.IdempotencyKey, "build_units"); err != nil {
				return err
			}

			var corpID int64
			var sectorName string
			if err := tx.QueryRow(ctx, `
				SELECT corporation_id, sector_name
				FROM sim.market_entries
				WHERE id = $1
				FOR UPDATE
			`, in.EntryID).Scan(&corpID, &sectorName); err != nil {
				if err == pgx.ErrNoRows {
					return ErrEntryNotFound
				}
				return err
			}

			var enabled bool
			err := tx.QueryRow(ctx, fmt.Sprintf(`
				SELECT %s_enabled FROM sim.sectors WHERE name = $1
			`, in.UnitType), sectorName).Scan(&enabled)
			if err == pgx.ErrNoRows {
				return ErrSectorNotFound
			}
			if err != nil {
				return err
			}
			if !enabled {
				return ErrUnitTypeNotEnabled
			}

			costMicros := DollarsToMicros(unitBuildCost[in.UnitType] * float64(in.Count))
			var capital int64
			if err := tx.QueryRow(ctx, `
				SELECT capital_micros FROM sim.corporations WHERE id = $1 FOR UPDATE
			`, corpID).Scan(&capital); err != nil {
				return err
			}
			if capital < costMicros {
				return fmt.Errorf("%w: build costs %.2f, capital %.2f",
					ErrInsufficientFunds, MicrosToDollars(costMicros), MicrosToDollars(capital))
			}
			if _, err := tx.Exec(ctx, `
				UPDATE sim.corporations
				SET capital_micros = capital_micros - $1
				WHERE id = $2
			`, costMicros, corpID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO sim.business_units (entry_id, unit_type, unit_count)
				VALUES ($1, $2, $3)
				ON CONFLICT (entry_id, unit_type)
				DO UPDATE SET unit_count = sim.business_units.unit_count + EXCLUDED.unit_count
			`, in.EntryID, string(in.UnitType), in.Count); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

// AbandonUnits removes units of one type, crediting half the build cost
// back as salvage.
func (s *Store) AbandonUnits(ctx context.Context, in AdjustUnitsInput) error {
	if err := ValidateUnitType(in.UnitType); err != nil {
		return err
	}
	if in.Count <= 0 {
		return fmt.Errorf("unit count must be > 0")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := claimIdempotency(ctx, tx, in.Actor, in.IdempotencyKey, "abandon_units"); err != nil {
		return err
	}

	var corpID int64
	if err := tx.QueryRow(ctx, `
		SELECT corporation_id FROM sim.market_entries WHERE id = $1 FOR UPDATE
	`, in.EntryID).Scan(&corpID); err != nil {
		if err == pgx.ErrNoRows {
			return ErrEntryNotFound
		}
		return err
	}

	var have int64
	err = tx.QueryRow(ctx, `
		SELECT unit_count FROM sim.business_units
		WHERE entry_id = $1 AND unit_type = $2
		FOR UPDATE
	`, in.EntryID, string(in.UnitType)).Scan(&have)
	if err == pgx.ErrNoRows {
		have = 0
	} else if err != nil {
		return err
	}
	if have < in.Count {
		return fmt.Errorf("%w: have %d, abandoning %d", ErrInsufficientUnits, have, in.Count)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE sim.business_units
		SET unit_count = unit_count - $1
		WHERE entry_id = $2 AND unit_type = $3
	`, in.Count, in.EntryID, string(in.UnitType)); err != nil {
		return err
	}
	salvageMicros := DollarsToMicros(unitBuildCost[in.UnitType] * float64(in.Count) * 0.5)
	if _, err := tx.Exec(ctx, `
		UPDATE sim.corporations
		SET capital_micros = capital_micros + $1
		WHERE id = $2
	`, salvageMicros, corpID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AbandonEntry deletes a market entry and all its units, crediting salvage
// for everything torn down.
func (s *Store) AbandonEntry(ctx context.Context, entryID int64, actor, idempotencyKey string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := claimIdempotency(ctx, tx, actor, idempotencyKey, "abandon_entry"); err != nil {
		return err
	}

	var corpID int64
	if err := tx.QueryRow(ctx, `
		SELECT corporation_id FROM sim.market_entries WHERE id = $1 FOR UPDATE
	`, entryID).Scan(&corpID); err != nil {
		if err == pgx.ErrNoRows {
			return ErrEntryNotFound
		}
		return err
	}

	rows, err := tx.Query(ctx, `
		SELECT unit_type, unit_count FROM sim.business_units WHERE entry_id = $1
	`, entryID)
	if err != nil {
		return err
	}
	var salvage float64
	for rows.Next() {
		var unitType string
		var count int64
		if err := rows.Scan(&unitType, &count); err != nil {
			rows.Close()
			return err
		}
		salvage += unitBuildCost[UnitType(unitType)] * float64(clampCount(count)) * 0.5
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM sim.business_units WHERE entry_id = $1`, entryID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sim.market_entries WHERE id = $1`, entryID); err != nil {
		return err
	}
	if salvage > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE sim.corporations
			SET capital_micros = capital_micros + $1
			WHERE id = $2
		`, DollarsToMicros(salvage), corpID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

type RecordTradeInput struct {
	CorporationID  int64
	Side           string
	Quantity       int64
	Price          float64
	Actor          string
	IdempotencyKey string
}

// RecordShareTrade logs an executed trade and appends the execution price
// to the price history. Price is the spread-adjusted execution price
// decided by the caller.
func (s *Store) RecordShareTrade(ctx context.Context, in RecordTradeInput) (int64, error) {
	in.Side = strings.ToLower(strings.TrimSpace(in.Side))
	if in.Side != "buy" && in.Side != "sell" {
		return 0, fmt.Errorf("side must be buy or sell")
	}
	if in.Quantity <= 0 {
		return 0, fmt.Errorf("quantity must be > 0")
	}
	if in.Price <= 0 {
		return 0, fmt.Errorf("price must be > 0")
	}

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return 0, err
		}
		var tradeID int64
		err = func() error {
			defer tx.Rollback(ctx)

			if err := claimIdempotency(ctx, tx, in.Actor, in.IdempotencyKey, "share_trade"); err != nil {
				return err
			}

			var exists bool
			if err := tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM sim.corporations WHERE id = $1)
			`, in.CorporationID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrCorporationNotFound
			}

			priceMicros := DollarsToMicros(in.Price)
			if err := tx.QueryRow(ctx, `
				INSERT INTO sim.share_trades (corporation_id, side, quantity, price_micros)
				VALUES ($1, $2, $3, $4)
				RETURNING id
			`, in.CorporationID, in.Side, in.Quantity, priceMicros).Scan(&tradeID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO sim.share_price_history (corporation_id, price_micros)
				VALUES ($1, $2)
			`, in.CorporationID, priceMicros); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return tradeID, nil
		}
		if !isSerializationError(err) {
			return 0, err
		}
		if attempt == maxAttempts-1 {
			return 0, ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return 0, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return 0, ErrTxConflict
}

// AppendPriceQuote records a valuation snapshot outside of trade flow.
// Used by the worker's periodic snapshot pass.
func (s *Store) AppendPriceQuote(ctx context.Context, corporationID int64, price float64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sim.share_price_history (corporation_id, price_micros)
		VALUES ($1, $2)
	`, corporationID, DollarsToMicros(price))
	return err
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, actor, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO sim.idempotency_keys (actor, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (actor, key) DO NOTHING
	`, actor, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
