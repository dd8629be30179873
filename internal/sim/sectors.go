package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConfigStore serves versioned snapshots of the economy configuration
// graph: sectors, unit flows, and the resource/product tables. Reads hit an
// in-memory snapshot; Invalidate forces the next read to reload, and every
// admin edit publishes a new version.
type ConfigStore struct {
	db  *pgxpool.Pool
	log *slog.Logger

	mu      sync.Mutex
	cached  *EconomyConfig
	version int64
}

func NewConfigStore(db *pgxpool.Pool, logger *slog.Logger) *ConfigStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigStore{db: db, log: logger}
}

// Config returns the current configuration snapshot, loading it on first
// use or after an invalidation. The returned value is shared and must be
// treated as read-only.
func (s *ConfigStore) Config(ctx context.Context) (*EconomyConfig, error) {
	s.mu.Lock()
	if s.cached != nil {
		cfg := s.cached
		s.mu.Unlock()
		return cfg, nil
	}
	s.mu.Unlock()

	cfg, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		s.version++
		cfg.Version = s.version
		s.cached = cfg
	}
	return s.cached, nil
}

// Invalidate clears the cached snapshot. Called after every configuration
// edit; idempotent.
func (s *ConfigStore) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *ConfigStore) load(ctx context.Context) (*EconomyConfig, error) {
	cfg := &EconomyConfig{
		Sectors: make(map[string]Sector),
		Flows:   make(map[FlowKey]UnitFlow),
	}

	rows, err := s.db.Query(ctx, `
		SELECT name, production_enabled, retail_enabled, service_enabled, extraction_enabled,
		       COALESCE(produced_product, ''), COALESCE(primary_resource, '')
		FROM sim.sectors
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("load sectors: %w", err)
	}
	for rows.Next() {
		var sec Sector
		var prod, retail, service, extraction bool
		if err := rows.Scan(&sec.Name, &prod, &retail, &service, &extraction, &sec.ProducedProduct, &sec.PrimaryResource); err != nil {
			rows.Close()
			return nil, err
		}
		sec.Enabled = map[UnitType]bool{
			UnitProduction: prod,
			UnitRetail:     retail,
			UnitService:    service,
			UnitExtraction: extraction,
		}
		cfg.Sectors[sec.Name] = sec
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(ctx, `
		SELECT sector_name, resource_name
		FROM sim.sector_resources
		ORDER BY sector_name, resource_name
	`)
	if err != nil {
		return nil, fmt.Errorf("load sector resources: %w", err)
	}
	for rows.Next() {
		var sectorName, resourceName string
		if err := rows.Scan(&sectorName, &resourceName); err != nil {
			rows.Close()
			return nil, err
		}
		sec, ok := cfg.Sectors[sectorName]
		if !ok {
			continue
		}
		sec.ExtractableResources = append(sec.ExtractableResources, resourceName)
		cfg.Sectors[sectorName] = sec
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(ctx, `
		SELECT sector_name, unit_type, direction, item_kind, item_name, rate_per_hour
		FROM sim.unit_flows
	`)
	if err != nil {
		return nil, fmt.Errorf("load unit flows: %w", err)
	}
	for rows.Next() {
		var sectorName, unitType, direction, itemKind, itemName string
		var rate float64
		if err := rows.Scan(&sectorName, &unitType, &direction, &itemKind, &itemName, &rate); err != nil {
			rows.Close()
			return nil, err
		}
		key := FlowKey{Sector: sectorName, UnitType: UnitType(unitType)}
		flow := cfg.Flows[key]
		var rates *FlowRates
		if direction == "in" {
			rates = &flow.Inputs
		} else {
			rates = &flow.Outputs
		}
		if itemKind == string(KindResource) {
			if rates.ResourceRates == nil {
				rates.ResourceRates = make(map[string]float64)
			}
			rates.ResourceRates[itemName] = rate
		} else {
			if rates.ProductRates == nil {
				rates.ProductRates = make(map[string]float64)
			}
			rates.ProductRates[itemName] = rate
		}
		cfg.Flows[key] = flow
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cfg.Resources, err = s.loadItems(ctx, KindResource, `
		SELECT name, base_price_micros, min_price_micros FROM sim.resources ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	cfg.Products, err = s.loadItems(ctx, KindProduct, `
		SELECT name, reference_price_micros, min_price_micros FROM sim.products ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *ConfigStore) loadItems(ctx context.Context, kind ItemKind, query string) ([]Item, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load %ss: %w", kind, err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		var refMicros, minMicros int64
		if err := rows.Scan(&it.Name, &refMicros, &minMicros); err != nil {
			return nil, err
		}
		it.Kind = kind
		it.ReferencePrice = MicrosToDollars(refMicros)
		it.MinPrice = MicrosToDollars(minMicros)
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateUnitFlow replaces the input/output rates of one (sector, unitType)
// pair and invalidates the configuration cache. The sector must exist and
// have the unit type enabled.
func (s *ConfigStore) UpdateUnitFlow(ctx context.Context, sectorName string, ut UnitType, flow UnitFlow) error {
	if err := ValidateUnitType(ut); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var enabled bool
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s_enabled FROM sim.sectors WHERE name = $1
	`, string(ut)), sectorName).Scan(&enabled)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrSectorNotFound
		}
		return err
	}
	if !enabled {
		return ErrUnitTypeNotEnabled
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM sim.unit_flows WHERE sector_name = $1 AND unit_type = $2
	`, sectorName, string(ut)); err != nil {
		return err
	}
	insert := func(direction string, kind ItemKind, rates map[string]float64) error {
		for name, rate := range rates {
			if rate < 0 {
				return fmt.Errorf("rate for %s must be >= 0", name)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO sim.unit_flows (sector_name, unit_type, direction, item_kind, item_name, rate_per_hour)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, sectorName, string(ut), direction, string(kind), name, rate); err != nil {
				return err
			}
		}
		return nil
	}
	if err := insert("in", KindResource, flow.Inputs.ResourceRates); err != nil {
		return err
	}
	if err := insert("in", KindProduct, flow.Inputs.ProductRates); err != nil {
		return err
	}
	if err := insert("out", KindResource, flow.Outputs.ResourceRates); err != nil {
		return err
	}
	if err := insert("out", KindProduct, flow.Outputs.ProductRates); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.Invalidate()
	s.log.Info("unit flow updated", "sector", sectorName, "unit_type", ut)
	return nil
}

// SeedDefaults populates the configuration tables with the default economy
// graph when they are empty.
func (s *ConfigStore) SeedDefaults(ctx context.Context) error {
	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM sim.sectors`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	resources := []struct {
		Name  string
		Base  float64
		Floor float64
	}{
		{"Oil", 75, 10},
		{"Iron Ore", 40, 5},
		{"Coal", 30, 4},
		{"Grain", 20, 2},
	}
	products := []struct {
		Name  string
		Ref   float64
		Floor float64
	}{
		{"Steel", 120, 15},
		{"Manufactured Goods", 200, 25},
		{"Food", 50, 6},
		{"Fuel", 90, 12},
		{"Electronics", 400, 50},
	}

	type sectorSeed struct {
		Name            string
		Production      bool
		Retail          bool
		Service         bool
		Extraction      bool
		ProducedProduct string
		PrimaryResource string
		Extractable     []string
	}
	sectors := []sectorSeed{
		{Name: "Mining", Extraction: true, PrimaryResource: "Iron Ore", Extractable: []string{"Iron Ore", "Coal"}},
		{Name: "Oil & Gas", Extraction: true, PrimaryResource: "Oil", Extractable: []string{"Oil"}},
		{Name: "Agriculture", Extraction: true, Production: true, Retail: true, PrimaryResource: "Grain", ProducedProduct: "Food", Extractable: []string{"Grain"}},
		{Name: "Steelworks", Production: true, ProducedProduct: "Steel"},
		{Name: "Manufacturing", Production: true, Retail: true, ProducedProduct: "Manufactured Goods"},
		{Name: "Energy", Production: true, Service: true, ProducedProduct: "Fuel"},
		{Name: "Technology", Production: true, Service: true, ProducedProduct: "Electronics"},
	}

	type flowSeed struct {
		Sector    string
		UnitType  UnitType
		Direction string
		Kind      ItemKind
		Item      string
		Rate      float64
	}
	flows := []flowSeed{
		{"Mining", UnitExtraction, "out", KindResource, "Iron Ore", 2.0},
		{"Mining", UnitExtraction, "out", KindResource, "Coal", 1.0},
		{"Mining", UnitExtraction, "in", KindProduct, "Fuel", 0.10},
		{"Oil & Gas", UnitExtraction, "out", KindResource, "Oil", 1.5},
		{"Oil & Gas", UnitExtraction, "in", KindProduct, "Steel", 0.05},
		{"Agriculture", UnitExtraction, "out", KindResource, "Grain", 3.0},
		{"Agriculture", UnitProduction, "in", KindResource, "Grain", 2.0},
		{"Agriculture", UnitProduction, "out", KindProduct, "Food", 1.5},
		{"Agriculture", UnitRetail, "in", KindProduct, "Food", 1.0},
		{"Steelworks", UnitProduction, "in", KindResource, "Iron Ore", 1.2},
		{"Steelworks", UnitProduction, "in", KindResource, "Coal", 0.8},
		{"Steelworks", UnitProduction, "out", KindProduct, "Steel", 1.0},
		{"Manufacturing", UnitProduction, "in", KindProduct, "Steel", 0.5},
		{"Manufacturing", UnitProduction, "out", KindProduct, "Manufactured Goods", 1.0},
		{"Manufacturing", UnitRetail, "in", KindProduct, "Manufactured Goods", 0.8},
		{"Energy", UnitProduction, "in", KindResource, "Oil", 1.0},
		{"Energy", UnitProduction, "out", KindProduct, "Fuel", 0.9},
		{"Technology", UnitProduction, "in", KindProduct, "Steel", 0.2},
		{"Technology", UnitProduction, "in", KindProduct, "Manufactured Goods", 0.3},
		{"Technology", UnitProduction, "out", KindProduct, "Electronics", 0.5},
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range resources {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sim.resources (name, base_price_micros, min_price_micros)
			VALUES ($1, $2, $3)
		`, r.Name, DollarsToMicros(r.Base), DollarsToMicros(r.Floor)); err != nil {
			return err
		}
	}
	for _, p := range products {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sim.products (name, reference_price_micros, min_price_micros)
			VALUES ($1, $2, $3)
		`, p.Name, DollarsToMicros(p.Ref), DollarsToMicros(p.Floor)); err != nil {
			return err
		}
	}
	for _, sec := range sectors {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sim.sectors
			    (name, production_enabled, retail_enabled, service_enabled, extraction_enabled, produced_product, primary_resource)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, sec.Name, sec.Production, sec.Retail, sec.Service, sec.Extraction, sec.ProducedProduct, sec.PrimaryResource); err != nil {
			return err
		}
		for _, res := range sec.Extractable {
			if _, err := tx.Exec(ctx, `
				INSERT INTO sim.sector_resources (sector_name, resource_name)
				VALUES ($1, $2)
			`, sec.Name, res); err != nil {
				return err
			}
		}
	}
	for _, f := range flows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sim.unit_flows (sector_name, unit_type, direction, item_kind, item_name, rate_per_hour)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, f.Sector, string(f.UnitType), f.Direction, string(f.Kind), f.Item, f.Rate); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.Invalidate()
	s.log.Info("seeded default economy configuration",
		"sectors", len(sectors), "resources", len(resources), "products", len(products))
	return nil
}
