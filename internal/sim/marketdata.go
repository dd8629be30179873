package sim

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMarketTTL bounds staleness of the cached market snapshot without
// forcing a full re-aggregation on every read. Anything staler self-heals
// on the next read even if no explicit invalidation fired.
const DefaultMarketTTL = 5 * time.Second

// ConfigProvider is the slice of ConfigStore the market data service needs.
type ConfigProvider interface {
	Config(ctx context.Context) (*EconomyConfig, error)
}

// UnitLedger is the authoritative census of built business units. The
// engine only reads snapshots; mutations live with the owning store.
type UnitLedger interface {
	UnitCounts(ctx context.Context) (UnitCounts, error)
}

// AuditSink receives the audit trail of consistency checks: one line per
// checked item plus a start and end marker per run.
type AuditSink interface {
	Append(line AuditLine) error
}

type AuditLine struct {
	RunID        string    `json:"run_id"`
	Marker       string    `json:"marker"` // start, item, end
	Universe     ItemKind  `json:"universe,omitempty"`
	Item         string    `json:"item,omitempty"`
	CachedSupply float64   `json:"cached_supply"`
	CachedDemand float64   `json:"cached_demand"`
	CachedPrice  float64   `json:"cached_price"`
	FreshSupply  float64   `json:"fresh_supply"`
	FreshDemand  float64   `json:"fresh_demand"`
	FreshPrice   float64   `json:"fresh_price"`
	Match        bool      `json:"match"`
	At           time.Time `json:"at"`
}

// ItemQuote is one item's row in a market summary.
type ItemQuote struct {
	Name           string  `json:"name"`
	Supply         float64 `json:"supply"`
	Demand         float64 `json:"demand"`
	Price          float64 `json:"price"`
	ReferencePrice float64 `json:"reference_price"`
	ScarcityFactor float64 `json:"scarcity_factor"`
}

// MarketSummary is the full-universe snapshot with prices. Supply and
// demand figures in one summary always originate from the same aggregation
// pass over one unit-count read.
type MarketSummary struct {
	Universe    ItemKind    `json:"universe"`
	Items       []ItemQuote `json:"summary"`
	TotalSupply float64     `json:"supply"`
	TotalDemand float64     `json:"demand"`
	ComputedAt  time.Time   `json:"computed_at"`
}

// AuditReport is the outcome of one detail-vs-summary consistency pass.
type AuditReport struct {
	RunID        string          `json:"run_id"`
	CheckedItems int             `json:"checked_items"`
	Mismatches   []AuditMismatch `json:"mismatches"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

type AuditMismatch struct {
	Universe ItemKind `json:"universe"`
	Item     string   `json:"item"`
	Field    string   `json:"field"`
	Cached   float64  `json:"cached"`
	Fresh    float64  `json:"fresh"`
}

type cachedSummary struct {
	summary   MarketSummary
	expiresAt time.Time
}

// MarketData is the single read path for current supply, demand, and price
// of every resource and product. A short TTL cache sits between callers and
// the full economy aggregation; the cache stores whole per-universe
// summaries so a read can never mix figures from two different unit-count
// snapshots. Concurrent misses may recompute redundantly; the computation
// is pure, so the last writer's value is as valid as any other.
type MarketData struct {
	cfg    ConfigProvider
	units  UnitLedger
	pricer Pricer
	ttl    time.Duration
	audit  AuditSink
	log    *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cached map[ItemKind]cachedSummary
}

// NewMarketData wires the service. A nil clock uses time.Now; a nil audit
// sink disables audit trail persistence (reports are still returned).
func NewMarketData(cfg ConfigProvider, units UnitLedger, pricer Pricer, ttl time.Duration, audit AuditSink, logger *slog.Logger, now func() time.Time) *MarketData {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketData{
		cfg:    cfg,
		units:  units,
		pricer: pricer,
		ttl:    ttl,
		audit:  audit,
		log:    logger,
		now:    now,
		cached: make(map[ItemKind]cachedSummary),
	}
}

// CommoditySummary returns the full resource universe with prices.
func (m *MarketData) CommoditySummary(ctx context.Context) (MarketSummary, error) {
	return m.summary(ctx, KindResource)
}

// ProductSummary returns the full product universe with prices.
func (m *MarketData) ProductSummary(ctx context.Context) (MarketSummary, error) {
	return m.summary(ctx, KindProduct)
}

// CommodityDetail derives a single-resource view from the cached summary.
// A cold cache triggers a full summary computation rather than a narrower
// single-item aggregation, preserving cross-item consistency.
func (m *MarketData) CommodityDetail(ctx context.Context, name string) (ItemQuote, error) {
	return m.detail(ctx, KindResource, name)
}

// ProductDetail derives a single-product view from the cached summary.
func (m *MarketData) ProductDetail(ctx context.Context, name string) (ItemQuote, error) {
	return m.detail(ctx, KindProduct, name)
}

// InvalidateAll clears both universe caches. Called after every mutation
// that changes unit counts. Callers log a non-nil error but never fail
// the triggering mutation on it; the cache self-heals at the next TTL
// expiry anyway.
func (m *MarketData) InvalidateAll() error {
	m.mu.Lock()
	m.cached = make(map[ItemKind]cachedSummary)
	m.mu.Unlock()
	return nil
}

func (m *MarketData) detail(ctx context.Context, kind ItemKind, name string) (ItemQuote, error) {
	summary, err := m.summary(ctx, kind)
	if err != nil {
		return ItemQuote{}, err
	}
	for _, q := range summary.Items {
		if q.Name == name {
			return q, nil
		}
	}
	return ItemQuote{}, ErrItemNotFound
}

func (m *MarketData) summary(ctx context.Context, kind ItemKind) (MarketSummary, error) {
	now := m.now()
	m.mu.Lock()
	if entry, ok := m.cached[kind]; ok && entry.expiresAt.After(now) {
		cached := entry.summary
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	summary, err := m.compute(ctx, kind)
	if err != nil {
		return MarketSummary{}, err
	}

	m.mu.Lock()
	m.cached[kind] = cachedSummary{summary: summary, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return summary, nil
}

// compute runs the full aggregation for one universe from a single
// unit-count read.
func (m *MarketData) compute(ctx context.Context, kind ItemKind) (MarketSummary, error) {
	cfg, err := m.cfg.Config(ctx)
	if err != nil {
		return MarketSummary{}, err
	}
	counts, err := m.units.UnitCounts(ctx)
	if err != nil {
		return MarketSummary{}, err
	}

	items := cfg.Resources
	if kind == KindProduct {
		items = cfg.Products
	}
	snap := Aggregate(counts, cfg, items)

	out := MarketSummary{
		Universe:   kind,
		Items:      make([]ItemQuote, 0, len(items)),
		ComputedAt: m.now(),
	}
	for _, it := range items {
		quote := m.pricer.Price(it, snap.Supply[it.Name], snap.Demand[it.Name])
		out.Items = append(out.Items, ItemQuote{
			Name:           it.Name,
			Supply:         quote.Supply,
			Demand:         quote.Demand,
			Price:          quote.CurrentPrice,
			ReferencePrice: quote.ReferencePrice,
			ScarcityFactor: quote.ScarcityFactor,
		})
		out.TotalSupply += quote.Supply
		out.TotalDemand += quote.Demand
	}
	return out, nil
}

// auditTolerance absorbs float accumulation differences between two
// aggregations of identical inputs.
const auditTolerance = 1e-9

// ValidateAndAudit recomputes every item from a fresh unit-count read and
// compares against the cached summary figures. Detail and summary paths
// must never diverge between invalidations; a mismatch indicates a caching
// or aggregation bug, not an expected game event. Sink write failures are
// logged and never fail the audit itself.
func (m *MarketData) ValidateAndAudit(ctx context.Context) (AuditReport, error) {
	report := AuditReport{
		RunID:     uuid.NewString(),
		StartedAt: m.now(),
	}
	m.appendAudit(AuditLine{RunID: report.RunID, Marker: "start", At: report.StartedAt, Match: true})

	for _, kind := range []ItemKind{KindResource, KindProduct} {
		cached, err := m.summary(ctx, kind)
		if err != nil {
			return report, err
		}
		fresh, err := m.compute(ctx, kind)
		if err != nil {
			return report, err
		}
		freshByName := make(map[string]ItemQuote, len(fresh.Items))
		for _, q := range fresh.Items {
			freshByName[q.Name] = q
		}
		for _, q := range cached.Items {
			f := freshByName[q.Name]
			report.CheckedItems++
			match := true
			for _, check := range []struct {
				field  string
				cached float64
				fresh  float64
			}{
				{"supply", q.Supply, f.Supply},
				{"demand", q.Demand, f.Demand},
				{"price", q.Price, f.Price},
			} {
				if math.Abs(check.cached-check.fresh) > auditTolerance {
					match = false
					report.Mismatches = append(report.Mismatches, AuditMismatch{
						Universe: kind,
						Item:     q.Name,
						Field:    check.field,
						Cached:   check.cached,
						Fresh:    check.fresh,
					})
				}
			}
			if !match {
				m.log.Warn("market audit mismatch", "universe", kind, "item", q.Name)
			}
			m.appendAudit(AuditLine{
				RunID:        report.RunID,
				Marker:       "item",
				Universe:     kind,
				Item:         q.Name,
				CachedSupply: q.Supply,
				CachedDemand: q.Demand,
				CachedPrice:  q.Price,
				FreshSupply:  f.Supply,
				FreshDemand:  f.Demand,
				FreshPrice:   f.Price,
				Match:        match,
				At:           m.now(),
			})
		}
	}

	report.FinishedAt = m.now()
	m.appendAudit(AuditLine{RunID: report.RunID, Marker: "end", At: report.FinishedAt, Match: len(report.Mismatches) == 0})
	return report, nil
}

func (m *MarketData) appendAudit(line AuditLine) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Append(line); err != nil {
		m.log.Error("audit log write failed", "err", err, "run_id", line.RunID)
	}
}
