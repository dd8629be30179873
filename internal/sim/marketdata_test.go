package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type staticConfig struct {
	cfg *EconomyConfig
}

func (s staticConfig) Config(context.Context) (*EconomyConfig, error) {
	return s.cfg, nil
}

type fakeLedger struct {
	mu     sync.Mutex
	counts UnitCounts
	reads  int
}

func (f *fakeLedger) UnitCounts(context.Context) (UnitCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	out := make(UnitCounts, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out, nil
}

func (f *fakeLedger) set(key FlowKey, n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key] = n
}

func (f *fakeLedger) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memSink struct {
	mu    sync.Mutex
	lines []AuditLine
	fail  bool
}

func (m *memSink) Append(line AuditLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink unavailable")
	}
	m.lines = append(m.lines, line)
	return nil
}

func newTestMarket(t *testing.T, ledger *fakeLedger, sink AuditSink) (*MarketData, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	md := NewMarketData(staticConfig{cfg: testEconomy()}, ledger, DefaultPricer(), 5*time.Second, sink, nil, clk.Now)
	return md, clk
}

func baseCounts() UnitCounts {
	return UnitCounts{
		{Sector: "Oil & Gas", UnitType: UnitExtraction}:     3,
		{Sector: "Manufacturing", UnitType: UnitProduction}: 2,
		{Sector: "Energy", UnitType: UnitProduction}:        1,
	}
}

func TestMarketDataCachesWithinTTL(t *testing.T) {
	ledger := &fakeLedger{counts: baseCounts()}
	md, clk := newTestMarket(t, ledger, nil)
	ctx := context.Background()

	if _, err := md.CommoditySummary(ctx); err != nil {
		t.Fatalf("first read: %v", err)
	}
	got := ledger.readCount()

	clk.Advance(2 * time.Second)
	if _, err := md.CommoditySummary(ctx); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if ledger.readCount() != got {
		t.Fatalf("cached read hit the ledger: %d -> %d reads", got, ledger.readCount())
	}
}

func TestMarketDataTTLExpiryRecomputes(t *testing.T) {
	ledger := &fakeLedger{counts: baseCounts()}
	md, clk := newTestMarket(t, ledger, nil)
	ctx := context.Background()

	if _, err := md.ProductSummary(ctx); err != nil {
		t.Fatalf("first read: %v", err)
	}
	before := ledger.readCount()

	ledger.set(FlowKey{Sector: "Manufacturing", UnitType: UnitProduction}, 9)
	clk.Advance(6 * time.Second)

	summary, err := md.ProductSummary(ctx)
	if err != nil {
		t.Fatalf("post-expiry read: %v", err)
	}
	if ledger.readCount() == before {
		t.Fatalf("expired cache was not recomputed")
	}
	if got := findQuote(t, summary, "Manufactured Goods").Supply; got != 9 {
		t.Fatalf("stale supply after expiry: got %v want 9", got)
	}
}

func TestMarketDataInvalidatePreemptsTTL(t *testing.T) {
	ledger := &fakeLedger{counts: baseCounts()}
	md, clk := newTestMarket(t, ledger, nil)
	ctx := context.Background()

	if _, err := md.ProductSummary(ctx); err != nil {
		t.Fatalf("warm read: %v", err)
	}

	// Mutation lands, cache is still fresh by TTL.
	ledger.set(FlowKey{Sector: "Manufacturing", UnitType: UnitProduction}, 5)
	clk.Advance(1 * time.Second)
	if err := md.InvalidateAll(); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	summary, err := md.ProductSummary(ctx)
	if err != nil {
		t.Fatalf("read after invalidate: %v", err)
	}
	if got := findQuote(t, summary, "Manufactured Goods").Supply; got != 5 {
		t.Fatalf("read served pre-mutation figures: got supply %v want 5", got)
	}
}

func TestMarketDataUniverseCachesIndependent(t *testing.T) {
	ledger := &fakeLedger{counts: baseCounts()}
	md, _ := newTestMarket(t, ledger, nil)
	ctx := context.Background()

	warm, err := md.CommoditySummary(ctx)
	if err != nil {
		t.Fatalf("warm commodity read: %v", err)
	}

	// The ledger changes, then the product universe computes for the first
	// time. That compute must not evict the still-fresh commodity entry.
	ledger.set(FlowKey{Sector: "Oil & Gas", UnitType: UnitExtraction}, 40)
	if _, err := md.ProductSummary(ctx); err != nil {
		t.Fatalf("product read: %v", err)
	}

	again, err := md.CommoditySummary(ctx)
	if err != nil {
		t.Fatalf("cached commodity read: %v", err)
	}
	want := findQuote(t, warm, "Oil")
	got := findQuote(t, again, "Oil")
	if got.Supply != want.Supply || got.Price != want.Price {
		t.Fatalf("commodity cache disturbed by product compute: %+v vs %+v", got, want)
	}
	if got.Supply != 12 {
		t.Fatalf("commodity read picked up the mutation early: supply %v", got.Supply)
	}
}

func TestMarketDataDetailMatchesSummary(t *testing.T) {
	ledger := &fakeLedger{counts: baseCounts()}
	md, _ := newTestMarket(t, ledger, nil)
	ctx := context.Background()

	summary, err := md.CommoditySummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	// The ledger changes underneath; the cached detail must still agree
	// with the cached summary until an invalidation or expiry.
	ledger.set(FlowKey{Sector: "Oil & Gas", UnitType: UnitExtraction}, 50)

	detail, err := md.CommodityDetail(ctx, "Oil")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	fromSummary := findQuote(t, summary, "Oil")
	if detail.Supply != fromSummary.Supply || detail.Demand != fromSummary.Demand || detail.Price != fromSummary.Price {
		t.Fatalf("detail diverged from summary: %+v vs %+v", detail, fromSummary)
	}
}

func TestMarketDataDetailUnknownItem(t *testing.T) {
	ledger := &fakeLedger{counts: baseCounts()}
	md, _ := newTestMarket(t, ledger, nil)

	if _, err := md.CommodityDetail(context.Background(), "Unobtainium"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("got %v want ErrItemNotFound", err)
	}
}

func TestValidateAndAuditCleanRun(t *testing.T) {
	ledger := &fakeLedger{counts: baseCounts()}
	sink := &memSink{}
	md, _ := newTestMarket(t, ledger, sink)

	report, err := md.ValidateAndAudit(context.Background())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(report.Mismatches) != 0 {
		t.Fatalf("unexpected mismatches: %+v", report.Mismatches)
	}
	if report.CheckedItems != len(testEconomy().Resources)+len(testEconomy().Products) {
		t.Fatalf("checked %d items", report.CheckedItems)
	}

	var markers []string
	for _, line := range sink.lines {
		markers = append(markers, line.Marker)
	}
	if len(markers) < 2 || markers[0] != "start" || markers[len(markers)-1] != "end" {
		t.Fatalf("audit markers: %v", markers)
	}
}

func TestValidateAndAuditFlagsStaleCache(t *testing.T) {
	ledger := &fakeLedger{counts: baseCounts()}
	sink := &memSink{}
	md, _ := newTestMarket(t, ledger, sink)
	ctx := context.Background()

	if _, err := md.CommoditySummary(ctx); err != nil {
		t.Fatalf("warm read: %v", err)
	}
	if _, err := md.ProductSummary(ctx); err != nil {
		t.Fatalf("warm read: %v", err)
	}
	ledger.set(FlowKey{Sector: "Oil & Gas", UnitType: UnitExtraction}, 100)

	report, err := md.ValidateAndAudit(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(report.Mismatches) == 0 {
		t.Fatalf("stale cache produced no mismatches")
	}
	found := false
	for _, m := range report.Mismatches {
		if m.Item == "Oil" && m.Field == "supply" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Oil supply mismatch not reported: %+v", report.Mismatches)
	}
}

func TestValidateAndAuditToleratesSinkFailure(t *testing.T) {
	ledger := &fakeLedger{counts: baseCounts()}
	sink := &memSink{fail: true}
	md, _ := newTestMarket(t, ledger, sink)

	report, err := md.ValidateAndAudit(context.Background())
	if err != nil {
		t.Fatalf("audit failed on sink error: %v", err)
	}
	if report.CheckedItems == 0 {
		t.Fatalf("audit checked nothing")
	}
}

func findQuote(t *testing.T, summary MarketSummary, name string) ItemQuote {
	t.Helper()
	for _, q := range summary.Items {
		if q.Name == name {
			return q
		}
	}
	t.Fatalf("item %q not in summary", name)
	return ItemQuote{}
}
