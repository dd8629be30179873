package sim

import (
	"context"
	"errors"
	"math"
	"testing"
)

type fakeCorpStore struct {
	fin     CorporationFinancials
	entries []MarketEntry
	err     error
}

func (f *fakeCorpStore) Financials(context.Context, int64) (CorporationFinancials, error) {
	if f.err != nil {
		return CorporationFinancials{}, f.err
	}
	return f.fin, nil
}

func (f *fakeCorpStore) EntriesForCorporation(context.Context, int64) ([]MarketEntry, error) {
	return f.entries, nil
}

type fakeTradeLog struct {
	trades []ShareTrade
}

func (f *fakeTradeLog) RecentTrades(_ context.Context, _ int64, limit int) ([]ShareTrade, error) {
	if len(f.trades) > limit {
		return f.trades[:limit], nil
	}
	return f.trades, nil
}

func solventCorp() CorporationFinancials {
	return CorporationFinancials{
		ID:                  1,
		Name:                "Lonestar Drilling",
		Capital:             500_000,
		Debt:                100_000,
		TotalShares:         100_000,
		PublicShares:        40_000,
		DividendBps:         1_000,
		TrailingProfit:      20_000,
		TrailingPeriodHours: HoursPerYear, // trailing figures already annual
	}
}

func solventEntries() []MarketEntry {
	return []MarketEntry{
		{
			ID:         10,
			StateCode:  "TX",
			SectorName: "Oil & Gas",
			Units:      map[UnitType]int64{UnitExtraction: 10, UnitRetail: 5},
		},
	}
}

func newTestValuation(corps CorporationStore, trades TradeLog) *ValuationEngine {
	return NewValuationEngine(corps, trades, DefaultValuationParams(), nil)
}

func TestCalculateBalanceSheet(t *testing.T) {
	corps := &fakeCorpStore{fin: solventCorp(), entries: solventEntries()}
	engine := newTestValuation(corps, &fakeTradeLog{})

	sheet, err := engine.CalculateBalanceSheet(context.Background(), 1)
	if err != nil {
		t.Fatalf("balance sheet: %v", err)
	}

	wantUnits := unitBuildCost[UnitExtraction]*10 + unitBuildCost[UnitRetail]*5
	if sheet.UnitAssets != wantUnits {
		t.Fatalf("unit assets: got %v want %v", sheet.UnitAssets, wantUnits)
	}
	if sheet.TotalAssets != sheet.Cash+sheet.UnitAssets {
		t.Fatalf("total assets %v != cash %v + units %v", sheet.TotalAssets, sheet.Cash, sheet.UnitAssets)
	}
	if sheet.ShareholdersEquity != sheet.TotalAssets-sheet.Liabilities {
		t.Fatalf("equity %v != assets %v - liabilities %v", sheet.ShareholdersEquity, sheet.TotalAssets, sheet.Liabilities)
	}
}

func TestNoTradeHistoryUsesFundamentalsExactly(t *testing.T) {
	corps := &fakeCorpStore{fin: solventCorp(), entries: solventEntries()}
	engine := newTestValuation(corps, &fakeTradeLog{})

	v, err := engine.CalculateStockPrice(context.Background(), 1)
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	if v.HasTradeHistory {
		t.Fatalf("zero trades reported as history")
	}
	if v.CalculatedPrice != v.FundamentalValue {
		t.Fatalf("calculated %v != fundamental %v", v.CalculatedPrice, v.FundamentalValue)
	}
	if v.TradeWeightedPrice != 0 {
		t.Fatalf("trade-weighted price without trades: %v", v.TradeWeightedPrice)
	}
}

func TestBelowThresholdIgnoresTrades(t *testing.T) {
	corps := &fakeCorpStore{fin: solventCorp(), entries: solventEntries()}
	trades := &fakeTradeLog{trades: []ShareTrade{
		{Price: 50, Quantity: 100, AgeHours: 1},
		{Price: 52, Quantity: 100, AgeHours: 2},
	}}
	engine := newTestValuation(corps, trades)

	v, err := engine.CalculateStockPrice(context.Background(), 1)
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	if v.HasTradeHistory {
		t.Fatalf("2 trades cleared the threshold of %d", DefaultValuationParams().MinTradeCount)
	}
	if v.CalculatedPrice != v.FundamentalValue {
		t.Fatalf("calculated %v != fundamental %v below threshold", v.CalculatedPrice, v.FundamentalValue)
	}
}

func TestBlendConvergesToTradeWeightedPrice(t *testing.T) {
	corps := &fakeCorpStore{fin: solventCorp(), entries: solventEntries()}
	const tradedAt = 42.0

	var prevGap = math.Inf(1)
	for _, n := range []int{3, 6, 12, 20} {
		trades := make([]ShareTrade, n)
		for i := range trades {
			trades[i] = ShareTrade{Price: tradedAt, Quantity: 10, AgeHours: float64(i)}
		}
		engine := newTestValuation(corps, &fakeTradeLog{trades: trades})

		v, err := engine.CalculateStockPrice(context.Background(), 1)
		if err != nil {
			t.Fatalf("valuation with %d trades: %v", n, err)
		}
		if !v.HasTradeHistory {
			t.Fatalf("%d trades below threshold", n)
		}
		gap := math.Abs(v.CalculatedPrice - tradedAt)
		if gap > prevGap+1e-9 {
			t.Fatalf("gap widened at %d trades: %v -> %v", n, prevGap, gap)
		}
		prevGap = gap
	}

	// At full weight the blend is purely trade-driven.
	if math.Abs(prevGap) > 1e-9 {
		t.Fatalf("price did not converge to trade-weighted value: gap %v", prevGap)
	}
}

func TestCalculatedPriceFloor(t *testing.T) {
	broke := CorporationFinancials{
		ID:                  2,
		Name:                "Empty Shell Holdings",
		Capital:             10,
		Debt:                0,
		TotalShares:         1_000_000,
		TrailingProfit:      0,
		TrailingPeriodHours: HoursPerYear,
	}
	corps := &fakeCorpStore{fin: broke}
	engine := newTestValuation(corps, &fakeTradeLog{})

	v, err := engine.CalculateStockPrice(context.Background(), 2)
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	if v.CalculatedPrice != MinSharePriceDollars {
		t.Fatalf("floor: got %v want %v", v.CalculatedPrice, MinSharePriceDollars)
	}
}

func TestTradeWeightingFavorsRecentVolume(t *testing.T) {
	corps := &fakeCorpStore{fin: solventCorp(), entries: solventEntries()}
	trades := &fakeTradeLog{trades: []ShareTrade{
		{Price: 100, Quantity: 10, AgeHours: 0},
		{Price: 10, Quantity: 10, AgeHours: 240},
		{Price: 10, Quantity: 10, AgeHours: 240},
	}}
	engine := newTestValuation(corps, trades)

	v, err := engine.CalculateStockPrice(context.Background(), 1)
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	// A fresh trade outweighs equal volume ten half-lives old.
	if v.TradeWeightedPrice < 90 {
		t.Fatalf("recency weighting too weak: %v", v.TradeWeightedPrice)
	}
}

func TestAnnualizationScalesTrailingProfit(t *testing.T) {
	fin := solventCorp()
	fin.TrailingProfit = 1_000
	fin.TrailingPeriodHours = HoursPerYear / 2
	corps := &fakeCorpStore{fin: fin, entries: solventEntries()}
	engine := newTestValuation(corps, &fakeTradeLog{})

	v, err := engine.CalculateStockPrice(context.Background(), 1)
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	if math.Abs(v.AnnualProfit-2_000) > 1e-9 {
		t.Fatalf("annual profit: got %v want 2000", v.AnnualProfit)
	}
}

func TestValuationPropagatesNotFound(t *testing.T) {
	corps := &fakeCorpStore{err: ErrCorporationNotFound}
	engine := newTestValuation(corps, &fakeTradeLog{})

	if _, err := engine.CalculateStockPrice(context.Background(), 99); !errors.Is(err, ErrCorporationNotFound) {
		t.Fatalf("got %v want ErrCorporationNotFound", err)
	}
	if _, err := engine.CalculateBalanceSheet(context.Background(), 99); !errors.Is(err, ErrCorporationNotFound) {
		t.Fatalf("got %v want ErrCorporationNotFound", err)
	}
}
