package sim

import (
	"context"
	"log/slog"
	"math"
)

// CorporationStore serves the financial aggregates and market entries the
// valuation engine reads.
type CorporationStore interface {
	Financials(ctx context.Context, corporationID int64) (CorporationFinancials, error)
	EntriesForCorporation(ctx context.Context, corporationID int64) ([]MarketEntry, error)
}

// TradeLog serves recent share transactions, newest first.
type TradeLog interface {
	RecentTrades(ctx context.Context, corporationID int64, limit int) ([]ShareTrade, error)
}

// unitBuildCost is the book value per built unit used on the asset side of
// the balance sheet.
var unitBuildCost = map[UnitType]float64{
	UnitProduction: 1200,
	UnitRetail:     800,
	UnitService:    600,
	UnitExtraction: 1500,
}

// BalanceSheet is the asset/liability/equity breakdown feeding book value.
type BalanceSheet struct {
	CorporationID      int64   `json:"corporation_id"`
	Cash               float64 `json:"cash"`
	UnitAssets         float64 `json:"unit_assets"`
	TotalAssets        float64 `json:"total_assets"`
	Liabilities        float64 `json:"liabilities"`
	ShareholdersEquity float64 `json:"shareholders_equity"`
}

// Valuation is the blended view of a corporation's share price. It is
// computed on demand and never persisted as canonical state; callers may
// append CalculatedPrice to the share price history log.
type Valuation struct {
	CorporationID          int64   `json:"corporation_id"`
	BookValue              float64 `json:"book_value"`
	EarningsValue          float64 `json:"earnings_value"`
	DividendYield          float64 `json:"dividend_yield"`
	CashPerShare           float64 `json:"cash_per_share"`
	TradeWeightedPrice     float64 `json:"trade_weighted_price"`
	FundamentalValue       float64 `json:"fundamental_value"`
	CalculatedPrice        float64 `json:"calculated_price"`
	RecentTradeCount       int     `json:"recent_trade_count"`
	HasTradeHistory        bool    `json:"has_trade_history"`
	AnnualProfit           float64 `json:"annual_profit"`
	AnnualDividendPerShare float64 `json:"annual_dividend_per_share"`
}

// ValuationWeights blend the four fundamental components. Values are
// normalized before use, so only their ratios matter.
type ValuationWeights struct {
	Book     float64
	Earnings float64
	Dividend float64
	Cash     float64
}

// ValuationParams are policy tunables, not business law.
type ValuationParams struct {
	Weights             ValuationWeights
	EarningsMultiple    float64
	DividendYieldTarget float64
	MinTradeCount       int
	TradesForFullWeight int
	RecentTradeLimit    int
	TradeHalfLifeHours  float64
}

func DefaultValuationParams() ValuationParams {
	return ValuationParams{
		Weights:             ValuationWeights{Book: 0.35, Earnings: 0.30, Dividend: 0.15, Cash: 0.20},
		EarningsMultiple:    8,
		DividendYieldTarget: 0.05,
		MinTradeCount:       3,
		TradesForFullWeight: 20,
		RecentTradeLimit:    50,
		TradeHalfLifeHours:  24,
	}
}

// BlendWeightFunc maps a recent trade count to the weight [0, 1] given to
// the trade-weighted price over fundamentals.
type BlendWeightFunc func(recentTrades, tradesForFullWeight int) float64

// cappedLinearBlend is the default blend curve: weight grows linearly with
// trade count and saturates at 1 once tradesForFullWeight trades have been
// observed, at which point pricing is purely trade-weighted. Chosen for
// monotonicity and easy auditability over an unverified logistic fit.
func cappedLinearBlend(recentTrades, tradesForFullWeight int) float64 {
	if tradesForFullWeight <= 0 {
		return 1
	}
	w := float64(recentTrades) / float64(tradesForFullWeight)
	if w > 1 {
		return 1
	}
	if w < 0 {
		return 0
	}
	return w
}

// ValuationEngine blends corporation fundamentals with recent trade
// history into a share price.
type ValuationEngine struct {
	corps  CorporationStore
	trades TradeLog
	params ValuationParams
	log    *slog.Logger

	// BlendWeight is the swappable trade-history weighting strategy.
	BlendWeight BlendWeightFunc
}

func NewValuationEngine(corps CorporationStore, trades TradeLog, params ValuationParams, logger *slog.Logger) *ValuationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if params.RecentTradeLimit <= 0 {
		params.RecentTradeLimit = DefaultValuationParams().RecentTradeLimit
	}
	return &ValuationEngine{
		corps:       corps,
		trades:      trades,
		params:      params,
		log:         logger,
		BlendWeight: cappedLinearBlend,
	}
}

// CalculateBalanceSheet sums a corporation's asset categories minus
// liabilities: cash plus the book value of built units, less debt.
func (v *ValuationEngine) CalculateBalanceSheet(ctx context.Context, corporationID int64) (BalanceSheet, error) {
	fin, err := v.corps.Financials(ctx, corporationID)
	if err != nil {
		return BalanceSheet{}, err
	}
	entries, err := v.corps.EntriesForCorporation(ctx, corporationID)
	if err != nil {
		return BalanceSheet{}, err
	}

	out := BalanceSheet{
		CorporationID: corporationID,
		Cash:          fin.Capital,
		Liabilities:   fin.Debt,
	}
	for _, entry := range entries {
		for ut, count := range entry.Units {
			out.UnitAssets += unitBuildCost[ut] * float64(clampCount(count))
		}
	}
	out.TotalAssets = out.Cash + out.UnitAssets
	out.ShareholdersEquity = out.TotalAssets - out.Liabilities
	return out, nil
}

// CalculateStockPrice produces the blended valuation for one corporation.
//
// Financials and trade history are read in separate store calls with no
// shared transaction; the two reads may observe a tiny window of mutual
// staleness, which is acceptable for a simulation economy.
func (v *ValuationEngine) CalculateStockPrice(ctx context.Context, corporationID int64) (Valuation, error) {
	fin, err := v.corps.Financials(ctx, corporationID)
	if err != nil {
		return Valuation{}, err
	}
	sheet, err := v.CalculateBalanceSheet(ctx, corporationID)
	if err != nil {
		return Valuation{}, err
	}
	trades, err := v.trades.RecentTrades(ctx, corporationID, v.params.RecentTradeLimit)
	if err != nil {
		return Valuation{}, err
	}

	shares := float64(fin.TotalShares)
	if shares < 1 {
		shares = 1
	}

	out := Valuation{CorporationID: corporationID}
	out.BookValue = sheet.ShareholdersEquity / shares
	out.CashPerShare = fin.Capital / shares

	out.AnnualProfit = fin.TrailingProfit
	if fin.TrailingPeriodHours > 0 {
		out.AnnualProfit = fin.TrailingProfit * (HoursPerYear / fin.TrailingPeriodHours)
	}
	out.EarningsValue = v.params.EarningsMultiple * out.AnnualProfit / shares

	distributable := math.Max(0, out.AnnualProfit)
	out.AnnualDividendPerShare = distributable * float64(fin.DividendBps) / 10_000 / shares
	dividendImplied := 0.0
	if v.params.DividendYieldTarget > 0 {
		dividendImplied = out.AnnualDividendPerShare / v.params.DividendYieldTarget
	}

	out.FundamentalValue = blendFundamentals(v.params.Weights,
		out.BookValue, out.EarningsValue, dividendImplied, out.CashPerShare)

	out.TradeWeightedPrice = v.tradeWeightedPrice(trades)
	out.RecentTradeCount = len(trades)
	out.HasTradeHistory = out.RecentTradeCount >= v.params.MinTradeCount

	if out.HasTradeHistory {
		blend := v.BlendWeight
		if blend == nil {
			blend = cappedLinearBlend
		}
		w := blend(out.RecentTradeCount, v.params.TradesForFullWeight)
		out.CalculatedPrice = (1-w)*out.FundamentalValue + w*out.TradeWeightedPrice
	} else {
		out.CalculatedPrice = out.FundamentalValue
	}
	if out.CalculatedPrice < MinSharePriceDollars {
		out.CalculatedPrice = MinSharePriceDollars
	}
	if out.CalculatedPrice > 0 {
		out.DividendYield = out.AnnualDividendPerShare / out.CalculatedPrice
	}
	return out, nil
}

func blendFundamentals(w ValuationWeights, book, earnings, dividendImplied, cash float64) float64 {
	total := w.Book + w.Earnings + w.Dividend + w.Cash
	if total <= 0 {
		w = DefaultValuationParams().Weights
		total = w.Book + w.Earnings + w.Dividend + w.Cash
	}
	sum := w.Book*book + w.Earnings*earnings + w.Dividend*dividendImplied + w.Cash*cash
	return sum / total
}

// tradeWeightedPrice is a recency-weighted average of recent trade prices:
// each trade is weighted by its quantity decayed by half-life over age.
func (v *ValuationEngine) tradeWeightedPrice(trades []ShareTrade) float64 {
	halfLife := v.params.TradeHalfLifeHours
	if halfLife <= 0 {
		halfLife = DefaultValuationParams().TradeHalfLifeHours
	}
	var weighted, weightSum float64
	for _, t := range trades {
		qty := float64(t.Quantity)
		if qty <= 0 || t.Price <= 0 {
			continue
		}
		age := math.Max(0, t.AgeHours)
		w := qty * math.Pow(0.5, age/halfLife)
		weighted += t.Price * w
		weightSum += w
	}
	if weightSum <= 0 {
		return 0
	}
	return weighted / weightSum
}
