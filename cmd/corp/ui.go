package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"corpsim/internal/sim"

	"github.com/fatih/color"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

type demandPayload struct {
	Product string  `json:"product"`
	Sector  string  `json:"sector"`
	Demand  float64 `json:"demand"`
}

type tradePayload struct {
	TradeID         int64   `json:"trade_id"`
	ExecutionPrice  float64 `json:"execution_price"`
	CalculatedPrice float64 `json:"calculated_price"`
}

type financialsPayload struct {
	CorporationID int64                 `json:"corporation_id"`
	PeriodHours   float64               `json:"period_hours"`
	Revenue       float64               `json:"revenue"`
	VariableCosts float64               `json:"variable_costs"`
	Profit        float64               `json:"profit"`
	Entries       []sim.EntryFinancials `json:"entries"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func decodeInto[T any](raw map[string]any) (T, error) {
	var out T
	buf, err := json.Marshal(raw)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(buf, &out); err != nil {
		return out, err
	}
	return out, nil
}

func renderMarketSummary(raw map[string]any, universe string) error {
	summary, err := decodeInto[sim.MarketSummary](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s ==\n", strings.ToUpper(universe))
	if len(summary.Items) == 0 {
		printInfo("No items configured.")
		return nil
	}
	fmt.Printf("%-20s %12s %12s %12s %10s\n", "ITEM", "SUPPLY", "DEMAND", "PRICE", "SCARCITY")
	for _, q := range summary.Items {
		fmt.Printf("%-20s %12.2f %12.2f %12s %10.2f\n",
			truncate(q.Name, 20), q.Supply, q.Demand, formatDollars(q.Price), q.ScarcityFactor)
	}
	fmt.Printf("\nTotal supply %.2f, total demand %.2f\n\n", summary.TotalSupply, summary.TotalDemand)
	return nil
}

func renderItemQuote(raw map[string]any) error {
	q, err := decodeInto[sim.ItemQuote](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s ==\n", q.Name)
	fmt.Printf("Price:     %s\n", formatDollars(q.Price))
	fmt.Printf("Reference: %s\n", formatDollars(q.ReferencePrice))
	fmt.Printf("Supply:    %.2f/h\n", q.Supply)
	fmt.Printf("Demand:    %.2f/h\n", q.Demand)
	fmt.Printf("Scarcity:  %.2f\n\n", q.ScarcityFactor)
	return nil
}

func renderDemand(raw map[string]any) error {
	payload, err := decodeInto[demandPayload](raw)
	if err != nil {
		return err
	}
	fmt.Printf("Demand for %s in %s: %.2f/h\n", payload.Product, payload.Sector, payload.Demand)
	return nil
}

func renderValuation(raw map[string]any) error {
	v, err := decodeInto[sim.Valuation](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== VALUATION: CORPORATION %d ==\n", v.CorporationID)
	fmt.Printf("Calculated price:    %s\n", formatDollars(v.CalculatedPrice))
	fmt.Printf("Fundamental value:   %s\n", formatDollars(v.FundamentalValue))
	fmt.Printf("Trade-weighted:      %s\n", formatDollars(v.TradeWeightedPrice))
	fmt.Printf("Book value/share:    %s\n", formatDollars(v.BookValue))
	fmt.Printf("Earnings value:      %s\n", formatDollars(v.EarningsValue))
	fmt.Printf("Cash/share:          %s\n", formatDollars(v.CashPerShare))
	fmt.Printf("Dividend yield:      %.2f%%\n", v.DividendYield*100)
	fmt.Printf("Annual profit:       %s\n", formatDollars(v.AnnualProfit))
	if v.HasTradeHistory {
		fmt.Printf("Recent trades:       %d\n\n", v.RecentTradeCount)
	} else {
		printWarn("Pricing from fundamentals only (thin trade history)")
		fmt.Println()
	}
	return nil
}

func renderBalanceSheet(raw map[string]any) error {
	sheet, err := decodeInto[sim.BalanceSheet](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== BALANCE SHEET: CORPORATION %d ==\n", sheet.CorporationID)
	fmt.Printf("Cash:         %s\n", formatDollars(sheet.Cash))
	fmt.Printf("Unit assets:  %s\n", formatDollars(sheet.UnitAssets))
	fmt.Printf("Total assets: %s\n", formatDollars(sheet.TotalAssets))
	fmt.Printf("Liabilities:  %s\n", formatDollars(sheet.Liabilities))
	if sheet.ShareholdersEquity < 0 {
		danger.Printf("Equity:       %s\n\n", formatDollars(sheet.ShareholdersEquity))
	} else {
		fmt.Printf("Equity:       %s\n\n", formatDollars(sheet.ShareholdersEquity))
	}
	return nil
}

func renderFinancials(raw map[string]any) error {
	payload, err := decodeInto[financialsPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== FINANCIALS: CORPORATION %d (%.0fh) ==\n", payload.CorporationID, payload.PeriodHours)
	if len(payload.Entries) == 0 {
		printInfo("No market entries.")
		return nil
	}
	fmt.Printf("%-6s %-4s %-16s %12s %12s %12s\n", "ENTRY", "ST", "SECTOR", "REVENUE", "COSTS", "PROFIT")
	for _, e := range payload.Entries {
		fmt.Printf("%-6d %-4s %-16s %12s %12s %12s\n",
			e.EntryID, e.StateCode, truncate(e.SectorName, 16),
			formatDollars(e.Revenue), formatDollars(e.VariableCosts), formatDollars(e.Profit))
	}
	fmt.Printf("\nTotal revenue %s, costs %s, profit %s\n\n",
		formatDollars(payload.Revenue), formatDollars(payload.VariableCosts), formatDollars(payload.Profit))
	return nil
}

func renderTrade(raw map[string]any, side string, qty int64) error {
	payload, err := decodeInto[tradePayload](raw)
	if err != nil {
		return err
	}
	verb := "Bought"
	if strings.EqualFold(side, "sell") {
		verb = "Sold"
	}
	printSuccess(fmt.Sprintf("%s %d share(s) at %s (valuation %s), trade id %d",
		verb, qty,
		formatDollars(payload.ExecutionPrice), formatDollars(payload.CalculatedPrice), payload.TradeID))
	return nil
}

func renderAuditReport(raw map[string]any) error {
	report, err := decodeInto[sim.AuditReport](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== AUDIT %s ==\n", report.RunID)
	fmt.Printf("Checked items: %d\n", report.CheckedItems)
	if len(report.Mismatches) == 0 {
		printSuccess("No mismatches.")
		fmt.Println()
		return nil
	}
	danger.Printf("%d mismatch(es):\n", len(report.Mismatches))
	for _, m := range report.Mismatches {
		fmt.Printf("  %-10s %-20s %-8s cached %.4f fresh %.4f\n",
			m.Universe, m.Item, m.Field, m.Cached, m.Fresh)
	}
	fmt.Println()
	return nil
}

func formatDollars(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
