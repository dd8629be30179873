package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "corpsim/internal/cli"
	"corpsim/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()

	root := &cobra.Command{
		Use:          "corp",
		Short:        "Market simulation CLI client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newMarketCmd(cfg),
		newDemandCmd(cfg),
		newCorpCmd(cfg),
		newEntryCmd(cfg),
		newTradeCmd(cfg),
		newAdminCmd(cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(cfg config.CLIConfig) *cl.Client {
	return cl.NewClient(cfg.APIBaseURL, cfg.AdminToken)
}

func cmdContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newMarketCmd(cfg config.CLIConfig) *cobra.Command {
	market := &cobra.Command{
		Use:   "market",
		Short: "Inspect commodity and product markets",
	}
	for _, universe := range []string{"commodities", "products"} {
		universe := universe
		market.AddCommand(&cobra.Command{
			Use:   universe + " [name]",
			Short: "Show the " + universe + " market",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := cmdContext(cmd)
				defer cancel()
				client := newClient(cfg)
				if len(args) == 1 {
					raw, err := client.MarketDetail(ctx, universe, args[0])
					if err != nil {
						return err
					}
					return renderItemQuote(raw)
				}
				raw, err := client.MarketSummary(ctx, universe)
				if err != nil {
					return err
				}
				return renderMarketSummary(raw, universe)
			},
		})
	}
	return market
}

func newDemandCmd(cfg config.CLIConfig) *cobra.Command {
	var sector string
	cmd := &cobra.Command{
		Use:   "demand <product>",
		Short: "Show sector demand for a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(sector) == "" {
				return fmt.Errorf("--sector is required")
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			raw, err := newClient(cfg).ProductDemand(ctx, args[0], sector)
			if err != nil {
				return err
			}
			return renderDemand(raw)
		},
	}
	cmd.Flags().StringVar(&sector, "sector", "", "sector name")
	return cmd
}

func newCorpCmd(cfg config.CLIConfig) *cobra.Command {
	corp := &cobra.Command{
		Use:   "corp",
		Short: "Corporation operations",
	}

	var name string
	var capital float64
	var totalShares, publicShares int64
	var dividendBps int32
	create := &cobra.Command{
		Use:   "create",
		Short: "Found a corporation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			raw, err := newClient(cfg).CreateCorporation(ctx, name, capital, totalShares, publicShares, dividendBps, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Corporation %q created with id %v", name, raw["id"]))
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "corporation name")
	create.Flags().Float64Var(&capital, "capital", 100_000, "starting capital in dollars")
	create.Flags().Int64Var(&totalShares, "shares", 1_000_000, "total shares outstanding")
	create.Flags().Int64Var(&publicShares, "public", 0, "publicly held shares")
	create.Flags().Int32Var(&dividendBps, "dividend-bps", 0, "dividend payout in basis points")

	valuation := &cobra.Command{
		Use:   "valuation <id>",
		Short: "Show a corporation's blended valuation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			raw, err := newClient(cfg).Valuation(ctx, id)
			if err != nil {
				return err
			}
			return renderValuation(raw)
		},
	}

	balance := &cobra.Command{
		Use:   "balance-sheet <id>",
		Short: "Show a corporation's balance sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			raw, err := newClient(cfg).BalanceSheet(ctx, id)
			if err != nil {
				return err
			}
			return renderBalanceSheet(raw)
		},
	}

	var hours float64
	financials := &cobra.Command{
		Use:   "financials <id>",
		Short: "Show per-entry revenue and cost over a period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			raw, err := newClient(cfg).Financials(ctx, id, hours)
			if err != nil {
				return err
			}
			return renderFinancials(raw)
		},
	}
	financials.Flags().Float64Var(&hours, "hours", 24, "period length in hours")

	var stateCode, sectorName string
	enter := &cobra.Command{
		Use:   "enter <id>",
		Short: "Enter a state/sector market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(stateCode) == "" || strings.TrimSpace(sectorName) == "" {
				return fmt.Errorf("--state and --sector are required")
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			raw, err := newClient(cfg).EnterMarket(ctx, id, stateCode, sectorName, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Entered %s/%s, entry id %v", stateCode, sectorName, raw["entry_id"]))
			return nil
		},
	}
	enter.Flags().StringVar(&stateCode, "state", "", "two-letter state code")
	enter.Flags().StringVar(&sectorName, "sector", "", "sector name")

	corp.AddCommand(create, valuation, balance, financials, enter)
	return corp
}

func newEntryCmd(cfg config.CLIConfig) *cobra.Command {
	entry := &cobra.Command{
		Use:   "entry",
		Short: "Market entry operations",
	}

	var unitType string
	var count int64
	build := &cobra.Command{
		Use:   "build <entry-id>",
		Short: "Build business units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			if _, err := newClient(cfg).BuildUnits(ctx, id, unitType, count, uuid.NewString()); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Built %d %s unit(s)", count, unitType))
			return nil
		},
	}
	build.Flags().StringVar(&unitType, "type", "", "unit type (production, retail, service, extraction)")
	build.Flags().Int64Var(&count, "count", 1, "number of units")

	var abandonType string
	var abandonCount int64
	abandon := &cobra.Command{
		Use:   "abandon <entry-id>",
		Short: "Abandon business units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			if _, err := newClient(cfg).AbandonUnits(ctx, id, abandonType, abandonCount, uuid.NewString()); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Abandoned %d %s unit(s)", abandonCount, abandonType))
			return nil
		},
	}
	abandon.Flags().StringVar(&abandonType, "type", "", "unit type")
	abandon.Flags().Int64Var(&abandonCount, "count", 1, "number of units")

	drop := &cobra.Command{
		Use:   "drop <entry-id>",
		Short: "Abandon a whole market entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			if _, err := newClient(cfg).AbandonEntry(ctx, id, uuid.NewString()); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Entry %d abandoned", id))
			return nil
		},
	}

	entry.AddCommand(build, abandon, drop)
	return entry
}

func newTradeCmd(cfg config.CLIConfig) *cobra.Command {
	var side string
	var quantity int64
	cmd := &cobra.Command{
		Use:   "trade <corporation-id>",
		Short: "Trade shares at the spread-adjusted price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			raw, err := newClient(cfg).TradeShares(ctx, id, side, quantity, uuid.NewString())
			if err != nil {
				return err
			}
			return renderTrade(raw, side, quantity)
		},
	}
	cmd.Flags().StringVar(&side, "side", "buy", "buy or sell")
	cmd.Flags().Int64Var(&quantity, "qty", 1, "share quantity")
	return cmd
}

func newAdminCmd(cfg config.CLIConfig) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations (requires CORPSIM_ADMIN_TOKEN)",
	}

	admin.AddCommand(&cobra.Command{
		Use:   "invalidate",
		Short: "Drop the cached market summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			if _, err := newClient(cfg).InvalidateMarket(ctx); err != nil {
				return err
			}
			printSuccess("Market cache invalidated")
			return nil
		},
	})

	admin.AddCommand(&cobra.Command{
		Use:   "audit",
		Short: "Run a cache-vs-fresh audit pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			raw, err := newClient(cfg).RunAudit(ctx)
			if err != nil {
				return err
			}
			return renderAuditReport(raw)
		},
	})

	return admin
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
