package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"signalhub/internal/config"
	"signalhub/internal/ledger"
)

var costsPeriod string

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Summarize spend and savings from the usage ledger",
	Long: `Read the SQLite usage ledger and print total spend, routing savings,
cache savings, and the tier distribution for the chosen period. Requires
ledger.path to be configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCosts()
	},
}

func init() {
	costsCmd.Flags().StringVar(&costsPeriod, "period", "day", "rollup window: hour, day, week, or month")
}

func runCosts() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Ledger.Path == "" {
		return fmt.Errorf("no ledger file configured; set ledger.path")
	}

	dur, err := ledger.Period(costsPeriod).Duration()
	if err != nil {
		return err
	}

	store, err := ledger.OpenSQLite(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	end := time.Now()
	start := end.Add(-dur)
	records, err := store.Query(start, end, "")
	if err != nil {
		return fmt.Errorf("failed to query ledger: %w", err)
	}

	summary := ledger.Summarize(records, ledger.NewCalculator(cfg.Tiers), start, end)

	fmt.Printf("Usage for the last %s (%d requests)\n\n", costsPeriod, summary.RequestCount)
	fmt.Printf("  Total cost:       $%.4f\n", summary.TotalCost)
	fmt.Printf("  Routing savings:  $%.4f\n", summary.RoutingSavings)
	fmt.Printf("  Cache savings:    $%.4f (%d hits)\n", summary.CacheSavings, summary.CacheHits)
	fmt.Printf("  Total saved:      $%.4f\n", summary.TotalSaved)
	fmt.Printf("  Avg latency:      %.0f ms\n", summary.AvgLatencyMs)

	if len(summary.TierDistribution) > 0 {
		fmt.Println("\n  Tier distribution:")
		tiers := make([]string, 0, len(summary.TierDistribution))
		for tier := range summary.TierDistribution {
			tiers = append(tiers, tier)
		}
		sort.Strings(tiers)
		for _, tier := range tiers {
			fmt.Printf("    %-8s %d\n", tier, summary.TierDistribution[tier])
		}
	}
	return nil
}
