package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/usagegate/adapters/sqlite"
	"github.com/artpar/usagegate/domain/quota"
	"github.com/artpar/usagegate/domain/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage <identity>",
	Short: "Show recorded usage for an identity",
	Long: `Show aggregated usage and recent events for an identity.

Examples:
  usagegate usage user-123
  usagegate usage user-123 --period=2025-06
  usagegate usage user-123 --provider=openai --events=20`,
	Args: cobra.ExactArgs(1),
	RunE: runUsage,
}

var (
	usagePeriod   string
	usageProvider string
	usageEvents   int
)

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().StringVar(&usagePeriod, "period", "", "billing period, e.g. 2025-06 (default: current)")
	usageCmd.Flags().StringVar(&usageProvider, "provider", "", "filter by provider")
	usageCmd.Flags().IntVar(&usageEvents, "events", 10, "number of recent events to show (0 hides them)")
}

func runUsage(cmd *cobra.Command, args []string) error {
	identity := args[0]
	period := usagePeriod
	if period == "" {
		period = quota.PeriodKey(time.Now())
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewUsageStore(db)
	ctx := context.Background()

	var (
		summary usage.Summary
	)
	if usageProvider != "" {
		summary, err = store.GetProviderSummary(ctx, identity, usageProvider, period)
	} else {
		summary, err = store.GetSummary(ctx, identity, period)
	}
	if err != nil {
		return fmt.Errorf("failed to load usage: %w", err)
	}

	fmt.Printf("Usage for %s (%s)\n", identity, period)
	fmt.Printf("  Provider:    %s\n", summary.Provider)
	fmt.Printf("  Calls:       %d\n", summary.Calls)
	fmt.Printf("  Tokens:      %d in / %d out\n", summary.TokensIn, summary.TokensOut)
	fmt.Printf("  Cost:        $%.4f\n", summary.CostUSD)
	fmt.Printf("  Errors:      %d\n", summary.ErrorCount)
	fmt.Printf("  Avg latency: %dms\n", summary.AvgLatencyMs)

	if usageEvents <= 0 {
		return nil
	}

	events, err := store.GetRecent(ctx, identity, usageEvents)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPROVIDER\tENDPOINT\tSTATUS\tTOKENS\tCOST")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t$%.4f\n",
			e.Timestamp.Format("01-02 15:04:05"), e.Provider, e.Endpoint,
			e.StatusCode, e.Tokens(), e.CostUSD)
	}
	w.Flush()
	return nil
}
