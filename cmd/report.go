package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/internal/storage"
	"github.com/mselser95/updown-pairs/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize measured attempts from the Postgres journal",
	Long: `Reads the attempts journal from Postgres and prints pair-rate and
profitability breakdowns: overall totals, per asset, per first leg, per
time-remaining bucket, the time-to-pair distribution, failure reasons,
near-miss analysis and a side-by-side parameter set comparison.`,
	RunE: runReport,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Int64P("parameter-set", "p", 0, "Restrict to one parameter set ID")
	reportCmd.Flags().StringP("asset", "a", "", "Restrict to one crypto asset")
	reportCmd.Flags().String("after", "", "Restrict to attempts entered at or after this time (RFC3339 or YYYY-MM-DD)")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	filter, err := reportFilterFromFlags(cmd)
	if err != nil {
		return err
	}

	store, logger, err := openAnalyticsStore()
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
		_ = logger.Sync()
	}()

	printFilter(filter)

	overall, err := store.GetOverallStats(ctx, filter)
	if err != nil {
		return err
	}
	fmt.Printf("\n=== OVERALL ===\n")
	fmt.Printf("  Attempts:         %d\n", overall.TotalAttempts)
	fmt.Printf("  Paired:           %d (%.1f%%)\n", overall.TotalPairs, overall.PairRate*100)
	fmt.Printf("  Failed:           %d\n", overall.TotalFailed)
	fmt.Printf("  Avg time to pair: %.1fs\n", overall.AvgTimeToPair)
	fmt.Printf("  Avg pair cost:    %.1f pts\n", overall.AvgCostPoints)
	fmt.Printf("  Avg pair profit:  %.1f pts\n", overall.AvgProfit)

	byAsset, err := store.GetStatsByAsset(ctx, filter)
	if err != nil {
		return err
	}
	printGroupTable("BY ASSET", "ASSET", byAsset)

	byLeg, err := store.GetStatsByFirstLeg(ctx, filter)
	if err != nil {
		return err
	}
	printGroupTable("BY FIRST LEG", "FIRST LEG", byLeg)

	byBucket, err := store.GetStatsByTimeBucket(ctx, filter)
	if err != nil {
		return err
	}
	printGroupTable("BY TIME REMAINING", "BUCKET", byBucket)

	ttp, err := store.GetTimeToPairDistribution(ctx, filter)
	if err != nil {
		return err
	}
	printGroupTable("TIME TO PAIR", "BUCKET", ttp)

	failures, err := store.GetFailureBreakdown(ctx, filter)
	if err != nil {
		return err
	}
	printFailureTable(failures)

	nearMiss, err := store.GetNearMissAnalysis(ctx, filter)
	if err != nil {
		return err
	}
	printNearMiss(nearMiss)

	comparison, err := store.GetParameterSetComparison(ctx)
	if err != nil {
		return err
	}
	printComparisonTable(comparison)

	return nil
}

// openAnalyticsStore connects the offline analysis commands to the Postgres
// journal. Console-mode runs leave nothing behind to analyze.
func openAnalyticsStore() (*storage.PostgresStorage, *zap.Logger, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found\n")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	if cfg.StorageMode != "postgres" {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("analysis needs STORAGE_MODE=postgres, got %q", cfg.StorageMode)
	}

	store, err := storage.NewPostgresStorage(&storage.PostgresConfig{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPass,
		Database: cfg.PostgresDB,
		SSLMode:  cfg.PostgresSSL,
		Logger:   logger,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	return store, logger, nil
}

func reportFilterFromFlags(cmd *cobra.Command) (storage.ReportFilter, error) {
	setID, _ := cmd.Flags().GetInt64("parameter-set")
	asset, _ := cmd.Flags().GetString("asset")
	afterRaw, _ := cmd.Flags().GetString("after")

	after, err := parseAfter(afterRaw)
	if err != nil {
		return storage.ReportFilter{}, err
	}

	return storage.ReportFilter{
		ParameterSetID: setID,
		Asset:          strings.ToLower(strings.TrimSpace(asset)),
		After:          after,
	}, nil
}

// parseAfter parses a time bound flag. Accepts RFC3339 or a bare date.
func parseAfter(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339 or YYYY-MM-DD", raw)
	}
	return t, nil
}

func printFilter(f storage.ReportFilter) {
	var parts []string
	if f.ParameterSetID > 0 {
		parts = append(parts, fmt.Sprintf("parameter set %d", f.ParameterSetID))
	}
	if f.Asset != "" {
		parts = append(parts, "asset "+f.Asset)
	}
	if !f.After.IsZero() {
		parts = append(parts, "after "+f.After.UTC().Format(time.RFC3339))
	}
	if len(parts) > 0 {
		fmt.Printf("Filter: %s\n", strings.Join(parts, ", "))
	}
}

func printGroupTable(title, keyHeader string, groups []storage.GroupStats) {
	fmt.Printf("\n=== %s ===\n", title)
	if len(groups) == 0 {
		fmt.Println("  no attempts")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header(keyHeader, "ATTEMPTS", "PAIRS", "PAIR RATE", "AVG TTP", "AVG PROFIT", "AVG MAE")
	for _, g := range groups {
		table.Append(
			g.Key,
			fmt.Sprintf("%d", g.Attempts),
			fmt.Sprintf("%d", g.Pairs),
			fmt.Sprintf("%.1f%%", g.PairRate*100),
			fmt.Sprintf("%.1fs", g.AvgTTP),
			fmt.Sprintf("%.1f", g.AvgProfit),
			fmt.Sprintf("%.1f", g.AvgMAE),
		)
	}
	table.Render()
}

func printFailureTable(failures []storage.FailureStats) {
	fmt.Printf("\n=== FAILURES ===\n")
	if len(failures) == 0 {
		fmt.Println("  no failed attempts")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("REASON", "COUNT", "AVG CLOSEST")
	for _, f := range failures {
		table.Append(
			f.Reason,
			fmt.Sprintf("%d", f.Count),
			fmt.Sprintf("%.1f pts", f.AvgClosestApproach),
		)
	}
	table.Render()
}

func printNearMiss(nm *storage.NearMissStats) {
	fmt.Printf("\n=== NEAR MISSES ===\n")
	if nm.TotalFailed == 0 {
		fmt.Println("  no failed attempts")
		return
	}

	fmt.Printf("  Failed attempts:  %d\n", nm.TotalFailed)
	fmt.Printf("  Within 2pt:       %d (frustration rate %.1f%%)\n", nm.NearMisses, nm.FrustrationRate*100)
	fmt.Printf("  Avg closest:      %.1f pts\n", nm.AvgClosest)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("PROXIMITY", "COUNT")
	for _, g := range nm.Proximity {
		table.Append(g.Key, fmt.Sprintf("%d", g.Attempts))
	}
	table.Render()
}

func printComparisonTable(sets []storage.ParameterSetStats) {
	fmt.Printf("\n=== PARAMETER SETS ===\n")
	if len(sets) == 0 {
		fmt.Println("  no parameter sets stored")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "NAME", "S0", "DELTA", "STOP", "ATTEMPTS", "PAIRS", "PAIR RATE", "AVG TTP", "AVG PROFIT")
	for _, ps := range sets {
		stop := "-"
		if ps.StopLossPoints != nil {
			stop = fmt.Sprintf("%d", *ps.StopLossPoints)
		}
		table.Append(
			fmt.Sprintf("%d", ps.ParameterSetID),
			ps.Name,
			fmt.Sprintf("%d", ps.S0Points),
			fmt.Sprintf("%d", ps.DeltaPoints),
			stop,
			fmt.Sprintf("%d", ps.Attempts),
			fmt.Sprintf("%d", ps.Pairs),
			fmt.Sprintf("%.1f%%", ps.PairRate*100),
			fmt.Sprintf("%.1fs", ps.AvgTTP),
			fmt.Sprintf("%.1f", ps.AvgProfit),
		)
	}
	table.Render()
}
