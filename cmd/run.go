package cmd

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mselser95/updown-pairs/internal/app"
	"github.com/mselser95/updown-pairs/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the measurement harness",
	Long: `Starts the measurement harness, which will:
1. Resolve the live 15-minute window per asset from the Gamma API
2. Mirror both order books over WebSocket
3. Sample the books on the configured cadence and journal pairing attempts
4. Rotate to the successor window at settlement

Use --single-market to measure one window and exit, and --dry-run to log
rows to the console instead of Postgres.`,
	RunE: runHarness,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("single-market", "s", "", "Measure one window by slug, then exit (for debugging)")
	runCmd.Flags().Bool("dry-run", false, "Log storage writes to the console instead of Postgres")
	runCmd.Flags().String("assets", "", "Comma-separated asset override, e.g. btc,eth")
}

func runHarness(cmd *cobra.Command, args []string) error {
	// Load .env
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found\n")
	}

	// Load config
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create logger
	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	// Get flags
	singleMarket, _ := cmd.Flags().GetString("single-market")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	assetsFlag, _ := cmd.Flags().GetString("assets")
	if assetsFlag != "" {
		cfg.CryptoAssets = splitAssets(assetsFlag)
	}

	// Create app with options
	opts := &app.Options{
		DryRun:       dryRun,
		SingleMarket: singleMarket,
	}

	application, err := app.New(cfg, logger, opts)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	// Run app
	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}

// splitAssets parses a comma-separated asset override, lower-casing
// entries and dropping empty segments.
func splitAssets(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
