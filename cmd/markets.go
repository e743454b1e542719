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

	"github.com/mselser95/updown-pairs/internal/discovery"
	"github.com/mselser95/updown-pairs/pkg/cache"
	"github.com/mselser95/updown-pairs/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "Show the live updown window for each configured asset",
	Long: `Resolves the current updown window for every configured asset through
the Gamma API and prints the window slug, settlement time and token IDs.
Useful for checking discovery before starting a measurement run.`,
	RunE: runMarkets,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(marketsCmd)
	marketsCmd.Flags().StringP("asset", "a", "", "Resolve a single asset instead of the configured list")
}

func runMarkets(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found\n")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	assets := cfg.CryptoAssets
	if asset, _ := cmd.Flags().GetString("asset"); asset != "" {
		assets = []string{strings.ToLower(strings.TrimSpace(asset))}
	}
	if len(assets) == 0 {
		return fmt.Errorf("no assets configured: set CRYPTO_ASSETS or pass --asset")
	}

	svc, marketCache, err := newDiscoveryService(cfg, logger)
	if err != nil {
		return err
	}
	defer marketCache.Close()

	now := time.Now()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ASSET", "WINDOW", "SETTLES", "REMAINING", "YES TOKEN", "NO TOKEN")

	found := 0
	for _, asset := range assets {
		market, err := svc.FindMarket(ctx, asset, 0)
		if err != nil {
			return fmt.Errorf("find market for %s: %w", asset, err)
		}
		if market == nil {
			table.Append(asset, "no live window", "-", "-", "-", "-")
			continue
		}

		remaining := time.Duration(market.TimeRemaining(now) * float64(time.Second))
		table.Append(
			market.CryptoAsset,
			market.MarketID,
			market.SettlementTime.UTC().Format("15:04:05"),
			remaining.Round(time.Second).String(),
			truncateToken(market.YesTokenID),
			truncateToken(market.NoTokenID),
		)
		found++
	}

	table.Render()

	fmt.Printf("\n%d of %d assets have a live window\n", found, len(assets))

	return nil
}

// newDiscoveryService builds a one-shot discovery service for CLI commands.
// The caller owns the returned cache and must Close it.
func newDiscoveryService(cfg *config.Config, logger *zap.Logger) (*discovery.Service, cache.Cache, error) {
	marketCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create cache: %w", err)
	}

	client := discovery.NewClient(cfg.PolymarketGammaURL, logger)
	svc := discovery.New(&discovery.Config{
		Client:           client,
		Cache:            marketCache,
		MarketType:       cfg.MarketType,
		PreDiscoveryLead: cfg.PreDiscoveryLead,
		Logger:           logger,
	})

	return svc, marketCache, nil
}

// truncateToken shortens an outcome token ID for table display. Token IDs
// are ~77-digit decimals; the first and last few digits identify them well
// enough for eyeballing.
func truncateToken(tokenID string) string {
	if len(tokenID) <= 16 {
		return tokenID
	}
	return tokenID[:8] + "..." + tokenID[len(tokenID)-4:]
}
