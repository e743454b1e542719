package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/internal/books"
	"github.com/mselser95/updown-pairs/internal/discovery"
	"github.com/mselser95/updown-pairs/pkg/config"
	"github.com/mselser95/updown-pairs/pkg/pricing"
	"github.com/mselser95/updown-pairs/pkg/types"
	"github.com/mselser95/updown-pairs/pkg/websocket"
)

//nolint:gochecknoglobals // Cobra boilerplate
var watchCmd = &cobra.Command{
	Use:   "watch [window-slug]",
	Short: "Watch live top-of-book and trigger levels for one window",
	Long: `Connects to the market WebSocket feed and prints the top of book for
both outcome tokens once a second, together with the first-leg trigger
levels of the first configured parameter set. A * marks a side whose
period-low ask has touched its trigger.

Example:
  updown-pairs watch btc-updown-15m-1760000400
  updown-pairs watch --asset btc`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringP("asset", "a", "", "Resolve the asset's current window instead of a slug")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
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

	if len(cfg.ParameterSets) == 0 {
		return fmt.Errorf("no parameter sets configured")
	}
	params := &cfg.ParameterSets[0]

	market, err := resolveWatchWindow(ctx, cmd, args, cfg, logger)
	if err != nil {
		return fmt.Errorf("resolve window: %w", err)
	}
	if market == nil {
		return fmt.Errorf("no live window found")
	}

	fmt.Printf("Window: %s\n", market.MarketID)
	fmt.Printf("Settles: %s\n", market.SettlementTime.UTC().Format(time.RFC3339))
	fmt.Printf("Parameter set: %s (S0=%d, delta=%d, pair cap=%d)\n\n",
		params.Name, params.S0Points, params.DeltaPoints, params.PairCapPoints())

	feed := websocket.New(websocket.Config{
		URL:                   cfg.PolymarketWSURL,
		DialTimeout:           cfg.WSDialTimeout,
		PongTimeout:           cfg.WSPongTimeout,
		PingInterval:          cfg.WSPingInterval,
		ReconnectInitialDelay: cfg.WSReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
		ReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
		MessageBufferSize:     cfg.WSMessageBufferSize,
		Logger:                logger,
	})
	if err := feed.Start(); err != nil {
		return fmt.Errorf("start websocket: %w", err)
	}
	defer func() {
		_ = feed.Close()
	}()

	bookMgr := books.New(&books.Config{
		Logger:         logger,
		MessageChannel: feed.MessageChan(),
	})
	if err := bookMgr.Start(ctx); err != nil {
		return fmt.Errorf("start book manager: %w", err)
	}
	defer func() {
		_ = bookMgr.Close()
	}()

	tokenIDs := []string{market.YesTokenID, market.NoTokenID}
	if err := feed.Subscribe(ctx, tokenIDs); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	fmt.Println("Subscribed! Watching both books...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			return nil
		case now := <-ticker.C:
			if now.After(market.SettlementTime) {
				fmt.Println("\nWindow settled.")
				return nil
			}
			printBookLine(bookMgr, market, params, now)
		}
	}
}

// resolveWatchWindow finds the window to watch: a slug argument resolves
// that exact window, otherwise --asset resolves the asset's current one.
func resolveWatchWindow(ctx context.Context, cmd *cobra.Command, args []string, cfg *config.Config, logger *zap.Logger) (*types.Market, error) {
	svc, marketCache, err := newDiscoveryService(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer marketCache.Close()

	if len(args) == 1 {
		slug := args[0]
		asset, err := discovery.AssetFromSlug(slug)
		if err != nil {
			return nil, err
		}
		return svc.FindMarketBySlug(ctx, asset, slug)
	}

	asset, _ := cmd.Flags().GetString("asset")
	asset = strings.ToLower(strings.TrimSpace(asset))
	if asset == "" {
		return nil, fmt.Errorf("pass a window slug or --asset")
	}
	return svc.FindMarket(ctx, asset, 0)
}

func printBookLine(bookMgr *books.Manager, market *types.Market, params *types.ParameterSet, now time.Time) {
	stamp := now.UTC().Format("15:04:05")

	yesTop, yesOK := bookMgr.Top(market.YesTokenID)
	noTop, noOK := bookMgr.Top(market.NoTokenID)
	if !yesOK || !noOK || !yesTop.Valid() || !noTop.Valid() {
		fmt.Printf("[%s] waiting for both books...\n", stamp)
		return
	}

	tick := market.TickSizePoints
	pairCap := params.PairCapPoints()

	yesTrigger := triggerLevel(params.S0Points, noTop.AskPoints, tick)
	noTrigger := triggerLevel(params.S0Points, yesTop.AskPoints, tick)

	yesLow := yesTop.PeriodLowAskPoints
	if yesLow == 0 {
		yesLow = yesTop.AskPoints
	}
	noLow := noTop.PeriodLowAskPoints
	if noLow == 0 {
		noLow = noTop.AskPoints
	}

	remaining := time.Duration(market.TimeRemaining(now) * float64(time.Second)).Round(time.Second)

	fmt.Printf("[%s] YES %d/%d low %d trig %d%s | NO %d/%d low %d trig %d%s | cap %d | %s left\n",
		stamp,
		yesTop.BidPoints, yesTop.AskPoints, yesLow, yesTrigger, touchMark(yesLow, yesTrigger, pairCap),
		noTop.BidPoints, noTop.AskPoints, noLow, noTrigger, touchMark(noLow, noTrigger, pairCap),
		pairCap,
		remaining,
	)
}

// triggerLevel computes the first-leg trigger the evaluator would use:
// 100 + S0 minus the opposite side's ask, floored to the tick grid and
// clamped to quotable range.
func triggerLevel(s0, oppositeAskPoints, tick int) int {
	raw, _ := pricing.FloorToTick(float64(100+s0-oppositeAskPoints), tick)
	return pricing.ClampTrigger(raw, tick)
}

// touchMark flags a side whose period-low ask already touched a viable
// trigger.
func touchMark(lowAsk, trigger, pairCap int) string {
	if lowAsk <= trigger && trigger < pairCap {
		return "*"
	}
	return ""
}
