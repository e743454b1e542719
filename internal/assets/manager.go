// Package assets runs the per-asset rotation: discover the live window,
// monitor it to settlement, then roll to the successor. One manager
// goroutine per configured asset.
package assets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/internal/books"
	"github.com/mselser95/updown-pairs/internal/discovery"
	"github.com/mselser95/updown-pairs/internal/monitor"
	"github.com/mselser95/updown-pairs/internal/storage"
	"github.com/mselser95/updown-pairs/pkg/config"
	"github.com/mselser95/updown-pairs/pkg/types"
	"github.com/mselser95/updown-pairs/pkg/websocket"
)

const (
	// maxDiscoveryAttempts bounds one discovery round. Windows appear on
	// the API with a lag after the boundary, so the retry budget spans a
	// few minutes before the manager re-probes from scratch.
	maxDiscoveryAttempts = 40

	// rotationPause separates settlement from the next discovery round.
	rotationPause = time.Second
)

// MarketSource resolves monitorable windows for an asset.
type MarketSource interface {
	FindMarket(ctx context.Context, asset string, lastSlugTS int64) (*types.Market, error)
	FindMarketBySlug(ctx context.Context, asset, slug string) (*types.Market, error)
}

// Config holds the per-asset manager dependencies.
type Config struct {
	Asset         string
	ParameterSets []types.ParameterSet
	Discovery     MarketSource
	Store         storage.Storage
	AppConfig     *config.Config
	Logger        *zap.Logger
}

// Status is a point-in-time view of one asset manager for the ops endpoint.
type Status struct {
	Asset            string          `json:"asset"`
	State            string          `json:"state"` // discovering | monitoring
	MarketsCompleted int             `json:"markets_completed"`
	TotalAttempts    int             `json:"total_attempts"`
	TotalPairs       int             `json:"total_pairs"`
	PairRate         float64         `json:"pair_rate"`
	LastWindowStart  int64           `json:"last_window_start,omitempty"`
	Monitor          *monitor.Status `json:"monitor,omitempty"`
}

// Manager rotates one asset through its 15-minute windows.
type Manager struct {
	asset     string
	params    []types.ParameterSet
	discovery MarketSource
	store     storage.Storage
	appCfg    *config.Config
	logger    *zap.Logger

	mu          sync.Mutex
	state       string
	lastSlugTS  int64
	marketsDone int
	attempts    int
	pairs       int
	summaries   []*types.MarketSummary
	current     *monitor.Monitor

	// Test seams; New wires the real implementations.
	runMarket func(ctx context.Context, market *types.Market) (*types.MarketSummary, error)
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a manager for one asset.
func New(cfg *Config) *Manager {
	m := &Manager{
		asset:     cfg.Asset,
		params:    cfg.ParameterSets,
		discovery: cfg.Discovery,
		store:     cfg.Store,
		appCfg:    cfg.AppConfig,
		logger:    cfg.Logger,
		state:     "discovering",
	}
	m.runMarket = m.monitorMarket
	m.sleep = ctxSleep
	return m
}

// Run rotates through windows until the context is canceled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("asset-manager-started",
		zap.String("asset", m.asset),
		zap.Int("parameter-sets", len(m.params)))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.setState("discovering", nil)
		market, err := m.findMarketWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Retry budget exhausted: drop the successor target and
			// re-probe from the current wall clock next round.
			m.logger.Error("discovery-exhausted",
				zap.String("asset", m.asset),
				zap.Duration("backoff", m.appCfg.DiscoveryPollInterval),
				zap.Error(err))
			m.setLastSlugTS(0)
			if err := m.sleep(ctx, m.appCfg.DiscoveryPollInterval); err != nil {
				return err
			}
			continue
		}

		summary, err := m.runMarket(ctx, market)
		if err != nil && ctx.Err() == nil {
			m.logger.Error("market-monitoring-failed",
				zap.String("asset", m.asset),
				zap.String("market-id", market.MarketID),
				zap.Error(err))
			MonitorFailuresTotal.WithLabelValues(m.asset).Inc()
		}
		if summary != nil {
			m.recordSummary(summary)
		}

		// Always target the successor of the window just handled, even
		// after a failure: re-monitoring a settled window is useless.
		if ts, err := discovery.ParseSlugTimestamp(market.MarketID); err == nil {
			m.setLastSlugTS(ts)
		}

		if err := m.sleep(ctx, rotationPause); err != nil {
			return err
		}
	}
}

// RunSingle monitors exactly one window and returns, for debugging a
// specific market instead of rotating.
func (m *Manager) RunSingle(ctx context.Context, slug string) error {
	market, err := m.discovery.FindMarketBySlug(ctx, m.asset, slug)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", slug, err)
	}
	if market == nil {
		return fmt.Errorf("window %s not found or already settled", slug)
	}

	summary, err := m.runMarket(ctx, market)
	if summary != nil {
		m.recordSummary(summary)
	}
	return err
}

// Status returns the manager's rotation counters. Safe for concurrent use.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Asset:            m.asset,
		State:            m.state,
		MarketsCompleted: m.marketsDone,
		TotalAttempts:    m.attempts,
		TotalPairs:       m.pairs,
		LastWindowStart:  m.lastSlugTS,
	}
	if m.attempts > 0 {
		s.PairRate = float64(m.pairs) / float64(m.attempts)
	}
	if m.current != nil {
		ms := m.current.Status()
		s.Monitor = &ms
	}
	return s
}

// Summaries returns a copy of every completed market summary this session.
func (m *Manager) Summaries() []*types.MarketSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.MarketSummary(nil), m.summaries...)
}

// findMarketWithRetry polls discovery until a window resolves or the
// attempt budget runs out. Lookup errors are retried like misses; only
// context cancellation exits early.
func (m *Manager) findMarketWithRetry(ctx context.Context) (*types.Market, error) {
	lastTS := m.lastWindowStart()
	for attempt := 0; attempt < maxDiscoveryAttempts; attempt++ {
		market, err := m.discovery.FindMarket(ctx, m.asset, lastTS)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			DiscoveryRetriesTotal.WithLabelValues(m.asset).Inc()
			m.logger.Warn("discovery-attempt-failed",
				zap.String("asset", m.asset),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else if market != nil {
			m.logger.Info("window-resolved",
				zap.String("asset", m.asset),
				zap.String("market-id", market.MarketID),
				zap.Time("settlement", market.SettlementTime),
				zap.Int("attempt", attempt))
			return market, nil
		} else {
			DiscoveryRetriesTotal.WithLabelValues(m.asset).Inc()
		}

		if err := m.sleep(ctx, retryDelay(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no window for %s after %d attempts", m.asset, maxDiscoveryAttempts)
}

// monitorMarket builds the per-window pipeline (feed, books, monitor) and
// runs it to completion. Everything is torn down before the next window so
// no book state or subscription leaks across rotations.
func (m *Manager) monitorMarket(ctx context.Context, market *types.Market) (*types.MarketSummary, error) {
	feed := websocket.New(websocket.Config{
		URL:                   m.appCfg.PolymarketWSURL,
		DialTimeout:           m.appCfg.WSDialTimeout,
		PongTimeout:           m.appCfg.WSPongTimeout,
		PingInterval:          m.appCfg.WSPingInterval,
		ReconnectInitialDelay: m.appCfg.WSReconnectInitialDelay,
		ReconnectMaxDelay:     m.appCfg.WSReconnectMaxDelay,
		ReconnectBackoffMult:  m.appCfg.WSReconnectBackoffMult,
		MessageBufferSize:     m.appCfg.WSMessageBufferSize,
		Logger:                m.logger,
	})
	if err := feed.Start(); err != nil {
		return nil, fmt.Errorf("start feed: %w", err)
	}

	bookMgr := books.New(&books.Config{
		Logger:         m.logger,
		MessageChannel: feed.MessageChan(),
	})
	if err := bookMgr.Start(ctx); err != nil {
		_ = feed.Close()
		return nil, fmt.Errorf("start books: %w", err)
	}

	defer func() {
		if err := feed.Close(); err != nil {
			m.logger.Warn("feed-close-failed", zap.String("asset", m.asset), zap.Error(err))
		}
		if err := bookMgr.Close(); err != nil {
			m.logger.Warn("books-close-failed", zap.String("asset", m.asset), zap.Error(err))
		}
	}()

	mon := monitor.New(&monitor.Config{
		Market:                market,
		ParameterSets:         m.params,
		Feed:                  feed,
		Books:                 bookMgr,
		Store:                 m.store,
		SamplingMode:          m.appCfg.SamplingMode,
		CycleInterval:         m.appCfg.CycleInterval,
		CyclesPerMarket:       m.appCfg.CyclesPerMarket,
		FeedGapThreshold:      m.appCfg.FeedGapThreshold,
		InitialBookTimeout:    m.appCfg.InitialBookTimeout,
		MaxRefSumDeviation:    float64(m.appCfg.MaxRefSumDeviation),
		MaxAnomaliesPerMarket: m.appCfg.MaxAnomaliesPerMarket,
		EnableSnapshots:       m.appCfg.EnableSnapshots,
		EnableLifecycle:       m.appCfg.EnableLifecycleTracking,
		Logger:                m.logger,
	})

	m.setState("monitoring", mon)
	defer m.setState("discovering", nil)

	return mon.Run(ctx)
}

func (m *Manager) recordSummary(summary *types.MarketSummary) {
	m.mu.Lock()
	m.marketsDone++
	m.attempts += summary.TotalAttempts
	m.pairs += summary.TotalPairs
	m.summaries = append(m.summaries, summary)
	marketsDone, attempts, pairs := m.marketsDone, m.attempts, m.pairs
	m.mu.Unlock()

	m.logger.Info("rotation-complete",
		zap.String("asset", m.asset),
		zap.String("market-id", summary.MarketID),
		zap.Int("session-markets", marketsDone),
		zap.Int("session-attempts", attempts),
		zap.Int("session-pairs", pairs))
}

func (m *Manager) setState(state string, mon *monitor.Monitor) {
	m.mu.Lock()
	m.state = state
	m.current = mon
	m.mu.Unlock()
}

func (m *Manager) setLastSlugTS(ts int64) {
	m.mu.Lock()
	m.lastSlugTS = ts
	m.mu.Unlock()
}

func (m *Manager) lastWindowStart() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSlugTS
}

// retryDelay backs off from two seconds to a five-second ceiling.
func retryDelay(attempt int) time.Duration {
	delay := time.Duration(2+attempt) * time.Second
	if delay > 5*time.Second {
		delay = 5 * time.Second
	}
	return delay
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
