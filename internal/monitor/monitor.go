// Package monitor drives the measurement loop for one 15-minute market: it
// subscribes the feed, samples the books on a fixed schedule, runs every
// parameter-set evaluator against one shared snapshot per cycle, and flushes
// the resulting attempt transitions to storage in batches.
//
// A monitor owns exactly one market from subscription to settlement. The
// per-asset manager constructs a fresh monitor (and fresh evaluators) for
// each market in the rotation so no state leaks across windows.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/internal/evaluator"
	"github.com/mselser95/updown-pairs/internal/storage"
	"github.com/mselser95/updown-pairs/pkg/types"
)

// settleFlushTimeout bounds the final storage writes at settlement or
// shutdown, when the run context may already be canceled.
const settleFlushTimeout = 10 * time.Second

// Feed is the monitor's view of the websocket connection.
type Feed interface {
	Subscribe(ctx context.Context, tokenIDs []string) error
}

// BookSource serves point-in-time book tops and the period extremes
// accumulated since the previous cycle boundary.
type BookSource interface {
	Top(tokenID string) (types.BookTop, bool)
	ResetPeriodLows()
	LastMessageTime() time.Time
	WaitForBooks(ctx context.Context, tokenIDs []string, timeout time.Duration) error
}

// Config holds the monitor dependencies and sampling settings.
type Config struct {
	Market        *types.Market
	ParameterSets []types.ParameterSet
	Feed          Feed
	Books         BookSource
	Store         storage.Storage

	SamplingMode    types.SamplingMode
	CycleInterval   time.Duration
	CyclesPerMarket int

	FeedGapThreshold      time.Duration
	InitialBookTimeout    time.Duration
	MaxRefSumDeviation    float64
	MaxAnomaliesPerMarket int
	EnableSnapshots       bool
	EnableLifecycle       bool

	Logger *zap.Logger
}

// Status is a point-in-time view of one monitor for the ops endpoint.
type Status struct {
	MarketID             string  `json:"market_id"`
	Cycle                int     `json:"cycle"`
	PlannedCycles        int     `json:"planned_cycles"`
	ActiveAttempts       int     `json:"active_attempts"`
	TotalAttempts        int     `json:"total_attempts"`
	TotalPairs           int     `json:"total_pairs"`
	TimeRemainingSeconds float64 `json:"time_remaining_seconds"`
	FeedGaps             int     `json:"feed_gaps"`
	Anomalies            int     `json:"anomalies"`
}

// Monitor measures one market. Run drives everything from a single
// goroutine; Status may be called concurrently.
type Monitor struct {
	market     *types.Market
	feed       Feed
	books      BookSource
	store      storage.Storage
	evaluators []*evaluator.Evaluator
	logger     *zap.Logger
	cfg        *Config

	interval       time.Duration
	planned        int
	startRemaining float64

	cycleNumber    int
	feedGaps       int
	anomalies      int
	budgetExceeded bool
	pairTimes      []float64

	mu     sync.Mutex
	status Status

	now func() time.Time
}

// New creates a monitor with one fresh evaluator per parameter set. The
// first parameter set is the primary: its id owns the market row and its
// statistics drive the market summary.
func New(cfg *Config) *Monitor {
	evaluators := make([]*evaluator.Evaluator, 0, len(cfg.ParameterSets))
	for i := range cfg.ParameterSets {
		evaluators = append(evaluators, evaluator.New(&evaluator.Config{
			Market:             cfg.Market,
			ParameterSet:       &cfg.ParameterSets[i],
			MaxRefSumDeviation: cfg.MaxRefSumDeviation,
			EnableLifecycle:    cfg.EnableLifecycle,
			Logger:             cfg.Logger,
		}))
	}
	return &Monitor{
		market:     cfg.Market,
		feed:       cfg.Feed,
		books:      cfg.Books,
		store:      cfg.Store,
		evaluators: evaluators,
		logger:     cfg.Logger,
		cfg:        cfg,
		status:     Status{MarketID: cfg.Market.MarketID},
		now:        time.Now,
	}
}

// Run monitors the market until settlement or context cancellation and
// returns the final summary. Shutdown is not an error: the summary's
// WasShutdown flag distinguishes the two exits.
func (m *Monitor) Run(ctx context.Context) (*types.MarketSummary, error) {
	now := m.now()
	remaining := m.market.TimeRemaining(now)
	if remaining <= 0 {
		return nil, fmt.Errorf("market %s already settled", m.market.MarketID)
	}
	m.startRemaining = remaining
	m.interval, m.planned = m.schedule(remaining)

	tokens := []string{m.market.YesTokenID, m.market.NoTokenID}
	if err := m.feed.Subscribe(ctx, tokens); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", m.market.MarketID, err)
	}
	if err := m.books.WaitForBooks(ctx, tokens, m.cfg.InitialBookTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Cycles skip on their own while a book is missing; keep going so a
		// late book still yields a partial market instead of none.
		m.logger.Warn("initial-books-incomplete",
			zap.String("market-id", m.market.MarketID),
			zap.Duration("timeout", m.cfg.InitialBookTimeout),
			zap.Error(err))
	}

	m.logger.Info("market-monitor-started",
		zap.String("market-id", m.market.MarketID),
		zap.String("asset", m.market.CryptoAsset),
		zap.Float64("time-remaining", remaining),
		zap.Duration("cycle-interval", m.interval),
		zap.Int("planned-cycles", m.planned),
		zap.Int("parameter-sets", len(m.evaluators)))

	if err := m.store.InsertMarket(ctx, m.market, m.primaryID(), now, remaining, m.interval.Seconds()); err != nil {
		m.logger.Error("storage-write-failed",
			zap.String("operation", "insert_market"),
			zap.String("market-id", m.market.MarketID),
			zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return m.settle(types.FailBotShutdown), nil
		default:
		}

		now = m.now()
		remaining = m.market.TimeRemaining(now)
		if remaining <= 0 {
			return m.settle(types.FailSettlementReached), nil
		}

		m.runCycle(ctx, now, remaining)

		sleep := m.interval
		if rem := time.Duration(remaining * float64(time.Second)); rem < sleep {
			sleep = rem
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return m.settle(types.FailBotShutdown), nil
		case <-timer.C:
		}
	}
}

// Status returns the latest per-cycle counters. Safe for concurrent use.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// schedule derives the cycle interval and planned cycle count from the time
// remaining at start. FIXED_COUNT spreads the configured count across the
// window with a one-second floor; FIXED_INTERVAL keeps the configured
// interval and plans however many cycles fit.
func (m *Monitor) schedule(remaining float64) (time.Duration, int) {
	if m.cfg.SamplingMode == types.SamplingFixedCount {
		count := m.cfg.CyclesPerMarket
		if count < 1 {
			count = 1
		}
		interval := time.Duration(remaining / float64(count) * float64(time.Second))
		if interval < time.Second {
			interval = time.Second
		}
		return interval, count
	}

	interval := m.cfg.CycleInterval
	if interval <= 0 {
		interval = time.Second
	}
	planned := int(remaining / interval.Seconds())
	if planned < 1 {
		planned = 1
	}
	return interval, planned
}

// runCycle executes one measurement cycle: feed-gap check, snapshot capture,
// sequential evaluation, batched flush.
func (m *Monitor) runCycle(ctx context.Context, now time.Time, remaining float64) {
	start := time.Now()
	m.cycleNumber++

	if last := m.books.LastMessageTime(); !last.IsZero() && now.Sub(last) > m.cfg.FeedGapThreshold {
		m.feedGaps++
		CyclesTotal.WithLabelValues("feed_gap").Inc()
		for _, ev := range m.evaluators {
			ev.MarkFeedGap()
		}
		m.logger.Warn("cycle-skipped-feed-gap",
			zap.String("market-id", m.market.MarketID),
			zap.Int("cycle", m.cycleNumber),
			zap.Duration("gap", now.Sub(last)),
			zap.Duration("threshold", m.cfg.FeedGapThreshold))
		m.publishStatus(remaining)
		return
	}

	snap := m.captureSnapshot(m.cycleNumber, now, remaining)
	m.books.ResetPeriodLows()

	var (
		newAttempts []*types.Attempt
		paired      []*types.Attempt
		stopped     []*types.Attempt
		lifecycle   []types.LifecycleRecord

		anomaly       bool
		skipped       bool
		primaryActive int
	)
	for i, ev := range m.evaluators {
		res := ev.EvaluateCycle(snap, m.cycleNumber, now, remaining)
		if i == 0 {
			skipped = res.Skipped
			primaryActive = res.ActiveCount
			for _, a := range res.PairedAttempts {
				m.pairTimes = append(m.pairTimes, a.TimeToPairSeconds)
			}
		}
		anomaly = anomaly || res.Anomaly
		newAttempts = append(newAttempts, res.NewAttempts...)
		paired = append(paired, res.PairedAttempts...)
		stopped = append(stopped, res.StoppedAttempts...)
		lifecycle = append(lifecycle, res.LifecycleRecords...)
	}

	if anomaly {
		m.anomalies++
		AnomaliesTotal.Inc()
		if m.anomalies > m.cfg.MaxAnomaliesPerMarket && !m.budgetExceeded {
			m.budgetExceeded = true
			m.logger.Warn("anomaly-budget-exceeded",
				zap.String("market-id", m.market.MarketID),
				zap.Int("anomalies", m.anomalies),
				zap.Int("budget", m.cfg.MaxAnomaliesPerMarket))
		}
	}

	m.flush(ctx, &snap, skipped, anomaly, primaryActive, newAttempts, paired, stopped, lifecycle)

	result := "ok"
	if skipped {
		result = "skipped"
	}
	CyclesTotal.WithLabelValues(result).Inc()
	CycleDuration.Observe(time.Since(start).Seconds())

	m.logger.Debug("cycle-complete",
		zap.String("market-id", m.market.MarketID),
		zap.Int("cycle", m.cycleNumber),
		zap.Float64("time-remaining", remaining),
		zap.Int("new-attempts", len(newAttempts)),
		zap.Int("paired", len(paired)),
		zap.Int("stopped", len(stopped)),
		zap.Int("active", primaryActive))

	m.publishStatus(remaining)
}

// captureSnapshot reads both book tops into the cycle's immutable snapshot.
// Missing books leave zero fields and the snapshot fails validation inside
// each evaluator.
func (m *Monitor) captureSnapshot(cycleNumber int, now time.Time, remaining float64) types.Snapshot {
	snap := types.Snapshot{
		MarketID:             m.market.MarketID,
		CycleNumber:          cycleNumber,
		Timestamp:            now,
		TimeRemainingSeconds: remaining,
	}
	if top, ok := m.books.Top(m.market.YesTokenID); ok {
		snap.YesBidPoints = top.BidPoints
		snap.YesAskPoints = top.AskPoints
		snap.YesPeriodLowAskPoints = top.PeriodLowAskPoints
		snap.YesPeriodLowBidPoints = top.PeriodLowBidPoints
		snap.YesLastTradePoints = top.LastTradePoints
	}
	if top, ok := m.books.Top(m.market.NoTokenID); ok {
		snap.NoBidPoints = top.BidPoints
		snap.NoAskPoints = top.AskPoints
		snap.NoPeriodLowAskPoints = top.PeriodLowAskPoints
		snap.NoPeriodLowBidPoints = top.PeriodLowBidPoints
		snap.NoLastTradePoints = top.LastTradePoints
	}
	return snap
}

// flush persists one cycle's output. Order matters: new attempts first so
// later transitions in the same run reference persisted ids. Write failures
// are logged and dropped; a dead database must not stop measurement.
func (m *Monitor) flush(ctx context.Context, snap *types.Snapshot, skipped, anomaly bool, primaryActive int,
	newAttempts, paired, stopped []*types.Attempt, lifecycle []types.LifecycleRecord) {
	if len(newAttempts) > 0 {
		if err := m.store.InsertAttemptsBatch(ctx, newAttempts); err != nil {
			m.logWriteError("insert_attempts", err)
		}
	}
	if len(paired) > 0 {
		if err := m.store.UpdateAttemptsPairedBatch(ctx, paired); err != nil {
			m.logWriteError("update_paired", err)
		}
	}
	if len(stopped) > 0 {
		if err := m.store.UpdateAttemptsStoppedBatch(ctx, stopped); err != nil {
			m.logWriteError("update_stopped", err)
		}
	}
	if len(lifecycle) > 0 {
		if err := m.store.InsertLifecycleBatch(ctx, lifecycle); err != nil {
			m.logWriteError("insert_lifecycle", err)
		}
	}
	if m.cfg.EnableSnapshots && !skipped {
		snap.ActiveAttempts = primaryActive
		snap.AnomalyFlag = anomaly
		if err := m.store.InsertSnapshot(ctx, snap); err != nil {
			m.logWriteError("insert_snapshot", err)
		}
	}
}

// settle closes every evaluator, flushes the failed attempts, and writes the
// market summary. Uses a fresh timeout context so final writes survive a
// canceled run context.
func (m *Monitor) settle(reason types.FailReason) *types.MarketSummary {
	now := m.now()
	remaining := m.market.TimeRemaining(now)
	if remaining < 0 {
		remaining = 0
	}

	var failed []*types.Attempt
	settlementFailures := 0
	for i, ev := range m.evaluators {
		closed := ev.ProcessSettlement(now, remaining, reason)
		if i == 0 {
			settlementFailures = len(closed)
		}
		failed = append(failed, closed...)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), settleFlushTimeout)
	defer cancel()

	if len(failed) > 0 {
		if err := m.store.UpdateAttemptsFailedBatch(flushCtx, failed); err != nil {
			m.logWriteError("update_failed", err)
		}
	}

	summary := m.buildSummary(reason, settlementFailures)
	if err := m.store.UpdateMarketSummary(flushCtx, summary); err != nil {
		m.logWriteError("update_summary", err)
	}

	completion := "settlement"
	if summary.WasShutdown {
		completion = "shutdown"
	}
	MarketsCompleted.WithLabelValues(m.market.CryptoAsset, completion).Inc()

	m.logger.Info("market-settled",
		zap.String("market-id", m.market.MarketID),
		zap.String("asset", m.market.CryptoAsset),
		zap.String("reason", string(reason)),
		zap.Int("cycles", m.cycleNumber),
		zap.Int("attempts", summary.TotalAttempts),
		zap.Int("pairs", summary.TotalPairs),
		zap.Float64("pair-rate", summary.PairRate),
		zap.Float64("avg-time-to-pair", summary.AvgTimeToPair),
		zap.Int("max-concurrent", summary.MaxConcurrent),
		zap.Int("feed-gaps", m.feedGaps),
		zap.Int("anomalies", m.anomalies))

	m.publishStatus(remaining)
	return summary
}

// buildSummary folds the primary evaluator's statistics into the final
// market summary. Secondary parameter sets persist their attempts but do
// not drive the summary columns.
func (m *Monitor) buildSummary(reason types.FailReason, settlementFailures int) *types.MarketSummary {
	stats := m.evaluators[0].Stats()
	summary := &types.MarketSummary{
		MarketID:             m.market.MarketID,
		CryptoAsset:          m.market.CryptoAsset,
		TotalAttempts:        stats.TotalAttempts,
		TotalPairs:           stats.TotalPairs,
		TotalFailed:          stats.TotalAttempts - stats.TotalPairs,
		SettlementFailures:   settlementFailures,
		MaxConcurrent:        stats.MaxConcurrent,
		TotalCycles:          m.cycleNumber,
		CycleInterval:        m.interval.Seconds(),
		TimeRemainingAtStart: m.startRemaining,
		AnomalyCount:         m.anomalies,
		WasShutdown:          reason == types.FailBotShutdown,
	}
	if stats.TotalAttempts > 0 {
		summary.PairRate = float64(stats.TotalPairs) / float64(stats.TotalAttempts)
	}
	summary.AvgTimeToPair, summary.MedianTimeToPair = meanAndMedian(m.pairTimes)
	return summary
}

func (m *Monitor) publishStatus(remaining float64) {
	stats := m.evaluators[0].Stats()
	m.mu.Lock()
	m.status = Status{
		MarketID:             m.market.MarketID,
		Cycle:                m.cycleNumber,
		PlannedCycles:        m.planned,
		ActiveAttempts:       m.evaluators[0].ActiveCount(),
		TotalAttempts:        stats.TotalAttempts,
		TotalPairs:           stats.TotalPairs,
		TimeRemainingSeconds: remaining,
		FeedGaps:             m.feedGaps,
		Anomalies:            m.anomalies,
	}
	m.mu.Unlock()
}

func (m *Monitor) primaryID() int64 {
	return m.evaluators[0].ParameterSet().ID
}

func (m *Monitor) logWriteError(operation string, err error) {
	m.logger.Error("storage-write-failed",
		zap.String("operation", operation),
		zap.String("market-id", m.market.MarketID),
		zap.Error(err))
}

// meanAndMedian returns both aggregates in seconds, 0 when the input is
// empty. The input is not mutated.
func meanAndMedian(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return mean, median
}
