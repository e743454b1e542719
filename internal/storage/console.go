package storage

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/pkg/pricing"
	"github.com/mselser95/updown-pairs/pkg/types"
)

// ConsoleStorage implements Storage by logging every write. Used for dry
// runs where no database is available. It still assigns sequential ids so
// downstream code that gates on a persisted id behaves as it would in a
// real run.
type ConsoleStorage struct {
	logger *zap.Logger
	nextID atomic.Int64
}

// NewConsoleStorage creates a new console storage.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	logger.Info("console-storage-initialized")
	return &ConsoleStorage{logger: logger}
}

// InsertParameterSet logs the set and assigns a sequential id.
func (c *ConsoleStorage) InsertParameterSet(_ context.Context, ps *types.ParameterSet, run RunSettings) (int64, error) {
	id := c.nextID.Add(1)
	ps.ID = id
	c.logger.Info("parameter-set-stored",
		zap.String("name", ps.Name),
		zap.Int64("parameter-set-id", id),
		zap.Int("s0-points", ps.S0Points),
		zap.Int("delta-points", ps.DeltaPoints),
		zap.Int("stop-loss-points", ps.StopLossThresholdPoints),
		zap.String("sampling-mode", string(run.SamplingMode)))
	return id, nil
}

// InsertMarket logs the market row.
func (c *ConsoleStorage) InsertMarket(_ context.Context, m *types.Market, parameterSetID int64, _ time.Time, timeRemaining, _ float64) error {
	c.logger.Info("market-stored",
		zap.String("market-id", m.MarketID),
		zap.String("asset", m.CryptoAsset),
		zap.Int64("parameter-set-id", parameterSetID),
		zap.Float64("time-remaining", timeRemaining))
	return nil
}

// InsertAttemptsBatch logs each attempt and assigns sequential ids.
func (c *ConsoleStorage) InsertAttemptsBatch(_ context.Context, attempts []*types.Attempt) error {
	for _, a := range attempts {
		a.AttemptID = c.nextID.Add(1)
		c.logger.Info("attempt-created",
			zap.Int64("attempt-id", a.AttemptID),
			zap.String("market-id", a.MarketID),
			zap.String("first-leg", string(a.FirstLegSide)),
			zap.Int("p1-points", a.P1Points),
			zap.String("hunting", string(a.OppositeSide)),
			zap.Int("opposite-trigger", a.OppositeTriggerPoints))
	}
	return nil
}

// UpdateAttemptsPairedBatch logs each pair with its cost and profit.
func (c *ConsoleStorage) UpdateAttemptsPairedBatch(_ context.Context, attempts []*types.Attempt) error {
	for _, a := range attempts {
		c.logger.Info("attempt-paired",
			zap.Int64("attempt-id", a.AttemptID),
			zap.String("first-leg", string(a.FirstLegSide)),
			zap.Int("pair-cost-points", a.PairCostPoints),
			zap.Int("pair-profit-points", a.PairProfitPoints),
			zap.String("pair-profit", pricing.PointsToDollars(a.PairProfitPoints)),
			zap.Float64("time-to-pair-seconds", a.TimeToPairSeconds))
	}
	return nil
}

// UpdateAttemptsFailedBatch logs each failure with its closest approach.
func (c *ConsoleStorage) UpdateAttemptsFailedBatch(_ context.Context, attempts []*types.Attempt) error {
	for _, a := range attempts {
		fields := []zap.Field{
			zap.Int64("attempt-id", a.AttemptID),
			zap.String("first-leg", string(a.FirstLegSide)),
			zap.String("fail-reason", string(a.FailReason)),
		}
		if a.ClosestApproachPoints != nil {
			fields = append(fields, zap.Int("closest-approach-points", *a.ClosestApproachPoints))
		}
		c.logger.Info("attempt-failed", fields...)
	}
	return nil
}

// UpdateAttemptsStoppedBatch logs each stop-loss exit.
func (c *ConsoleStorage) UpdateAttemptsStoppedBatch(_ context.Context, attempts []*types.Attempt) error {
	for _, a := range attempts {
		c.logger.Info("attempt-stopped-out",
			zap.Int64("attempt-id", a.AttemptID),
			zap.String("first-leg", string(a.FirstLegSide)),
			zap.Int("p1-points", a.P1Points),
			zap.Int("pair-profit-points", a.PairProfitPoints))
	}
	return nil
}

// InsertSnapshot logs at debug level only; snapshots are high volume.
func (c *ConsoleStorage) InsertSnapshot(_ context.Context, snap *types.Snapshot) error {
	c.logger.Debug("snapshot",
		zap.String("market-id", snap.MarketID),
		zap.Int("cycle", snap.CycleNumber),
		zap.Int("yes-bid", snap.YesBidPoints),
		zap.Int("yes-ask", snap.YesAskPoints),
		zap.Int("no-bid", snap.NoBidPoints),
		zap.Int("no-ask", snap.NoAskPoints))
	return nil
}

// InsertLifecycleBatch logs at debug level only.
func (c *ConsoleStorage) InsertLifecycleBatch(_ context.Context, records []types.LifecycleRecord) error {
	for _, r := range records {
		c.logger.Debug("attempt-lifecycle",
			zap.Int64("attempt-id", r.AttemptID),
			zap.Int("cycle", r.CycleNumber),
			zap.Int("distance-to-trigger", r.DistanceToTrigger))
	}
	return nil
}

// UpdateMarketSummary logs the final market statistics.
func (c *ConsoleStorage) UpdateMarketSummary(_ context.Context, summary *types.MarketSummary) error {
	c.logger.Info("market-summary",
		zap.String("market-id", summary.MarketID),
		zap.Int("total-attempts", summary.TotalAttempts),
		zap.Int("total-pairs", summary.TotalPairs),
		zap.Int("total-failed", summary.TotalFailed),
		zap.Float64("pair-rate", summary.PairRate),
		zap.Float64("avg-time-to-pair", summary.AvgTimeToPair),
		zap.Int("total-cycles", summary.TotalCycles))
	return nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")
	return nil
}
