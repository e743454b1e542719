// Package storage persists measurement data to PostgreSQL, with a console
// fallback for dry runs and a circuit-breaker guard for the hot path.
//
// The write API is batch-oriented: the monitor flushes one insert batch and
// up to two update batches per cycle so a slow database costs at most three
// round-trips per cycle instead of one per attempt.
package storage

import (
	"context"
	"time"

	"github.com/mselser95/updown-pairs/pkg/types"
)

// RunSettings is the sampling configuration recorded alongside each
// parameter set so stored rows are self-describing for offline analysis.
type RunSettings struct {
	SamplingMode            types.SamplingMode
	CycleIntervalSeconds    float64
	CyclesPerMarket         int
	FeedGapThresholdSeconds float64
}

// Storage is the write interface for measurement data. Implementations must
// be safe for concurrent use; one monitor goroutine runs per asset.
type Storage interface {
	// InsertParameterSet stores one parameter set together with the run's
	// sampling settings and returns the generated id.
	InsertParameterSet(ctx context.Context, ps *types.ParameterSet, run RunSettings) (int64, error)

	// InsertMarket upserts a market row when monitoring starts.
	InsertMarket(ctx context.Context, m *types.Market, parameterSetID int64, startTime time.Time, timeRemaining, cycleInterval float64) error

	// InsertAttemptsBatch inserts new attempts in a single transaction and
	// writes the generated ids back onto the attempt values.
	InsertAttemptsBatch(ctx context.Context, attempts []*types.Attempt) error

	// UpdateAttemptsPairedBatch persists paired terminal fields.
	UpdateAttemptsPairedBatch(ctx context.Context, attempts []*types.Attempt) error

	// UpdateAttemptsFailedBatch persists settlement and shutdown failures.
	UpdateAttemptsFailedBatch(ctx context.Context, attempts []*types.Attempt) error

	// UpdateAttemptsStoppedBatch persists stop-loss exits, which carry both
	// paired-style exit fields and a fail reason.
	UpdateAttemptsStoppedBatch(ctx context.Context, attempts []*types.Attempt) error

	// InsertSnapshot stores one per-cycle book snapshot.
	InsertSnapshot(ctx context.Context, snap *types.Snapshot) error

	// InsertLifecycleBatch stores per-cycle telemetry rows for active
	// attempts that already have persisted ids.
	InsertLifecycleBatch(ctx context.Context, records []types.LifecycleRecord) error

	// UpdateMarketSummary writes the final per-market statistics.
	UpdateMarketSummary(ctx context.Context, summary *types.MarketSummary) error

	// Close releases the underlying connection.
	Close() error
}
