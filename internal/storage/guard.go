package storage

import (
	"context"
	"time"

	"github.com/mselser95/updown-pairs/internal/circuitbreaker"
	"github.com/mselser95/updown-pairs/pkg/types"
)

// Guard wraps a Storage with the write circuit breaker. While the breaker
// is open every write fails fast with types.ErrStorageUnavailable instead
// of stalling the cycle loop on a dead connection.
//
// Reads of run-level identity (parameter sets, market rows) are written at
// startup before any breaker trip matters, so all methods go through the
// same gate.
type Guard struct {
	inner   Storage
	breaker *circuitbreaker.WriteBreaker
}

// NewGuard wraps inner with the given breaker.
func NewGuard(inner Storage, breaker *circuitbreaker.WriteBreaker) *Guard {
	return &Guard{inner: inner, breaker: breaker}
}

// Breaker exposes the underlying breaker for the status endpoint.
func (g *Guard) Breaker() *circuitbreaker.WriteBreaker {
	return g.breaker
}

func (g *Guard) guard(op func() error) error {
	if !g.breaker.Allow() {
		GuardRejectionsTotal.Inc()
		return types.ErrStorageUnavailable
	}

	err := op()
	if err != nil {
		g.breaker.RecordFailure()
		return err
	}

	g.breaker.RecordSuccess()
	return nil
}

// InsertParameterSet implements Storage.
func (g *Guard) InsertParameterSet(ctx context.Context, ps *types.ParameterSet, run RunSettings) (int64, error) {
	var id int64
	err := g.guard(func() error {
		var opErr error
		id, opErr = g.inner.InsertParameterSet(ctx, ps, run)
		return opErr
	})
	return id, err
}

// InsertMarket implements Storage.
func (g *Guard) InsertMarket(ctx context.Context, m *types.Market, parameterSetID int64, startTime time.Time, timeRemaining, cycleInterval float64) error {
	return g.guard(func() error {
		return g.inner.InsertMarket(ctx, m, parameterSetID, startTime, timeRemaining, cycleInterval)
	})
}

// InsertAttemptsBatch implements Storage.
func (g *Guard) InsertAttemptsBatch(ctx context.Context, attempts []*types.Attempt) error {
	return g.guard(func() error {
		return g.inner.InsertAttemptsBatch(ctx, attempts)
	})
}

// UpdateAttemptsPairedBatch implements Storage.
func (g *Guard) UpdateAttemptsPairedBatch(ctx context.Context, attempts []*types.Attempt) error {
	return g.guard(func() error {
		return g.inner.UpdateAttemptsPairedBatch(ctx, attempts)
	})
}

// UpdateAttemptsFailedBatch implements Storage.
func (g *Guard) UpdateAttemptsFailedBatch(ctx context.Context, attempts []*types.Attempt) error {
	return g.guard(func() error {
		return g.inner.UpdateAttemptsFailedBatch(ctx, attempts)
	})
}

// UpdateAttemptsStoppedBatch implements Storage.
func (g *Guard) UpdateAttemptsStoppedBatch(ctx context.Context, attempts []*types.Attempt) error {
	return g.guard(func() error {
		return g.inner.UpdateAttemptsStoppedBatch(ctx, attempts)
	})
}

// InsertSnapshot implements Storage.
func (g *Guard) InsertSnapshot(ctx context.Context, snap *types.Snapshot) error {
	return g.guard(func() error {
		return g.inner.InsertSnapshot(ctx, snap)
	})
}

// InsertLifecycleBatch implements Storage.
func (g *Guard) InsertLifecycleBatch(ctx context.Context, records []types.LifecycleRecord) error {
	return g.guard(func() error {
		return g.inner.InsertLifecycleBatch(ctx, records)
	})
}

// UpdateMarketSummary implements Storage.
func (g *Guard) UpdateMarketSummary(ctx context.Context, summary *types.MarketSummary) error {
	return g.guard(func() error {
		return g.inner.UpdateMarketSummary(ctx, summary)
	})
}

// Close closes the wrapped storage.
func (g *Guard) Close() error {
	return g.inner.Close()
}
