// Package circuitbreaker guards the storage layer against a failing database.
//
// Monitor loops run on a fixed cycle cadence and must never stall on a dead
// database connection. The breaker counts consecutive write failures, opens
// after a configured threshold, and lets a single probe through once the
// cooldown elapses.
package circuitbreaker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the breaker state.
type State int32

const (
	// StateClosed allows all writes.
	StateClosed State = iota
	// StateOpen rejects writes until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets exactly one probe write through.
	StateHalfOpen
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// WriteBreaker trips after consecutive storage write failures.
type WriteBreaker struct {
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger

	state atomic.Int32 // State, atomic for lock-free reads

	mu                  sync.Mutex
	consecutiveFailures int
	openedAt            time.Time
	lastFailure         time.Time
	totalTrips          int64
}

// Config holds write breaker configuration.
type Config struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration
	Logger   *zap.Logger
}

// Status holds current breaker status for the HTTP status endpoint.
type Status struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalTrips          int64     `json:"total_trips"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// New creates a new write breaker with the given configuration.
func New(cfg *Config) (*WriteBreaker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Threshold < 1 {
		return nil, fmt.Errorf("threshold must be >= 1")
	}
	if cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("cooldown must be positive")
	}

	b := &WriteBreaker{
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		logger:    cfg.Logger,
	}

	b.state.Store(int32(StateClosed))
	BreakerState.Set(float64(StateClosed))
	BreakerConsecutiveFailures.Set(0)

	return b, nil
}

// Allow reports whether a write may proceed. In the open state the first
// caller after the cooldown becomes the probe; everyone else is rejected
// until the probe resolves.
func (b *WriteBreaker) Allow() bool {
	switch State(b.state.Load()) {
	case StateClosed:
		return true

	case StateHalfOpen:
		// A probe is already in flight
		return false

	case StateOpen:
		b.mu.Lock()
		defer b.mu.Unlock()

		// Re-check under lock; another caller may have won the probe
		if State(b.state.Load()) != StateOpen {
			return false
		}

		if time.Since(b.openedAt) < b.cooldown {
			return false
		}

		b.setStateLocked(StateHalfOpen)
		BreakerProbesTotal.Inc()
		b.logger.Info("storage-breaker-probing",
			zap.Duration("cooldown", b.cooldown),
			zap.Int64("total-trips", b.totalTrips))
		return true

	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *WriteBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	BreakerConsecutiveFailures.Set(0)

	if State(b.state.Load()) != StateClosed {
		b.setStateLocked(StateClosed)
		b.logger.Info("storage-breaker-closed")
	}
}

// RecordFailure counts a write failure. It opens the breaker at the
// threshold and re-opens it when a half-open probe fails.
func (b *WriteBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailure = time.Now()
	BreakerConsecutiveFailures.Set(float64(b.consecutiveFailures))

	state := State(b.state.Load())

	if state == StateHalfOpen {
		// Probe failed, back to open with a fresh cooldown
		b.openedAt = time.Now()
		b.setStateLocked(StateOpen)
		b.logger.Warn("storage-breaker-reopened",
			zap.Int("consecutive-failures", b.consecutiveFailures))
		return
	}

	if state == StateClosed && b.consecutiveFailures >= b.threshold {
		b.openedAt = time.Now()
		b.totalTrips++
		b.setStateLocked(StateOpen)
		BreakerTripsTotal.Inc()
		b.logger.Error("storage-breaker-opened",
			zap.Int("consecutive-failures", b.consecutiveFailures),
			zap.Int("threshold", b.threshold),
			zap.Duration("cooldown", b.cooldown))
	}
}

// State returns the current breaker state.
func (b *WriteBreaker) State() State {
	return State(b.state.Load())
}

// GetStatus returns current breaker status for the HTTP status endpoint.
func (b *WriteBreaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{
		State:               State(b.state.Load()).String(),
		ConsecutiveFailures: b.consecutiveFailures,
		TotalTrips:          b.totalTrips,
		LastFailure:         b.lastFailure,
		OpenedAt:            b.openedAt,
	}
}

// setStateLocked updates the state and its gauge. Caller must hold b.mu.
func (b *WriteBreaker) setStateLocked(s State) {
	b.state.Store(int32(s))
	BreakerState.Set(float64(s))
}
