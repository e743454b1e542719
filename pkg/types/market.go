package types

import (
	"fmt"
	"time"
)

// Side identifies one of the two complementary outcome tokens.
type Side string

// Side values use the exact strings persisted to the store.
const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// AttemptStatus is the lifecycle state of an attempt.
type AttemptStatus string

const (
	StatusActive          AttemptStatus = "active"
	StatusCompletedPaired AttemptStatus = "completed_paired"
	StatusCompletedFailed AttemptStatus = "completed_failed"
)

// SamplingMode selects how measurement cycles are scheduled.
type SamplingMode string

const (
	SamplingFixedInterval SamplingMode = "FIXED_INTERVAL"
	SamplingFixedCount    SamplingMode = "FIXED_COUNT"
)

// TriggerRule selects the first-leg trigger condition.
type TriggerRule string

// TriggerAskTouch fires when the period-low ask touches the computed
// trigger level.
const TriggerAskTouch TriggerRule = "ASK_TOUCH"

// ReferencePriceSource selects how per-cycle reference prices are derived.
type ReferencePriceSource string

const (
	ReferenceMidpoint  ReferencePriceSource = "MIDPOINT"
	ReferenceLastTrade ReferencePriceSource = "LAST_TRADE"
)

// FailReason explains why an attempt completed without pairing.
type FailReason string

const (
	FailSettlementReached FailReason = "settlement_reached"
	FailBotShutdown       FailReason = "bot_shutdown"
	FailStopLoss          FailReason = "stop_loss"
)

// TieBreakDistanceThenYes is the only implemented simultaneous-fire rule:
// larger (trigger - low_ask) first, YES on ties.
const TieBreakDistanceThenYes = "distance_then_yes"

// ParameterSet is one immutable experimental configuration. Multiple sets
// may run in parallel against the same market, each with its own evaluator.
type ParameterSet struct {
	ID                      int64 // assigned by the store
	Name                    string
	S0Points                int
	DeltaPoints             int
	TriggerRule             TriggerRule
	ReferencePriceSource    ReferencePriceSource
	StopLossThresholdPoints int // 0 = disabled
}

// PairCapPoints is the ceiling on P1 + opposite price that guarantees at
// least DeltaPoints of profit per pair.
func (ps *ParameterSet) PairCapPoints() int {
	return 100 - ps.DeltaPoints
}

// HasStopLoss reports whether this set exits first legs at a loss threshold.
func (ps *ParameterSet) HasStopLoss() bool {
	return ps.StopLossThresholdPoints > 0
}

// Validate checks the ranges the measurement design assumes.
func (ps *ParameterSet) Validate() error {
	if ps.Name == "" {
		return fmt.Errorf("parameter set name cannot be empty")
	}
	if ps.S0Points < 0 || ps.S0Points >= 50 {
		return fmt.Errorf("S0_points must be in [0, 50), got %d", ps.S0Points)
	}
	if ps.DeltaPoints <= 0 || ps.DeltaPoints >= 50 {
		return fmt.Errorf("delta_points must be in (0, 50), got %d", ps.DeltaPoints)
	}
	if ps.StopLossThresholdPoints < 0 || ps.StopLossThresholdPoints >= 50 {
		return fmt.Errorf("stop_loss_threshold_points must be in (0, 50) or 0, got %d", ps.StopLossThresholdPoints)
	}
	if ps.TriggerRule != TriggerAskTouch {
		return fmt.Errorf("unknown trigger_rule: %q", ps.TriggerRule)
	}
	if ps.ReferencePriceSource != ReferenceMidpoint && ps.ReferencePriceSource != ReferenceLastTrade {
		return fmt.Errorf("unknown reference_price_source: %q", ps.ReferencePriceSource)
	}
	return nil
}

// Market is one 15-minute settlement window of an updown market pair.
// Created by discovery, observed by exactly one monitor, frozen at
// settlement. Token ids are opaque decimal strings that routinely exceed
// 64-bit range; they are always text.
type Market struct {
	MarketID       string // slug, e.g. "btc-updown-15m-1755000000"
	CryptoAsset    string
	ConditionID    string
	YesTokenID     string
	NoTokenID      string
	StartTime      time.Time
	SettlementTime time.Time
	TickSizePoints int
}

// TimeRemaining returns seconds until settlement at the given instant.
func (m *Market) TimeRemaining(now time.Time) float64 {
	return m.SettlementTime.Sub(now).Seconds()
}
