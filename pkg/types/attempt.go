package types

import "time"

// Attempt is the central measurement record: one observed first-leg trigger
// and the state machine that tracks it to a pair, a stop-loss exit, or a
// settlement failure.
//
// Prices are integer points. P1Points is the exact trigger level, never the
// touched ask. Nullable telemetry uses pointers so the store can distinguish
// "never observed" from zero; everything else relies on the status-driven
// batch updates to only persist the columns that apply.
type Attempt struct {
	// Seq is the evaluator-local identity assigned at construction, used to
	// key closest-approach and MAE trackers before the store assigns an id.
	// Never persisted.
	Seq int64

	AttemptID      int64 // assigned by the store on insert, 0 until then
	MarketID       string
	ParameterSetID int64
	CycleNumber    int
	T1             time.Time
	FirstLegSide   Side
	P1Points       int

	ReferenceYesPoints float64
	ReferenceNoPoints  float64

	OppositeSide          Side
	OppositeTriggerPoints int
	OppositeMaxPoints     int

	// Denormalized from the parameter set for offline analysis.
	DeltaPoints             int
	S0Points                int
	StopLossThresholdPoints int // 0 = disabled
	StopLossPricePoints     int // P1 - threshold, 0 when disabled

	YesSpreadEntryPoints int
	NoSpreadEntryPoints  int

	TimeRemainingAtStart float64 // seconds
	TimeRemainingBucket  string

	Status     AttemptStatus
	HadFeedGap bool

	// Lifetime extremes maintained by the evaluator trackers and written
	// back on terminal transition. Pointers distinguish "never tracked"
	// from a legitimate zero. MAEAt stays nil while MAE is zero: the
	// timestamp marks the first adverse tick, not the first observation.
	ClosestApproachPoints *int
	ClosestApproachAt     *time.Time
	ClosestApproachCycle  int
	MAEPoints             *int // max adverse excursion, >= 0 when set
	MAEAt                 *time.Time
	MAECycle              int

	// Terminal fields, meaningful once Status is completed_*.
	T2                        *time.Time
	T2CycleNumber             int
	TimeToPairSeconds         float64
	TimeRemainingAtCompletion float64
	ActualOppositePrice       int
	PairCostPoints            int
	PairProfitPoints          int
	FailReason                FailReason
	YesSpreadExitPoints       int
	NoSpreadExitPoints        int
}

// IsTerminal reports whether the attempt has left the active state.
func (a *Attempt) IsTerminal() bool {
	return a.Status != StatusActive
}

// LifecycleRecord is one per-cycle telemetry row for an active attempt,
// emitted only when lifecycle tracking is enabled and only for attempts
// that already have a persisted id.
type LifecycleRecord struct {
	AttemptID            int64
	CycleNumber          int
	Timestamp            time.Time
	OppositeAskPoints    int
	DistanceToTrigger    int
	ClosestApproachSoFar int
}

// BucketTimeRemaining maps seconds-to-settlement onto the fixed analysis
// buckets used in the store and the report queries.
func BucketTimeRemaining(seconds float64) string {
	switch {
	case seconds > 600:
		return "600s+"
	case seconds > 300:
		return "300-600s"
	case seconds > 120:
		return "120-300s"
	default:
		return "0-120s"
	}
}
