// Package evaluator implements the per-parameter-set attempt state machine.
//
// One Evaluator is bound to a single (market, parameter set) pair. It is
// strictly single-threaded: the owning monitor calls it once per cycle with
// an immutable snapshot, so no locking is needed. Each cycle it computes
// trigger levels from current asks, fires new attempts off the period-low
// asks, sweeps stop-losses before pairings, and rolls closest-approach and
// max-adverse-excursion extremes for everything still active.
package evaluator

import (
	"fmt"
	"math"
	"time"

	"github.com/mselser95/updown-pairs/pkg/pricing"
	"github.com/mselser95/updown-pairs/pkg/types"
	"go.uber.org/zap"
)

// Config holds evaluator configuration.
type Config struct {
	Market       *types.Market
	ParameterSet *types.ParameterSet

	// MaxRefSumDeviation is how far |yes_ref + no_ref - 100| may drift
	// before the cycle is flagged as an anomaly.
	MaxRefSumDeviation float64

	// EnableLifecycle turns on per-cycle telemetry rows for active attempts.
	EnableLifecycle bool

	Logger *zap.Logger
}

// CycleResult is the outcome of one EvaluateCycle call. The monitor merges
// results across evaluators and flushes each attempt list as one batch.
type CycleResult struct {
	NewAttempts      []*types.Attempt
	PairedAttempts   []*types.Attempt
	StoppedAttempts  []*types.Attempt
	LifecycleRecords []types.LifecycleRecord

	ActiveCount   int
	Skipped       bool
	SkipReason    string
	Anomaly       bool
	AnomalyDetail string
}

// Stats is the running aggregate for one evaluator, folded into the market
// summary at settlement.
type Stats struct {
	TotalAttempts int
	TotalPairs    int
	TotalStopped  int
	MaxConcurrent int
}

// tracker accumulates per-lifetime extremes for one active attempt, keyed
// by Attempt.Seq until the attempt reaches a terminal state.
type tracker struct {
	closest      int
	closestAt    time.Time
	closestCycle int
	hasClosest   bool

	mae      int
	maeAt    time.Time
	maeCycle int
	hasMAE   bool
}

// Evaluator runs the attempt state machine for one (market, parameter set)
// pair. Not safe for concurrent use.
type Evaluator struct {
	market *types.Market
	params *types.ParameterSet
	config Config
	logger *zap.Logger

	active   []*types.Attempt
	trackers map[int64]*tracker
	nextSeq  int64

	stats Stats
}

// New creates a new evaluator. The market's tick size is floored to one
// point, matching the discovery layer's normalization.
func New(cfg *Config) *Evaluator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Market.TickSizePoints < 1 {
		logger.Warn("tick-size-floored",
			zap.String("market-id", cfg.Market.MarketID),
			zap.Int("tick-size", cfg.Market.TickSizePoints))
		cfg.Market.TickSizePoints = 1
	}

	return &Evaluator{
		market:   cfg.Market,
		params:   cfg.ParameterSet,
		config:   *cfg,
		logger:   logger,
		trackers: make(map[int64]*tracker),
	}
}

// ParameterSet returns the bound parameter set.
func (e *Evaluator) ParameterSet() *types.ParameterSet { return e.params }

// ActiveCount returns the number of currently active attempts.
func (e *Evaluator) ActiveCount() int { return len(e.active) }

// Stats returns the running aggregate counters.
func (e *Evaluator) Stats() Stats { return e.stats }

// EvaluateCycle advances the state machine by one cycle. It never panics:
// a malformed snapshot produces a skipped result, constraint violations are
// logged and clamped.
func (e *Evaluator) EvaluateCycle(snap types.Snapshot, cycleNumber int, cycleTime time.Time, timeRemaining float64) CycleResult {
	var result CycleResult

	// Step 1: a snapshot without two one-sided books drives nothing.
	if ok, reason := snap.Validate(); !ok {
		CyclesSkippedTotal.Inc()
		e.logger.Warn("cycle-skipped",
			zap.String("market-id", e.market.MarketID),
			zap.Int("cycle", cycleNumber),
			zap.String("reason", reason))
		result.Skipped = true
		result.SkipReason = reason
		result.ActiveCount = len(e.active)
		return result
	}

	// Step 2: reference prices and the complement-sum sanity check.
	yesRef, noRef := e.referencePrices(snap)
	if dev := math.Abs(yesRef + noRef - 100); dev > e.config.MaxRefSumDeviation {
		result.Anomaly = true
		result.AnomalyDetail = fmt.Sprintf("reference sum %.1f deviates by %.1f points", yesRef+noRef, dev)
		ReferenceAnomaliesTotal.Inc()
		e.logger.Warn("reference-sum-anomaly",
			zap.String("market-id", e.market.MarketID),
			zap.Int("cycle", cycleNumber),
			zap.Float64("yes-ref", yesRef),
			zap.Float64("no-ref", noRef),
			zap.Float64("deviation", dev))
	}

	// Step 3: trigger levels come from the current asks, the fire decision
	// from the lowest ask seen in the inter-cycle window.
	tick := e.market.TickSizePoints
	pairCap := e.params.PairCapPoints()

	yesTrigger := pricing.ClampTrigger(floorTick(100+e.params.S0Points-snap.NoAskPoints, tick), tick)
	noTrigger := pricing.ClampTrigger(floorTick(100+e.params.S0Points-snap.YesAskPoints, tick), tick)

	yesLowAsk := snap.YesPeriodLowAskPoints
	if yesLowAsk == 0 {
		yesLowAsk = snap.YesAskPoints
	}
	noLowAsk := snap.NoPeriodLowAskPoints
	if noLowAsk == 0 {
		noLowAsk = snap.NoAskPoints
	}

	type firing struct {
		side    types.Side
		trigger int
		lowAsk  int
	}
	var fires []firing
	if yesLowAsk <= yesTrigger && yesTrigger < pairCap {
		fires = append(fires, firing{types.SideYes, yesTrigger, yesLowAsk})
	}
	if noLowAsk <= noTrigger && noTrigger < pairCap {
		fires = append(fires, firing{types.SideNo, noTrigger, noLowAsk})
	}

	// Step 4: on a simultaneous fire the side that touched harder (larger
	// distance below its trigger) is created first; ties keep YES first.
	if len(fires) == 2 {
		distYes := fires[0].trigger - fires[0].lowAsk
		distNo := fires[1].trigger - fires[1].lowAsk
		if distNo > distYes {
			fires[0], fires[1] = fires[1], fires[0]
		}
		e.logger.Info("simultaneous-fire",
			zap.String("market-id", e.market.MarketID),
			zap.Int("cycle", cycleNumber),
			zap.String("first", string(fires[0].side)),
			zap.Int("yes-distance", distYes),
			zap.Int("no-distance", distNo))
	}

	// Step 5: construct attempts in tie-break order.
	for _, f := range fires {
		a := e.createAttempt(f.side, f.trigger, f.lowAsk, snap, cycleNumber, cycleTime, timeRemaining, yesRef, noRef)
		e.active = append(e.active, a)
		result.NewAttempts = append(result.NewAttempts, a)
	}
	e.stats.TotalAttempts += len(result.NewAttempts)

	// Step 6: stop-loss sweep. Runs before pairing so a wick through the
	// stop beats a wick up to the pair in the same window.
	if e.params.HasStopLoss() {
		survivors := make([]*types.Attempt, 0, len(e.active))
		for _, a := range e.active {
			lowBid := e.firstLegLowBid(a, snap)
			if lowBid > 0 && lowBid <= a.StopLossPricePoints {
				e.stopOut(a, lowBid, snap, cycleNumber, cycleTime, timeRemaining)
				result.StoppedAttempts = append(result.StoppedAttempts, a)
			} else {
				survivors = append(survivors, a)
			}
		}
		e.active = survivors
		e.stats.TotalStopped += len(result.StoppedAttempts)
	}

	// Step 7: pairing sweep against the period-low opposite ask. The fill
	// is modeled at the limit price itself, so profit is exactly delta.
	survivors := make([]*types.Attempt, 0, len(e.active))
	for _, a := range e.active {
		oppLowAsk := e.oppositeLowAsk(a, snap)
		if oppLowAsk > 0 && oppLowAsk <= a.OppositeTriggerPoints {
			e.pair(a, snap, cycleNumber, cycleTime, timeRemaining)
			result.PairedAttempts = append(result.PairedAttempts, a)
		} else {
			survivors = append(survivors, a)
		}
	}
	e.active = survivors
	e.stats.TotalPairs += len(result.PairedAttempts)

	// Step 8: roll per-lifetime extremes for everything still active.
	// Attempts born this cycle are excluded: at entry the gap to the bid
	// is the spread, not an excursion, and the approach clock starts on
	// the next window.
	for _, a := range e.active {
		if a.CycleNumber == cycleNumber {
			continue
		}
		tr := e.trackers[a.Seq]
		if tr == nil {
			tr = &tracker{}
			e.trackers[a.Seq] = tr
		}

		oppLowAsk := e.oppositeLowAsk(a, snap)
		if oppLowAsk > 0 {
			dist := oppLowAsk - a.OppositeTriggerPoints
			if !tr.hasClosest || dist < tr.closest {
				tr.closest = dist
				tr.closestAt = cycleTime
				tr.closestCycle = cycleNumber
				tr.hasClosest = true
			}
			a.ClosestApproachPoints = intPtr(tr.closest)
			a.ClosestApproachAt = timePtr(tr.closestAt)
			a.ClosestApproachCycle = tr.closestCycle
		}

		firstLegBid := snap.YesBidPoints
		if a.FirstLegSide == types.SideNo {
			firstLegBid = snap.NoBidPoints
		}
		if firstLegBid > 0 {
			adverse := a.P1Points - firstLegBid
			if adverse < 0 {
				adverse = 0
			}
			if adverse > tr.mae {
				tr.mae = adverse
				tr.maeAt = cycleTime
				tr.maeCycle = cycleNumber
				tr.hasMAE = true
			}
			a.MAEPoints = intPtr(tr.mae)
			if tr.hasMAE {
				a.MAEAt = timePtr(tr.maeAt)
				a.MAECycle = tr.maeCycle
			}
		}
	}

	// Step 9: telemetry rows, only for attempts the store already knows.
	if e.config.EnableLifecycle {
		for _, a := range e.active {
			if a.AttemptID == 0 {
				continue
			}
			oppAsk := snap.YesAskPoints
			if a.OppositeSide == types.SideNo {
				oppAsk = snap.NoAskPoints
			}
			dist := oppAsk - a.OppositeTriggerPoints
			closestSoFar := dist
			if tr := e.trackers[a.Seq]; tr != nil && tr.hasClosest {
				closestSoFar = tr.closest
			}
			result.LifecycleRecords = append(result.LifecycleRecords, types.LifecycleRecord{
				AttemptID:            a.AttemptID,
				CycleNumber:          cycleNumber,
				Timestamp:            cycleTime,
				OppositeAskPoints:    oppAsk,
				DistanceToTrigger:    dist,
				ClosestApproachSoFar: closestSoFar,
			})
		}
	}

	// Step 10: concurrency bookkeeping.
	if len(e.active) > e.stats.MaxConcurrent {
		e.stats.MaxConcurrent = len(e.active)
	}
	result.ActiveCount = len(e.active)
	ActiveAttempts.WithLabelValues(e.market.CryptoAsset, e.params.Name).Set(float64(len(e.active)))

	return result
}

// ProcessSettlement fails every remaining active attempt with the given
// reason and returns them for one batched write. Used both at natural
// settlement and on shutdown.
func (e *Evaluator) ProcessSettlement(now time.Time, timeRemaining float64, reason types.FailReason) []*types.Attempt {
	if len(e.active) == 0 {
		return nil
	}

	failed := make([]*types.Attempt, 0, len(e.active))
	for _, a := range e.active {
		a.Status = types.StatusCompletedFailed
		a.FailReason = reason
		a.TimeRemainingAtCompletion = timeRemaining
		e.finalize(a)
		failed = append(failed, a)
		AttemptsCompletedTotal.WithLabelValues(string(reason)).Inc()
	}
	e.active = nil
	ActiveAttempts.WithLabelValues(e.market.CryptoAsset, e.params.Name).Set(0)

	e.logger.Info("settlement-processed",
		zap.String("market-id", e.market.MarketID),
		zap.String("parameter-set", e.params.Name),
		zap.String("reason", string(reason)),
		zap.Int("failed-attempts", len(failed)))

	return failed
}

// MarkFeedGap flags every active attempt as having lived through a feed
// outage so stored rows can be filtered during analysis.
func (e *Evaluator) MarkFeedGap() {
	for _, a := range e.active {
		a.HadFeedGap = true
	}
}

// referencePrices derives the per-cycle reference prices. LAST_TRADE falls
// back to the midpoint for tokens that have not printed yet.
func (e *Evaluator) referencePrices(snap types.Snapshot) (float64, float64) {
	yesRef := pricing.Midpoint(snap.YesBidPoints, snap.YesAskPoints)
	noRef := pricing.Midpoint(snap.NoBidPoints, snap.NoAskPoints)

	if e.params.ReferencePriceSource == types.ReferenceLastTrade {
		if snap.YesLastTradePoints > 0 {
			yesRef = float64(snap.YesLastTradePoints)
		}
		if snap.NoLastTradePoints > 0 {
			noRef = float64(snap.NoLastTradePoints)
		}
	}
	return yesRef, noRef
}

// createAttempt builds one attempt at the trigger level. P1 is the level
// itself, never the touched ask; the opposite trigger is set so that a fill
// at the limit yields exactly delta points of profit.
func (e *Evaluator) createAttempt(side types.Side, trigger, lowAsk int, snap types.Snapshot, cycleNumber int, cycleTime time.Time, timeRemaining float64, yesRef, noRef float64) *types.Attempt {
	tick := e.market.TickSizePoints
	pairCap := e.params.PairCapPoints()

	oppositeMax := floorTick(pairCap-trigger, tick)
	if oppositeMax > 100 {
		ConstraintViolationsTotal.WithLabelValues("opposite_max_above_100").Inc()
		e.logger.Error("opposite-max-impossible",
			zap.String("market-id", e.market.MarketID),
			zap.Int("p1", trigger),
			zap.Int("opposite-max", oppositeMax))
	}
	if oppositeMax < tick {
		ConstraintViolationsTotal.WithLabelValues("opposite_max_below_tick").Inc()
		e.logger.Error("opposite-max-below-tick",
			zap.String("market-id", e.market.MarketID),
			zap.Int("p1", trigger),
			zap.Int("opposite-max", oppositeMax),
			zap.Int("tick", tick))
	}
	oppositeMax = pricing.ClampTrigger(oppositeMax, tick)

	stopPrice := 0
	if e.params.HasStopLoss() {
		stopPrice = trigger - e.params.StopLossThresholdPoints
	}

	e.nextSeq++
	a := &types.Attempt{
		Seq:            e.nextSeq,
		MarketID:       e.market.MarketID,
		ParameterSetID: e.params.ID,
		CycleNumber:    cycleNumber,
		T1:             cycleTime,
		FirstLegSide:   side,
		P1Points:       trigger,

		ReferenceYesPoints: yesRef,
		ReferenceNoPoints:  noRef,

		OppositeSide:          side.Opposite(),
		OppositeTriggerPoints: oppositeMax,
		OppositeMaxPoints:     oppositeMax,

		DeltaPoints:             e.params.DeltaPoints,
		S0Points:                e.params.S0Points,
		StopLossThresholdPoints: e.params.StopLossThresholdPoints,
		StopLossPricePoints:     stopPrice,

		YesSpreadEntryPoints: snap.YesSpreadPoints(),
		NoSpreadEntryPoints:  snap.NoSpreadPoints(),

		TimeRemainingAtStart: timeRemaining,
		TimeRemainingBucket:  types.BucketTimeRemaining(timeRemaining),

		Status: types.StatusActive,
	}
	e.trackers[a.Seq] = &tracker{}

	AttemptsCreatedTotal.WithLabelValues(string(side)).Inc()
	e.logger.Info("attempt-created",
		zap.String("market-id", e.market.MarketID),
		zap.String("parameter-set", e.params.Name),
		zap.Int("cycle", cycleNumber),
		zap.String("side", string(side)),
		zap.Int("p1", trigger),
		zap.Int("low-ask", lowAsk),
		zap.Int("opposite-trigger", oppositeMax),
		zap.Float64("time-remaining", timeRemaining))

	return a
}

// stopOut fails one attempt at its stop price. The exit is modeled at the
// threshold: cost is the first leg alone, profit is minus the threshold.
func (e *Evaluator) stopOut(a *types.Attempt, lowBid int, snap types.Snapshot, cycleNumber int, cycleTime time.Time, timeRemaining float64) {
	a.Status = types.StatusCompletedFailed
	a.FailReason = types.FailStopLoss
	a.T2 = timePtr(cycleTime)
	a.T2CycleNumber = cycleNumber
	a.TimeToPairSeconds = cycleTime.Sub(a.T1).Seconds()
	a.TimeRemainingAtCompletion = timeRemaining
	a.PairCostPoints = a.P1Points
	a.PairProfitPoints = -a.StopLossThresholdPoints
	a.YesSpreadExitPoints = snap.YesSpreadPoints()
	a.NoSpreadExitPoints = snap.NoSpreadPoints()

	// The stop bid is itself the worst observed excursion unless the
	// tracker already saw a deeper one.
	tr := e.trackers[a.Seq]
	if tr == nil {
		tr = &tracker{}
		e.trackers[a.Seq] = tr
	}
	if adverse := a.P1Points - lowBid; adverse > tr.mae {
		tr.mae = adverse
		tr.maeAt = cycleTime
		tr.maeCycle = cycleNumber
		tr.hasMAE = true
	}
	e.finalize(a)

	AttemptsCompletedTotal.WithLabelValues(string(types.FailStopLoss)).Inc()
	e.logger.Info("attempt-stopped-out",
		zap.String("market-id", e.market.MarketID),
		zap.Int64("seq", a.Seq),
		zap.Int("cycle", cycleNumber),
		zap.String("side", string(a.FirstLegSide)),
		zap.Int("p1", a.P1Points),
		zap.Int("stop-price", a.StopLossPricePoints),
		zap.Int("low-bid", lowBid),
		zap.Int("profit", a.PairProfitPoints))
}

// pair completes one attempt at its opposite limit price.
func (e *Evaluator) pair(a *types.Attempt, snap types.Snapshot, cycleNumber int, cycleTime time.Time, timeRemaining float64) {
	a.Status = types.StatusCompletedPaired
	a.T2 = timePtr(cycleTime)
	a.T2CycleNumber = cycleNumber
	a.TimeToPairSeconds = cycleTime.Sub(a.T1).Seconds()
	a.TimeRemainingAtCompletion = timeRemaining
	a.ActualOppositePrice = a.OppositeTriggerPoints
	a.PairCostPoints = a.P1Points + a.ActualOppositePrice
	a.PairProfitPoints = 100 - a.PairCostPoints
	a.YesSpreadExitPoints = snap.YesSpreadPoints()
	a.NoSpreadExitPoints = snap.NoSpreadPoints()

	// Touched or crossed the limit: the approach distance collapses to 0.
	a.ClosestApproachPoints = intPtr(0)
	a.ClosestApproachAt = timePtr(cycleTime)
	a.ClosestApproachCycle = cycleNumber

	if tr := e.trackers[a.Seq]; tr != nil && tr.hasMAE {
		a.MAEPoints = intPtr(tr.mae)
		a.MAEAt = timePtr(tr.maeAt)
		a.MAECycle = tr.maeCycle
	} else {
		a.MAEPoints = intPtr(0)
	}
	delete(e.trackers, a.Seq)

	AttemptsCompletedTotal.WithLabelValues("paired").Inc()
	TimeToPairSeconds.Observe(a.TimeToPairSeconds)
	e.logger.Info("attempt-paired",
		zap.String("market-id", e.market.MarketID),
		zap.Int64("seq", a.Seq),
		zap.Int("cycle", cycleNumber),
		zap.String("side", string(a.FirstLegSide)),
		zap.Int("pair-cost", a.PairCostPoints),
		zap.Int("pair-profit", a.PairProfitPoints),
		zap.Float64("time-to-pair", a.TimeToPairSeconds))
}

// finalize copies the rolling extremes onto the attempt and drops the
// tracker entry. Fields stay nil for extremes that were never observed.
func (e *Evaluator) finalize(a *types.Attempt) {
	tr, ok := e.trackers[a.Seq]
	if !ok {
		return
	}
	if tr.hasClosest {
		a.ClosestApproachPoints = intPtr(tr.closest)
		a.ClosestApproachAt = timePtr(tr.closestAt)
		a.ClosestApproachCycle = tr.closestCycle
		ClosestApproachPoints.Observe(float64(tr.closest))
	}
	if tr.hasMAE {
		a.MAEPoints = intPtr(tr.mae)
		a.MAEAt = timePtr(tr.maeAt)
		a.MAECycle = tr.maeCycle
	}
	delete(e.trackers, a.Seq)
}

// oppositeLowAsk returns the period-low ask on the attempt's opposite side,
// falling back to the current ask when no message arrived in the window.
func (e *Evaluator) oppositeLowAsk(a *types.Attempt, snap types.Snapshot) int {
	if a.OppositeSide == types.SideYes {
		if snap.YesPeriodLowAskPoints > 0 {
			return snap.YesPeriodLowAskPoints
		}
		return snap.YesAskPoints
	}
	if snap.NoPeriodLowAskPoints > 0 {
		return snap.NoPeriodLowAskPoints
	}
	return snap.NoAskPoints
}

// firstLegLowBid returns the period-low bid on the attempt's first-leg
// side, falling back to the current bid.
func (e *Evaluator) firstLegLowBid(a *types.Attempt, snap types.Snapshot) int {
	if a.FirstLegSide == types.SideYes {
		if snap.YesPeriodLowBidPoints > 0 {
			return snap.YesPeriodLowBidPoints
		}
		return snap.YesBidPoints
	}
	if snap.NoPeriodLowBidPoints > 0 {
		return snap.NoPeriodLowBidPoints
	}
	return snap.NoBidPoints
}

// floorTick floors an integer point value onto the tick grid. Tick size is
// normalized at construction, so the error path in pricing is unreachable.
func floorTick(points, tick int) int {
	v, _ := pricing.FloorToTick(float64(points), tick)
	return v
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }
