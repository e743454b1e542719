package evaluator

import (
	"testing"
	"time"

	"github.com/mselser95/updown-pairs/pkg/types"
	"go.uber.org/zap"
)

var baseTime = time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)

func testMarket() *types.Market {
	return &types.Market{
		MarketID:       "btc-updown-15m-1770732000",
		CryptoAsset:    "btc",
		ConditionID:    "0xabc",
		YesTokenID:     "111",
		NoTokenID:      "222",
		StartTime:      baseTime,
		SettlementTime: baseTime.Add(15 * time.Minute),
		TickSizePoints: 1,
	}
}

func testParams() *types.ParameterSet {
	return &types.ParameterSet{
		ID:                   7,
		Name:                 "s1-d5",
		S0Points:             1,
		DeltaPoints:          5,
		TriggerRule:          types.TriggerAskTouch,
		ReferencePriceSource: types.ReferenceMidpoint,
	}
}

func newTestEvaluator(params *types.ParameterSet) *Evaluator {
	logger, _ := zap.NewDevelopment()
	return New(&Config{
		Market:             testMarket(),
		ParameterSet:       params,
		MaxRefSumDeviation: 2,
		Logger:             logger,
	})
}

// balancedSnapshot is the efficient-market baseline: both books 48/52, so
// triggers sit at 49 and nothing fires until a period low dips.
func balancedSnapshot() types.Snapshot {
	return types.Snapshot{
		MarketID:     "btc-updown-15m-1770732000",
		YesBidPoints: 48,
		YesAskPoints: 52,
		NoBidPoints:  48,
		NoAskPoints:  52,
	}
}

func cycleTime(cycle int) time.Time {
	return baseTime.Add(time.Duration(cycle) * 10 * time.Second)
}

func TestEvaluateCycleTriggerFiring(t *testing.T) {
	tests := []struct {
		name            string
		mutate          func(*types.Snapshot)
		expectSides     []types.Side
		expectP1        []int
		expectOppTrig   []int
	}{
		{
			name:   "no-fire-efficient-market",
			mutate: func(s *types.Snapshot) {},
		},
		{
			name: "yes-fires-on-period-low-despite-current-recovery",
			mutate: func(s *types.Snapshot) {
				s.YesPeriodLowAskPoints = 49 // current ask stays 52
			},
			expectSides:   []types.Side{types.SideYes},
			expectP1:      []int{49},
			expectOppTrig: []int{46},
		},
		{
			name: "no-fires-on-current-ask-touch",
			mutate: func(s *types.Snapshot) {
				s.NoAskPoints = 49
				s.NoBidPoints = 47
				// yes trigger rises to 52 but yes low ask stays 52: both fire.
				// Suppress yes by lifting its ask above its own trigger.
				s.YesAskPoints = 54
			},
			expectSides:   []types.Side{types.SideNo},
			expectP1:      []int{47}, // 101 - 54
			expectOppTrig: []int{48},
		},
		{
			name: "trigger-at-pair-cap-suppressed",
			mutate: func(s *types.Snapshot) {
				// no ask 6 puts the yes trigger at 95 = pair cap.
				s.YesBidPoints = 90
				s.YesAskPoints = 94
				s.NoBidPoints = 2
				s.NoAskPoints = 6
				s.YesPeriodLowAskPoints = 90
			},
			expectSides:   []types.Side{types.SideNo}, // no trigger = 101-94 = 7, low 6 fires
			expectP1:      []int{7},
			expectOppTrig: []int{88},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator(testParams())
			snap := balancedSnapshot()
			tt.mutate(&snap)

			result := e.EvaluateCycle(snap, 1, cycleTime(1), 800)

			if result.Skipped {
				t.Fatalf("expected cycle to run, got skipped: %s", result.SkipReason)
			}
			if len(result.NewAttempts) != len(tt.expectSides) {
				t.Fatalf("expected %d attempts, got %d", len(tt.expectSides), len(result.NewAttempts))
			}
			for i, a := range result.NewAttempts {
				if a.FirstLegSide != tt.expectSides[i] {
					t.Errorf("attempt %d: expected side %s, got %s", i, tt.expectSides[i], a.FirstLegSide)
				}
				if a.P1Points != tt.expectP1[i] {
					t.Errorf("attempt %d: expected P1=%d, got %d", i, tt.expectP1[i], a.P1Points)
				}
				if a.OppositeTriggerPoints != tt.expectOppTrig[i] {
					t.Errorf("attempt %d: expected opposite trigger=%d, got %d", i, tt.expectOppTrig[i], a.OppositeTriggerPoints)
				}
				if a.Status != types.StatusActive {
					t.Errorf("attempt %d: expected active status, got %s", i, a.Status)
				}
				if a.CycleNumber != 1 {
					t.Errorf("attempt %d: expected cycle_number=1, got %d", i, a.CycleNumber)
				}
			}
		})
	}
}

func TestCleanPair(t *testing.T) {
	e := newTestEvaluator(testParams())

	// Cycle 1: efficient market, nothing fires.
	r1 := e.EvaluateCycle(balancedSnapshot(), 1, cycleTime(1), 890)
	if len(r1.NewAttempts) != 0 || r1.ActiveCount != 0 {
		t.Fatalf("cycle 1: expected quiet market, got %d new / %d active", len(r1.NewAttempts), r1.ActiveCount)
	}

	// Cycle 2: yes ask wicked down to 49 inside the window.
	snap2 := balancedSnapshot()
	snap2.YesPeriodLowAskPoints = 49
	r2 := e.EvaluateCycle(snap2, 2, cycleTime(2), 880)
	if len(r2.NewAttempts) != 1 {
		t.Fatalf("cycle 2: expected 1 new attempt, got %d", len(r2.NewAttempts))
	}
	a := r2.NewAttempts[0]
	if a.FirstLegSide != types.SideYes || a.P1Points != 49 || a.OppositeTriggerPoints != 46 {
		t.Fatalf("cycle 2: unexpected attempt %s P1=%d opp=%d", a.FirstLegSide, a.P1Points, a.OppositeTriggerPoints)
	}
	if a.YesSpreadEntryPoints != 4 || a.NoSpreadEntryPoints != 4 {
		t.Errorf("expected entry spreads 4/4, got %d/%d", a.YesSpreadEntryPoints, a.NoSpreadEntryPoints)
	}
	if a.TimeRemainingBucket != "600s+" {
		t.Errorf("expected bucket 600s+, got %s", a.TimeRemainingBucket)
	}

	// Cycle 3: no ask wicked down to the opposite trigger.
	snap3 := balancedSnapshot()
	snap3.NoPeriodLowAskPoints = 46
	r3 := e.EvaluateCycle(snap3, 3, cycleTime(3), 870)

	if len(r3.PairedAttempts) != 1 {
		t.Fatalf("cycle 3: expected 1 paired attempt, got %d", len(r3.PairedAttempts))
	}
	paired := r3.PairedAttempts[0]
	if paired.Seq != a.Seq {
		t.Fatalf("paired a different attempt: seq %d vs %d", paired.Seq, a.Seq)
	}
	if paired.Status != types.StatusCompletedPaired {
		t.Errorf("expected completed_paired, got %s", paired.Status)
	}
	if paired.ActualOppositePrice != 46 {
		t.Errorf("expected fill at the limit 46, got %d", paired.ActualOppositePrice)
	}
	if paired.PairCostPoints != 95 || paired.PairProfitPoints != 5 {
		t.Errorf("expected cost=95 profit=5, got cost=%d profit=%d", paired.PairCostPoints, paired.PairProfitPoints)
	}
	if paired.ClosestApproachPoints == nil || *paired.ClosestApproachPoints != 0 {
		t.Errorf("expected closest_approach=0, got %v", paired.ClosestApproachPoints)
	}
	if paired.MAEPoints == nil || *paired.MAEPoints != 0 {
		t.Errorf("expected mae=0, got %v", paired.MAEPoints)
	}
	if paired.T2CycleNumber != 3 || paired.T2 == nil {
		t.Errorf("expected t2 on cycle 3, got cycle %d t2=%v", paired.T2CycleNumber, paired.T2)
	}
	if paired.TimeToPairSeconds != 10 {
		t.Errorf("expected time_to_pair=10s, got %.1f", paired.TimeToPairSeconds)
	}

	// The opposite wick that paired the yes attempt also fires a fresh
	// no-side attempt in the same cycle.
	if len(r3.NewAttempts) != 1 || r3.NewAttempts[0].FirstLegSide != types.SideNo {
		t.Fatalf("cycle 3: expected a new no-side attempt from the same wick, got %v", r3.NewAttempts)
	}
	if r3.ActiveCount != 1 {
		t.Errorf("expected 1 active after cycle 3, got %d", r3.ActiveCount)
	}
}

func TestNearMissSettlementFailure(t *testing.T) {
	e := newTestEvaluator(testParams())

	// Entry: yes fires at P1=49, opposite trigger 46.
	snap := balancedSnapshot()
	snap.YesPeriodLowAskPoints = 49
	r := e.EvaluateCycle(snap, 1, cycleTime(1), 600)
	if len(r.NewAttempts) != 1 {
		t.Fatalf("expected 1 new attempt, got %d", len(r.NewAttempts))
	}

	// Two cycles of near misses: the no ask never dips below 47. The yes
	// ask is lifted so the wick cannot fire a second attempt.
	snap2 := balancedSnapshot()
	snap2.YesAskPoints = 56
	snap2.NoPeriodLowAskPoints = 47
	r2 := e.EvaluateCycle(snap2, 2, cycleTime(2), 590)
	if len(r2.NewAttempts) != 0 || len(r2.PairedAttempts) != 0 {
		t.Fatalf("cycle 2: expected a quiet near miss, got %d new / %d paired", len(r2.NewAttempts), len(r2.PairedAttempts))
	}

	snap3 := snap2
	snap3.YesBidPoints = 45 // worst first-leg dip: MAE = 49 - 45 = 4
	r3 := e.EvaluateCycle(snap3, 3, cycleTime(3), 580)
	if len(r3.PairedAttempts) != 0 || r3.ActiveCount != 1 {
		t.Fatalf("cycle 3: expected the attempt to stay active, got %d paired / %d active", len(r3.PairedAttempts), r3.ActiveCount)
	}

	failed := e.ProcessSettlement(cycleTime(4), 0, types.FailSettlementReached)
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed attempt at settlement, got %d", len(failed))
	}
	a := failed[0]
	if a.Status != types.StatusCompletedFailed || a.FailReason != types.FailSettlementReached {
		t.Errorf("expected settlement failure, got status=%s reason=%s", a.Status, a.FailReason)
	}
	if a.ClosestApproachPoints == nil || *a.ClosestApproachPoints != 1 {
		t.Errorf("expected closest_approach=1, got %v", a.ClosestApproachPoints)
	}
	if a.ClosestApproachCycle != 2 {
		t.Errorf("expected closest approach on cycle 2, got %d", a.ClosestApproachCycle)
	}
	if a.MAEPoints == nil || *a.MAEPoints != 4 {
		t.Errorf("expected mae=4, got %v", a.MAEPoints)
	}
	if a.MAECycle != 3 {
		t.Errorf("expected mae on cycle 3, got %d", a.MAECycle)
	}
	if a.TimeRemainingAtCompletion != 0 {
		t.Errorf("expected time_remaining_at_completion=0, got %.1f", a.TimeRemainingAtCompletion)
	}

	if again := e.ProcessSettlement(cycleTime(5), 0, types.FailSettlementReached); len(again) != 0 {
		t.Errorf("second settlement pass should be empty, got %d", len(again))
	}
}

func TestStopLoss(t *testing.T) {
	params := testParams()
	params.StopLossThresholdPoints = 3
	e := newTestEvaluator(params)

	snap := balancedSnapshot()
	snap.YesPeriodLowAskPoints = 49
	r := e.EvaluateCycle(snap, 1, cycleTime(1), 600)
	if len(r.NewAttempts) != 1 {
		t.Fatalf("expected 1 new attempt, got %d", len(r.NewAttempts))
	}
	if r.NewAttempts[0].StopLossPricePoints != 46 {
		t.Fatalf("expected stop price 46, got %d", r.NewAttempts[0].StopLossPricePoints)
	}

	// First-leg bid wicks down through the stop in the next window.
	snap2 := balancedSnapshot()
	snap2.YesPeriodLowBidPoints = 46
	r2 := e.EvaluateCycle(snap2, 2, cycleTime(2), 590)

	if len(r2.StoppedAttempts) != 1 {
		t.Fatalf("expected 1 stopped attempt, got %d", len(r2.StoppedAttempts))
	}
	a := r2.StoppedAttempts[0]
	if a.Status != types.StatusCompletedFailed || a.FailReason != types.FailStopLoss {
		t.Errorf("expected stop_loss failure, got status=%s reason=%s", a.Status, a.FailReason)
	}
	if a.PairCostPoints != 49 || a.PairProfitPoints != -3 {
		t.Errorf("expected cost=49 profit=-3, got cost=%d profit=%d", a.PairCostPoints, a.PairProfitPoints)
	}
	if a.T2 == nil || a.T2CycleNumber != 2 {
		t.Errorf("expected t2 on cycle 2, got %d", a.T2CycleNumber)
	}
	if a.MAEPoints == nil || *a.MAEPoints != 3 {
		t.Errorf("expected mae=3 from the stop wick, got %v", a.MAEPoints)
	}
	if a.YesSpreadExitPoints != 4 || a.NoSpreadExitPoints != 4 {
		t.Errorf("expected exit spreads 4/4, got %d/%d", a.YesSpreadExitPoints, a.NoSpreadExitPoints)
	}
	if r2.ActiveCount != 0 {
		t.Errorf("expected 0 active after the stop, got %d", r2.ActiveCount)
	}
}

func TestStopLossBeatsPairingInSameWindow(t *testing.T) {
	params := testParams()
	params.StopLossThresholdPoints = 3
	e := newTestEvaluator(params)

	snap := balancedSnapshot()
	snap.YesPeriodLowAskPoints = 49
	e.EvaluateCycle(snap, 1, cycleTime(1), 600)

	// One window where both the stop (yes bid <= 46) and the pair (no ask
	// <= 46) were touched. The stop must win.
	snap2 := balancedSnapshot()
	snap2.YesPeriodLowBidPoints = 45
	snap2.NoPeriodLowAskPoints = 46
	r2 := e.EvaluateCycle(snap2, 2, cycleTime(2), 590)

	if len(r2.StoppedAttempts) != 1 {
		t.Fatalf("expected the stop to win, got %d stopped / %d paired", len(r2.StoppedAttempts), len(r2.PairedAttempts))
	}
	for _, p := range r2.PairedAttempts {
		if p.Seq == r2.StoppedAttempts[0].Seq {
			t.Fatalf("attempt both stopped and paired")
		}
	}
	if r2.StoppedAttempts[0].FailReason != types.FailStopLoss {
		t.Errorf("expected stop_loss, got %s", r2.StoppedAttempts[0].FailReason)
	}
}

func TestSimultaneousFireTieBreak(t *testing.T) {
	tests := []struct {
		name        string
		yesLowAsk   int
		noLowAsk    int
		expectFirst types.Side
	}{
		{
			name:        "no-touched-harder-goes-first",
			yesLowAsk:   49,
			noLowAsk:    48,
			expectFirst: types.SideNo,
		},
		{
			name:        "equal-distance-falls-back-to-yes",
			yesLowAsk:   48,
			noLowAsk:    48,
			expectFirst: types.SideYes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator(testParams())

			snap := types.Snapshot{
				YesBidPoints:          48,
				YesAskPoints:          49,
				NoBidPoints:           48,
				NoAskPoints:           49,
				YesPeriodLowAskPoints: tt.yesLowAsk,
				NoPeriodLowAskPoints:  tt.noLowAsk,
			}
			// Both triggers are 101-49 = 52.
			r := e.EvaluateCycle(snap, 1, cycleTime(1), 500)

			if len(r.NewAttempts) != 2 {
				t.Fatalf("expected both sides to fire, got %d", len(r.NewAttempts))
			}
			if r.NewAttempts[0].FirstLegSide != tt.expectFirst {
				t.Errorf("expected %s first, got %s", tt.expectFirst, r.NewAttempts[0].FirstLegSide)
			}
			if r.NewAttempts[0].Seq >= r.NewAttempts[1].Seq {
				t.Errorf("emission order must match creation order: seq %d then %d",
					r.NewAttempts[0].Seq, r.NewAttempts[1].Seq)
			}
			if r.ActiveCount != 2 {
				t.Errorf("expected both attempts active, got %d", r.ActiveCount)
			}
			for _, a := range r.NewAttempts {
				if a.P1Points != 52 {
					t.Errorf("expected P1=52 (the trigger level, not the touch), got %d", a.P1Points)
				}
			}
		})
	}
}

func TestSkippedSnapshots(t *testing.T) {
	tests := []struct {
		name       string
		snap       types.Snapshot
		wantReason string
	}{
		{
			name:       "missing-yes-book",
			snap:       types.Snapshot{NoBidPoints: 48, NoAskPoints: 52},
			wantReason: "missing yes book",
		},
		{
			name: "crossed-no-book",
			snap: types.Snapshot{
				YesBidPoints: 48, YesAskPoints: 52,
				NoBidPoints: 53, NoAskPoints: 52,
			},
			wantReason: "crossed no book",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator(testParams())

			// Seed one active attempt so we can verify skips leave it alone.
			seed := balancedSnapshot()
			seed.YesPeriodLowAskPoints = 49
			e.EvaluateCycle(seed, 1, cycleTime(1), 600)

			r := e.EvaluateCycle(tt.snap, 2, cycleTime(2), 590)
			if !r.Skipped {
				t.Fatal("expected skipped result")
			}
			if r.SkipReason != tt.wantReason {
				t.Errorf("expected reason %q, got %q", tt.wantReason, r.SkipReason)
			}
			if r.ActiveCount != 1 {
				t.Errorf("skip must not touch active attempts, got %d", r.ActiveCount)
			}
			if len(r.NewAttempts) != 0 || len(r.PairedAttempts) != 0 || len(r.StoppedAttempts) != 0 {
				t.Error("skipped cycle must not produce attempts")
			}
		})
	}
}

func TestReferenceSumAnomaly(t *testing.T) {
	e := newTestEvaluator(testParams())

	// Both books priced high: refs are 92+92, deviation 84.
	snap := types.Snapshot{
		YesBidPoints: 90, YesAskPoints: 94,
		NoBidPoints: 90, NoAskPoints: 94,
	}
	r := e.EvaluateCycle(snap, 1, cycleTime(1), 500)

	if r.Skipped {
		t.Fatal("anomalous cycles must still process")
	}
	if !r.Anomaly {
		t.Fatal("expected anomaly flag")
	}
	if r.AnomalyDetail == "" {
		t.Error("expected anomaly detail")
	}

	// Triggers are 101-94 = 7; neither low ask (94) reaches them.
	if len(r.NewAttempts) != 0 {
		t.Errorf("expected no attempts, got %d", len(r.NewAttempts))
	}
}

func TestLastTradeReferenceSource(t *testing.T) {
	params := testParams()
	params.ReferencePriceSource = types.ReferenceLastTrade
	e := newTestEvaluator(params)

	snap := balancedSnapshot()
	snap.YesPeriodLowAskPoints = 49
	snap.YesLastTradePoints = 51
	snap.NoLastTradePoints = 49
	r := e.EvaluateCycle(snap, 1, cycleTime(1), 500)

	if len(r.NewAttempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(r.NewAttempts))
	}
	a := r.NewAttempts[0]
	if a.ReferenceYesPoints != 51 || a.ReferenceNoPoints != 49 {
		t.Errorf("expected last-trade references 51/49, got %.1f/%.1f", a.ReferenceYesPoints, a.ReferenceNoPoints)
	}

	// Without prints, references fall back to midpoints.
	e2 := newTestEvaluator(params)
	snap2 := balancedSnapshot()
	snap2.YesPeriodLowAskPoints = 49
	r2 := e2.EvaluateCycle(snap2, 1, cycleTime(1), 500)
	if len(r2.NewAttempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(r2.NewAttempts))
	}
	if r2.NewAttempts[0].ReferenceYesPoints != 50 || r2.NewAttempts[0].ReferenceNoPoints != 50 {
		t.Errorf("expected midpoint fallback 50/50, got %.1f/%.1f",
			r2.NewAttempts[0].ReferenceYesPoints, r2.NewAttempts[0].ReferenceNoPoints)
	}
}

func TestOppositeMaxInvariant(t *testing.T) {
	pairCap := 95

	tests := []struct {
		name   string
		oppAsk int // opposite current ask drives the trigger: P1 = 101 - oppAsk
		wantP1 int
	}{
		{name: "deep-leg", oppAsk: 7, wantP1: 94},
		{name: "mid-leg", oppAsk: 52, wantP1: 49},
		{name: "cheap-leg", oppAsk: 92, wantP1: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator(testParams())

			snap := types.Snapshot{
				YesBidPoints: tt.wantP1 - 1, YesAskPoints: tt.wantP1 + 1,
				NoBidPoints: tt.oppAsk - 4, NoAskPoints: tt.oppAsk,
				YesPeriodLowAskPoints: tt.wantP1,
			}
			r := e.EvaluateCycle(snap, 1, cycleTime(1), 500)

			if len(r.NewAttempts) != 1 {
				t.Fatalf("expected a yes attempt, got %d", len(r.NewAttempts))
			}
			a := r.NewAttempts[0]
			if a.FirstLegSide != types.SideYes {
				t.Fatalf("expected yes attempt, got %s", a.FirstLegSide)
			}
			if a.P1Points != tt.wantP1 {
				t.Fatalf("expected P1=%d, got %d", tt.wantP1, a.P1Points)
			}
			wantOpp := pairCap - a.P1Points
			if a.OppositeMaxPoints != wantOpp {
				t.Errorf("expected opposite_max=%d, got %d", wantOpp, a.OppositeMaxPoints)
			}
			if a.P1Points+a.OppositeMaxPoints > pairCap {
				t.Errorf("P1 + opposite_max = %d exceeds pair cap %d", a.P1Points+a.OppositeMaxPoints, pairCap)
			}
			if a.OppositeTriggerPoints != a.OppositeMaxPoints {
				t.Errorf("opposite trigger %d must equal opposite max %d", a.OppositeTriggerPoints, a.OppositeMaxPoints)
			}
		})
	}
}

func TestLifecycleRecords(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	e := New(&Config{
		Market:             testMarket(),
		ParameterSet:       testParams(),
		MaxRefSumDeviation: 2,
		EnableLifecycle:    true,
		Logger:             logger,
	})

	snap := balancedSnapshot()
	snap.YesPeriodLowAskPoints = 49
	r1 := e.EvaluateCycle(snap, 1, cycleTime(1), 600)

	// New attempts have no persisted id yet, so no record on cycle 1.
	if len(r1.LifecycleRecords) != 0 {
		t.Fatalf("expected no lifecycle records for unpersisted attempts, got %d", len(r1.LifecycleRecords))
	}

	// The store assigns the id between cycles.
	r1.NewAttempts[0].AttemptID = 101

	r2 := e.EvaluateCycle(balancedSnapshot(), 2, cycleTime(2), 590)
	if len(r2.LifecycleRecords) != 1 {
		t.Fatalf("expected 1 lifecycle record, got %d", len(r2.LifecycleRecords))
	}
	rec := r2.LifecycleRecords[0]
	if rec.AttemptID != 101 {
		t.Errorf("expected attempt_id=101, got %d", rec.AttemptID)
	}
	if rec.CycleNumber != 2 {
		t.Errorf("expected cycle_number=2, got %d", rec.CycleNumber)
	}
	if rec.OppositeAskPoints != 52 {
		t.Errorf("expected opposite ask 52, got %d", rec.OppositeAskPoints)
	}
	if rec.DistanceToTrigger != 6 {
		t.Errorf("expected distance 52-46=6, got %d", rec.DistanceToTrigger)
	}
	if rec.ClosestApproachSoFar != 6 {
		t.Errorf("expected closest-so-far 6, got %d", rec.ClosestApproachSoFar)
	}
}

func TestLifecycleDisabledByDefault(t *testing.T) {
	e := newTestEvaluator(testParams())

	snap := balancedSnapshot()
	snap.YesPeriodLowAskPoints = 49
	r1 := e.EvaluateCycle(snap, 1, cycleTime(1), 600)
	r1.NewAttempts[0].AttemptID = 55

	r2 := e.EvaluateCycle(balancedSnapshot(), 2, cycleTime(2), 590)
	if len(r2.LifecycleRecords) != 0 {
		t.Errorf("expected no lifecycle records when disabled, got %d", len(r2.LifecycleRecords))
	}
}

func TestMarkFeedGap(t *testing.T) {
	e := newTestEvaluator(testParams())

	snap := balancedSnapshot()
	snap.YesPeriodLowAskPoints = 49
	r := e.EvaluateCycle(snap, 1, cycleTime(1), 600)

	e.MarkFeedGap()

	if !r.NewAttempts[0].HadFeedGap {
		t.Error("expected active attempt to be flagged with had_feed_gap")
	}
}

func TestProcessSettlementShutdown(t *testing.T) {
	e := newTestEvaluator(testParams())

	snap := balancedSnapshot()
	snap.YesPeriodLowAskPoints = 49
	snap.NoPeriodLowAskPoints = 48 // both sides fire: triggers 49/49... no: see below
	// trigger no = 101-52 = 49, no low 48 <= 49: fires too.
	e.EvaluateCycle(snap, 1, cycleTime(1), 600)

	failed := e.ProcessSettlement(cycleTime(2), 310, types.FailBotShutdown)
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed attempts, got %d", len(failed))
	}
	for _, a := range failed {
		if a.Status != types.StatusCompletedFailed {
			t.Errorf("expected completed_failed, got %s", a.Status)
		}
		if a.FailReason != types.FailBotShutdown {
			t.Errorf("expected bot_shutdown, got %s", a.FailReason)
		}
		if a.TimeRemainingAtCompletion != 310 {
			t.Errorf("expected time_remaining=310, got %.1f", a.TimeRemainingAtCompletion)
		}
	}
	if e.ActiveCount() != 0 {
		t.Errorf("expected no active attempts after settlement, got %d", e.ActiveCount())
	}
}

func TestStatsTracking(t *testing.T) {
	e := newTestEvaluator(testParams())

	snap := balancedSnapshot()
	snap.YesPeriodLowAskPoints = 49
	snap.NoPeriodLowAskPoints = 48
	e.EvaluateCycle(snap, 1, cycleTime(1), 600)

	// Pair the yes attempt: its opposite (no) trigger is 95-49 = 46.
	snap2 := balancedSnapshot()
	snap2.NoPeriodLowAskPoints = 46
	e.EvaluateCycle(snap2, 2, cycleTime(2), 590)

	stats := e.Stats()
	if stats.MaxConcurrent != 2 {
		t.Errorf("expected max_concurrent=2, got %d", stats.MaxConcurrent)
	}
	if stats.TotalPairs < 1 {
		t.Errorf("expected at least 1 pair, got %d", stats.TotalPairs)
	}
	if stats.TotalAttempts < 2 {
		t.Errorf("expected at least 2 attempts, got %d", stats.TotalAttempts)
	}
}
