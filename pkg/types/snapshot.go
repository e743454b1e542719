package types

import "time"

// Snapshot is the immutable per-cycle view of one market's two books.
// The monitor builds exactly one per cycle and shares it by value across
// every evaluator. Zero means "absent" for the optional fields; best bids
// and asks are required for a valid snapshot.
type Snapshot struct {
	MarketID    string
	CycleNumber int
	Timestamp   time.Time

	YesBidPoints int
	YesAskPoints int
	NoBidPoints  int
	NoAskPoints  int

	// Period lows accumulated by the feed since the previous cycle
	// boundary; 0 when no message arrived in the window.
	YesPeriodLowAskPoints int
	NoPeriodLowAskPoints  int
	YesPeriodLowBidPoints int
	NoPeriodLowBidPoints  int

	YesLastTradePoints int
	NoLastTradePoints  int

	TimeRemainingSeconds float64

	// Populated by the monitor when the snapshot row is persisted.
	ActiveAttempts int
	AnomalyFlag    bool
}

// Validate reports whether the snapshot can drive a cycle, and a short
// reason when it cannot. Both books need a positive bid strictly below a
// positive ask.
func (s *Snapshot) Validate() (bool, string) {
	if s.YesBidPoints <= 0 || s.YesAskPoints <= 0 {
		return false, "missing yes book"
	}
	if s.NoBidPoints <= 0 || s.NoAskPoints <= 0 {
		return false, "missing no book"
	}
	if s.YesBidPoints >= s.YesAskPoints {
		return false, "crossed yes book"
	}
	if s.NoBidPoints >= s.NoAskPoints {
		return false, "crossed no book"
	}
	return true, ""
}

// YesSpreadPoints returns ask-bid for the YES book.
func (s *Snapshot) YesSpreadPoints() int { return s.YesAskPoints - s.YesBidPoints }

// NoSpreadPoints returns ask-bid for the NO book.
func (s *Snapshot) NoSpreadPoints() int { return s.NoAskPoints - s.NoBidPoints }

// MarketSummary aggregates one completed market for the rotation log and
// the markets table summary columns.
type MarketSummary struct {
	MarketID             string
	CryptoAsset          string
	TotalAttempts        int
	TotalPairs           int
	TotalFailed          int
	SettlementFailures   int
	PairRate             float64
	AvgTimeToPair        float64 // seconds, 0 when no pairs
	MedianTimeToPair     float64 // seconds, 0 when no pairs
	MaxConcurrent        int
	TotalCycles          int
	CycleInterval        float64 // seconds
	TimeRemainingAtStart float64 // seconds
	AnomalyCount         int
	WasShutdown          bool
}
