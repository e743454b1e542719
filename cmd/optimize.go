package cmd

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mselser95/updown-pairs/internal/storage"
	"github.com/mselser95/updown-pairs/pkg/pricing"
)

//nolint:gochecknoglobals // Cobra boilerplate
var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Search measured attempts for the best entry region",
	Long: `Replays the attempts journal through an exhaustive box search: for every
measured (delta, stop loss) combination it finds the P1 price range and
minutes-remaining range that would have maximized total net PnL, scoring
pairs at +delta and failures at -stop (or -P1 without a stop loss).

The search is observational. It ranks regions of the already-measured
grid; it does not extrapolate to parameters never run.`,
	RunE: runOptimize,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(optimizeCmd)
	optimizeCmd.Flags().Int("s0", 1, "Entry premium S0 (points) to optimize over")
	optimizeCmd.Flags().Int("min-attempts", 30, "Minimum attempts for a box to qualify")
	optimizeCmd.Flags().Int("top", 10, "Number of boxes to print")
	optimizeCmd.Flags().String("after", "", "Only attempts at or after this time (RFC3339 or YYYY-MM-DD)")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	s0, _ := cmd.Flags().GetInt("s0")
	minAttempts, _ := cmd.Flags().GetInt("min-attempts")
	top, _ := cmd.Flags().GetInt("top")
	afterRaw, _ := cmd.Flags().GetString("after")

	after, err := parseAfter(afterRaw)
	if err != nil {
		return err
	}
	if minAttempts < 1 {
		minAttempts = 1
	}

	store, logger, err := openAnalyticsStore()
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
		_ = logger.Sync()
	}()

	cells, err := store.GetOptimizerGrid(ctx, s0, after)
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		fmt.Printf("No completed attempts with S0=%d to optimize over.\n", s0)
		return nil
	}

	results := searchBoxes(cells, minAttempts)
	if len(results) == 0 {
		fmt.Printf("No box reaches %d attempts. Lower --min-attempts or measure longer.\n", minAttempts)
		return nil
	}
	if top > 0 && len(results) > top {
		results = results[:top]
	}

	minT1, maxT1 := dataWindow(cells)
	fmt.Printf("Optimizing S0=%d over %d grid cells (%s to %s)\n\n",
		s0, len(cells),
		minT1.UTC().Format("2006-01-02"), maxT1.UTC().Format("2006-01-02"))

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("DELTA", "STOP", "P1 RANGE", "MINUTES LEFT", "ATTEMPTS", "PAIRS", "PAIR RATE", "NET PNL")
	for _, b := range results {
		stop := "-"
		if b.stopLossPoints != nil {
			stop = fmt.Sprintf("%d", *b.stopLossPoints)
		}
		rate := 0.0
		if b.attempts > 0 {
			rate = float64(b.pairs) / float64(b.attempts)
		}
		table.Append(
			fmt.Sprintf("%d", b.deltaPoints),
			stop,
			fmt.Sprintf("%d-%d", b.p1Lo, b.p1Hi),
			fmt.Sprintf("%d-%d", b.minuteLo, b.minuteHi),
			fmt.Sprintf("%d", b.attempts),
			fmt.Sprintf("%d", b.pairs),
			fmt.Sprintf("%.1f%%", rate*100),
			pricing.PointsToDollars(int(math.Round(b.totalPnl))),
		)
	}
	table.Render()

	fmt.Println("\nPnL scores pairs at +delta and failures at -stop (-P1 without a stop loss), per 1-share attempt.")

	return nil
}

// boxResult is the best rectangular entry region (P1 range × minutes-left
// range) found for one (delta, stop loss) slice of the grid.
type boxResult struct {
	deltaPoints    int
	stopLossPoints *int
	p1Lo, p1Hi     int
	minuteLo       int
	minuteHi       int
	attempts       int
	pairs          int
	totalPnl       float64
}

// searchBoxes finds the highest-PnL qualifying box for every (delta, stop
// loss) slice of the grid, ranked by total net PnL.
func searchBoxes(cells []storage.GridCell, minAttempts int) []boxResult {
	type sliceKey struct {
		delta int
		stop  int // -1 when the slice has no stop loss
	}
	groups := make(map[sliceKey][]storage.GridCell)
	for _, c := range cells {
		key := sliceKey{delta: c.DeltaPoints, stop: -1}
		if c.StopLossPoints != nil {
			key.stop = *c.StopLossPoints
		}
		groups[key] = append(groups[key], c)
	}

	var out []boxResult
	for _, group := range groups {
		if best, ok := searchGroup(group, minAttempts); ok {
			out = append(out, best)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].totalPnl > out[j].totalPnl })
	return out
}

// maxP1 and maxMinute bound the search plane: P1 spans the quotable point
// range and minutes-left spans one 15-minute window.
const (
	maxP1     = 99
	maxMinute = 15
)

// searchGroup runs the exhaustive box search over one (delta, stop loss)
// slice. Prefix sums over the 99×15 plane make the full enumeration of
// roughly half a million boxes cheap.
func searchGroup(cells []storage.GridCell, minAttempts int) (boxResult, bool) {
	var (
		pnl      [maxP1 + 1][maxMinute + 1]float64
		attempts [maxP1 + 1][maxMinute + 1]int
		pairs    [maxP1 + 1][maxMinute + 1]int
	)

	for _, c := range cells {
		if c.P1Points < 1 || c.P1Points > maxP1 || c.TimeMinute < 1 || c.TimeMinute > maxMinute {
			continue
		}
		pnl[c.P1Points][c.TimeMinute] += c.TotalPnl
		attempts[c.P1Points][c.TimeMinute] += c.Attempts
		pairs[c.P1Points][c.TimeMinute] += c.Pairs
	}

	for p := 1; p <= maxP1; p++ {
		for m := 1; m <= maxMinute; m++ {
			pnl[p][m] += pnl[p-1][m] + pnl[p][m-1] - pnl[p-1][m-1]
			attempts[p][m] += attempts[p-1][m] + attempts[p][m-1] - attempts[p-1][m-1]
			pairs[p][m] += pairs[p-1][m] + pairs[p][m-1] - pairs[p-1][m-1]
		}
	}

	sumF := func(g *[maxP1 + 1][maxMinute + 1]float64, p1Lo, p1Hi, mLo, mHi int) float64 {
		return g[p1Hi][mHi] - g[p1Lo-1][mHi] - g[p1Hi][mLo-1] + g[p1Lo-1][mLo-1]
	}
	sumI := func(g *[maxP1 + 1][maxMinute + 1]int, p1Lo, p1Hi, mLo, mHi int) int {
		return g[p1Hi][mHi] - g[p1Lo-1][mHi] - g[p1Hi][mLo-1] + g[p1Lo-1][mLo-1]
	}

	var (
		best     boxResult
		bestArea int
		found    bool
	)
	for p1Lo := 1; p1Lo <= maxP1; p1Lo++ {
		for p1Hi := p1Lo; p1Hi <= maxP1; p1Hi++ {
			for mLo := 1; mLo <= maxMinute; mLo++ {
				for mHi := mLo; mHi <= maxMinute; mHi++ {
					n := sumI(&attempts, p1Lo, p1Hi, mLo, mHi)
					if n < minAttempts {
						continue
					}
					total := sumF(&pnl, p1Lo, p1Hi, mLo, mHi)
					area := (p1Hi - p1Lo + 1) * (mHi - mLo + 1)
					// Ties prefer the tighter box so empty margins don't
					// inflate the recommended region.
					if found && (total < best.totalPnl || (total == best.totalPnl && area >= bestArea)) {
						continue
					}
					best = boxResult{
						deltaPoints:    cells[0].DeltaPoints,
						stopLossPoints: cells[0].StopLossPoints,
						p1Lo:           p1Lo,
						p1Hi:           p1Hi,
						minuteLo:       mLo,
						minuteHi:       mHi,
						attempts:       n,
						pairs:          sumI(&pairs, p1Lo, p1Hi, mLo, mHi),
						totalPnl:       total,
					}
					bestArea = area
					found = true
				}
			}
		}
	}
	return best, found
}

// dataWindow returns the earliest and latest entry timestamps in the grid.
func dataWindow(cells []storage.GridCell) (time.Time, time.Time) {
	minT1, maxT1 := cells[0].MinT1, cells[0].MaxT1
	for _, c := range cells[1:] {
		if c.MinT1.Before(minT1) {
			minT1 = c.MinT1
		}
		if c.MaxT1.After(maxT1) {
			maxT1 = c.MaxT1
		}
	}
	return minT1, maxT1
}
