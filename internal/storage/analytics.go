package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ReportFilter narrows analytics queries. Zero values mean "no filter".
type ReportFilter struct {
	ParameterSetID int64
	Asset          string
	After          time.Time
}

// where builds the filter clause. Asset filtering requires the markets
// join, which callers opt into with joinMarkets.
func (f ReportFilter) where(startIdx int) (clause string, args []any, joinMarkets bool) {
	var clauses []string
	idx := startIdx
	if f.ParameterSetID > 0 {
		clauses = append(clauses, fmt.Sprintf("a.parameter_set_id = $%d", idx))
		args = append(args, f.ParameterSetID)
		idx++
	}
	if f.Asset != "" {
		clauses = append(clauses, fmt.Sprintf("m.crypto_asset = $%d", idx))
		args = append(args, strings.ToLower(f.Asset))
		idx++
		joinMarkets = true
	}
	if !f.After.IsZero() {
		clauses = append(clauses, fmt.Sprintf("a.t1_timestamp >= $%d", idx))
		args = append(args, f.After)
	}
	if len(clauses) == 0 {
		return "", nil, joinMarkets
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, joinMarkets
}

// OverallStats aggregates every attempt matching the filter.
type OverallStats struct {
	TotalAttempts int
	TotalPairs    int
	TotalFailed   int
	PairRate      float64
	AvgTimeToPair float64 // seconds, paired only
	AvgCostPoints float64 // paired only
	AvgProfit     float64 // points, paired only
}

// GetOverallStats returns totals, pair rate, and paired-only averages.
func (p *PostgresStorage) GetOverallStats(ctx context.Context, f ReportFilter) (*OverallStats, error) {
	where, args, joinMarkets := f.where(1)
	join := ""
	if joinMarkets {
		join = " JOIN markets m ON a.market_id = m.market_id"
	}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN a.status='completed_paired' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN a.status='completed_failed' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN a.status='completed_paired' THEN 1.0 ELSE 0.0 END), 0),
			AVG(CASE WHEN a.status='completed_paired' THEN a.time_to_pair_seconds END),
			AVG(CASE WHEN a.status='completed_paired' THEN a.pair_cost_points END),
			AVG(CASE WHEN a.status='completed_paired' THEN a.pair_profit_points END)
		FROM attempts a` + join + where

	var (
		stats  OverallStats
		ttp    sql.NullFloat64
		cost   sql.NullFloat64
		profit sql.NullFloat64
	)
	err := p.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalAttempts, &stats.TotalPairs, &stats.TotalFailed,
		&stats.PairRate, &ttp, &cost, &profit,
	)
	if err != nil {
		return nil, fmt.Errorf("overall stats: %w", err)
	}

	stats.AvgTimeToPair = ttp.Float64
	stats.AvgCostPoints = cost.Float64
	stats.AvgProfit = profit.Float64
	return &stats, nil
}

// GroupStats is one row of a grouped breakdown (by asset, first leg,
// time bucket, or time-to-pair bucket).
type GroupStats struct {
	Key       string
	Attempts  int
	Pairs     int
	PairRate  float64
	AvgTTP    float64
	AvgProfit float64
	AvgMAE    float64
}

func (p *PostgresStorage) queryGroupStats(ctx context.Context, query string, args ...any) ([]GroupStats, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []GroupStats
	for rows.Next() {
		var (
			g      GroupStats
			ttp    sql.NullFloat64
			profit sql.NullFloat64
			mae    sql.NullFloat64
		)
		err = rows.Scan(&g.Key, &g.Attempts, &g.Pairs, &g.PairRate, &ttp, &profit, &mae)
		if err != nil {
			return nil, err
		}
		g.AvgTTP = ttp.Float64
		g.AvgProfit = profit.Float64
		g.AvgMAE = mae.Float64
		out = append(out, g)
	}
	return out, rows.Err()
}

const groupStatsColumns = `
	COUNT(*),
	COALESCE(SUM(CASE WHEN a.status='completed_paired' THEN 1 ELSE 0 END), 0),
	COALESCE(AVG(CASE WHEN a.status='completed_paired' THEN 1.0 ELSE 0.0 END), 0),
	AVG(CASE WHEN a.status='completed_paired' THEN a.time_to_pair_seconds END),
	AVG(CASE WHEN a.status='completed_paired' THEN a.pair_profit_points END),
	AVG(a.max_adverse_excursion_points)`

// GetStatsByAsset breaks attempts down by crypto asset.
func (p *PostgresStorage) GetStatsByAsset(ctx context.Context, f ReportFilter) ([]GroupStats, error) {
	where, args, _ := f.where(1)
	query := `
		SELECT m.crypto_asset,` + groupStatsColumns + `
		FROM attempts a
		JOIN markets m ON a.market_id = m.market_id` + where + `
		GROUP BY m.crypto_asset
		ORDER BY m.crypto_asset`

	out, err := p.queryGroupStats(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stats by asset: %w", err)
	}
	return out, nil
}

// GetStatsByFirstLeg breaks attempts down by which side fired first.
func (p *PostgresStorage) GetStatsByFirstLeg(ctx context.Context, f ReportFilter) ([]GroupStats, error) {
	where, args, joinMarkets := f.where(1)
	join := ""
	if joinMarkets {
		join = " JOIN markets m ON a.market_id = m.market_id"
	}
	query := `
		SELECT a.first_leg_side,` + groupStatsColumns + `
		FROM attempts a` + join + where + `
		GROUP BY a.first_leg_side
		ORDER BY a.first_leg_side DESC`

	out, err := p.queryGroupStats(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stats by first leg: %w", err)
	}
	return out, nil
}

// GetStatsByTimeBucket breaks attempts down by time remaining at entry.
func (p *PostgresStorage) GetStatsByTimeBucket(ctx context.Context, f ReportFilter) ([]GroupStats, error) {
	where, args, joinMarkets := f.where(1)
	join := ""
	if joinMarkets {
		join = " JOIN markets m ON a.market_id = m.market_id"
	}
	query := `
		SELECT COALESCE(a.time_remaining_bucket, 'unknown') AS bucket,` + groupStatsColumns + `
		FROM attempts a` + join + where + `
		GROUP BY bucket
		ORDER BY MIN(a.time_remaining_at_start) DESC`

	out, err := p.queryGroupStats(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stats by time bucket: %w", err)
	}
	return out, nil
}

// GetTimeToPairDistribution histograms paired attempts by time to pair.
func (p *PostgresStorage) GetTimeToPairDistribution(ctx context.Context, f ReportFilter) ([]GroupStats, error) {
	where, args, joinMarkets := f.where(1)
	join := ""
	if joinMarkets {
		join = " JOIN markets m ON a.market_id = m.market_id"
	}
	cond := " WHERE a.status = 'completed_paired'"
	if where != "" {
		cond += " AND" + strings.TrimPrefix(where, " WHERE")
	}

	query := `
		SELECT
			CASE
				WHEN a.time_to_pair_seconds < 10 THEN '0-10s'
				WHEN a.time_to_pair_seconds < 30 THEN '10-30s'
				WHEN a.time_to_pair_seconds < 60 THEN '30-60s'
				WHEN a.time_to_pair_seconds < 120 THEN '60-120s'
				WHEN a.time_to_pair_seconds < 300 THEN '120-300s'
				ELSE '300s+'
			END AS bucket,` + groupStatsColumns + `
		FROM attempts a` + join + cond + `
		GROUP BY bucket
		ORDER BY MIN(a.time_to_pair_seconds)`

	out, err := p.queryGroupStats(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("time to pair distribution: %w", err)
	}
	return out, nil
}

// FailureStats is one fail_reason group of failed attempts.
type FailureStats struct {
	Reason             string
	Count              int
	AvgClosestApproach float64
}

// GetFailureBreakdown groups failed attempts by reason.
func (p *PostgresStorage) GetFailureBreakdown(ctx context.Context, f ReportFilter) ([]FailureStats, error) {
	where, args, joinMarkets := f.where(1)
	join := ""
	if joinMarkets {
		join = " JOIN markets m ON a.market_id = m.market_id"
	}
	cond := " WHERE a.status = 'completed_failed'"
	if where != "" {
		cond += " AND" + strings.TrimPrefix(where, " WHERE")
	}

	query := `
		SELECT COALESCE(a.fail_reason, 'unknown'), COUNT(*),
			AVG(a.closest_approach_points)
		FROM attempts a` + join + cond + `
		GROUP BY a.fail_reason
		ORDER BY COUNT(*) DESC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failure breakdown: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []FailureStats
	for rows.Next() {
		var (
			fs      FailureStats
			closest sql.NullFloat64
		)
		err = rows.Scan(&fs.Reason, &fs.Count, &closest)
		if err != nil {
			return nil, err
		}
		fs.AvgClosestApproach = closest.Float64
		out = append(out, fs)
	}
	return out, rows.Err()
}

// NearMissStats describes how close failed attempts came to pairing.
type NearMissStats struct {
	TotalFailed     int
	NearMisses      int // within 2 points of the opposite trigger
	FrustrationRate float64
	AvgClosest      float64
	Proximity       []GroupStats // Key = proximity bucket, Attempts = count
}

// GetNearMissAnalysis buckets failed attempts by closest approach.
func (p *PostgresStorage) GetNearMissAnalysis(ctx context.Context, f ReportFilter) (*NearMissStats, error) {
	where, args, joinMarkets := f.where(1)
	join := ""
	if joinMarkets {
		join = " JOIN markets m ON a.market_id = m.market_id"
	}
	cond := " WHERE a.status = 'completed_failed' AND a.closest_approach_points IS NOT NULL"
	if where != "" {
		cond += " AND" + strings.TrimPrefix(where, " WHERE")
	}

	bucketQuery := `
		SELECT
			CASE
				WHEN a.closest_approach_points <= 1 THEN 'within 1pt'
				WHEN a.closest_approach_points <= 2 THEN 'within 2pt'
				WHEN a.closest_approach_points <= 5 THEN 'within 5pt'
				WHEN a.closest_approach_points <= 10 THEN 'within 10pt'
				ELSE '10pt+'
			END AS proximity,
			COUNT(*)
		FROM attempts a` + join + cond + `
		GROUP BY proximity
		ORDER BY MIN(a.closest_approach_points)`

	rows, err := p.db.QueryContext(ctx, bucketQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("near miss buckets: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := &NearMissStats{}
	for rows.Next() {
		var g GroupStats
		err = rows.Scan(&g.Key, &g.Attempts)
		if err != nil {
			return nil, err
		}
		out.Proximity = append(out.Proximity, g)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}

	totalsQuery := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN a.closest_approach_points <= 2 THEN 1 ELSE 0 END), 0),
			AVG(a.closest_approach_points)
		FROM attempts a` + join + cond

	var avgClosest sql.NullFloat64
	err = p.db.QueryRowContext(ctx, totalsQuery, args...).Scan(
		&out.TotalFailed, &out.NearMisses, &avgClosest,
	)
	if err != nil {
		return nil, fmt.Errorf("near miss totals: %w", err)
	}
	out.AvgClosest = avgClosest.Float64
	if out.TotalFailed > 0 {
		out.FrustrationRate = float64(out.NearMisses) / float64(out.TotalFailed)
	}
	return out, nil
}

// ParameterSetStats is one row of the side-by-side set comparison.
type ParameterSetStats struct {
	ParameterSetID int64
	Name           string
	S0Points       int
	DeltaPoints    int
	StopLossPoints *int
	Attempts       int
	Pairs          int
	PairRate       float64
	AvgTTP         float64
	AvgProfit      float64
}

// GetParameterSetComparison compares all stored parameter sets.
func (p *PostgresStorage) GetParameterSetComparison(ctx context.Context) ([]ParameterSetStats, error) {
	query := `
		SELECT
			p.parameter_set_id, p.name, p.s0_points, p.delta_points,
			p.stop_loss_threshold_points,
			COUNT(a.attempt_id),
			COALESCE(SUM(CASE WHEN a.status='completed_paired' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN a.status='completed_paired' THEN 1.0 ELSE 0.0 END), 0),
			AVG(CASE WHEN a.status='completed_paired' THEN a.time_to_pair_seconds END),
			AVG(CASE WHEN a.status='completed_paired' THEN a.pair_profit_points END)
		FROM parameter_sets p
		LEFT JOIN attempts a ON p.parameter_set_id = a.parameter_set_id
		GROUP BY p.parameter_set_id, p.name, p.s0_points, p.delta_points,
			p.stop_loss_threshold_points
		ORDER BY p.parameter_set_id`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("parameter set comparison: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []ParameterSetStats
	for rows.Next() {
		var (
			ps       ParameterSetStats
			stopLoss sql.NullInt64
			ttp      sql.NullFloat64
			profit   sql.NullFloat64
		)
		err = rows.Scan(
			&ps.ParameterSetID, &ps.Name, &ps.S0Points, &ps.DeltaPoints,
			&stopLoss, &ps.Attempts, &ps.Pairs, &ps.PairRate, &ttp, &profit,
		)
		if err != nil {
			return nil, err
		}
		if stopLoss.Valid {
			v := int(stopLoss.Int64)
			ps.StopLossPoints = &v
		}
		ps.AvgTTP = ttp.Float64
		ps.AvgProfit = profit.Float64
		out = append(out, ps)
	}
	return out, rows.Err()
}

// netPnlExpr scores one completed attempt: pairs earn the designed delta,
// failures lose the stop-loss threshold when one was set, else the full P1.
const netPnlExpr = `CASE
	WHEN status = 'completed_paired' THEN delta_points
	WHEN status = 'completed_failed' THEN -COALESCE(stop_loss_threshold_points, p1_points)
	ELSE 0
END`

// GridCell is one (delta, stop_loss, P1, time-minute) aggregation cell of
// the optimizer's stage-1 query.
type GridCell struct {
	DeltaPoints    int
	StopLossPoints *int // nil when the set had no stop loss
	P1Points       int
	TimeMinute     int // CEIL(time_remaining_at_start / 60)
	Attempts       int
	Pairs          int
	TotalPnl       float64
	MinT1          time.Time
	MaxT1          time.Time
}

// GetOptimizerGrid aggregates completed attempts into the 4-D grid the
// box search runs over. Only attempts whose geometry could ever pair
// ((100 − P1) ≥ delta) and whose stop loss is reachable participate.
func (p *PostgresStorage) GetOptimizerGrid(ctx context.Context, s0Points int, after time.Time) ([]GridCell, error) {
	conds := []string{
		"status IN ('completed_paired', 'completed_failed')",
		"s0_points = $1",
		"time_remaining_at_start <= 900",
		"(100 - p1_points) >= delta_points",
		"(stop_loss_threshold_points IS NULL OR p1_points >= stop_loss_threshold_points)",
	}
	args := []any{s0Points}
	if !after.IsZero() {
		conds = append(conds, "t1_timestamp >= $2")
		args = append(args, after)
	}

	query := `
		SELECT
			delta_points,
			stop_loss_threshold_points,
			p1_points,
			CEIL(time_remaining_at_start / 60)::int AS time_minute,
			COUNT(*),
			COALESCE(SUM(CASE WHEN status='completed_paired' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(` + netPnlExpr + `), 0),
			MIN(t1_timestamp),
			MAX(t1_timestamp)
		FROM attempts
		WHERE ` + strings.Join(conds, " AND ") + `
		GROUP BY 1, 2, 3, 4`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("optimizer grid: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []GridCell
	for rows.Next() {
		var (
			c        GridCell
			stopLoss sql.NullInt64
		)
		err = rows.Scan(
			&c.DeltaPoints, &stopLoss, &c.P1Points, &c.TimeMinute,
			&c.Attempts, &c.Pairs, &c.TotalPnl, &c.MinT1, &c.MaxT1,
		)
		if err != nil {
			return nil, err
		}
		if stopLoss.Valid {
			v := int(stopLoss.Int64)
			c.StopLossPoints = &v
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// exportQueries whitelists the logical tables the export command can dump,
// with the column the --after filter applies to and a stable row order.
var exportQueries = map[string]struct {
	table      string
	timeColumn string
	orderBy    string
}{
	"attempts":   {table: "attempts", timeColumn: "t1_timestamp", orderBy: "attempt_id"},
	"markets":    {table: "markets", timeColumn: "start_time", orderBy: "market_id"},
	"snapshots":  {table: "snapshots", timeColumn: "timestamp", orderBy: "snapshot_id"},
	"parameters": {table: "parameter_sets", timeColumn: "created_at", orderBy: "parameter_set_id"},
	"lifecycle":  {table: "attempt_lifecycle", timeColumn: "timestamp", orderBy: "lifecycle_id"},
}

// ExportTables lists the logical table names accepted by ExportTable.
func ExportTables() []string {
	return []string{"attempts", "markets", "snapshots", "parameters", "lifecycle"}
}

// ExportTable streams a whitelisted table as column headers plus stringified
// rows, ready for CSV encoding. NULLs become empty strings. A non-zero
// after bounds rows to the table's time column.
func (p *PostgresStorage) ExportTable(ctx context.Context, table string, after time.Time) ([]string, [][]string, error) {
	spec, ok := exportQueries[table]
	if !ok {
		return nil, nil, fmt.Errorf("unknown table %q (valid: %s)", table, strings.Join(ExportTables(), ", "))
	}

	query := "SELECT * FROM " + spec.table
	var args []any
	if !after.IsZero() {
		query += fmt.Sprintf(" WHERE %s >= $1", spec.timeColumn)
		args = append(args, after)
	}
	query += " ORDER BY " + spec.orderBy

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("export %s: %w", table, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("export columns: %w", err)
	}

	var out [][]string
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		err = rows.Scan(scanTargets...)
		if err != nil {
			return nil, nil, fmt.Errorf("export scan: %w", err)
		}
		record := make([]string, len(columns))
		for i, v := range values {
			if v.Valid {
				record[i] = v.String
			}
		}
		out = append(out, record)
	}
	return columns, out, rows.Err()
}
