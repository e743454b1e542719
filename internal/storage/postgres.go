package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/pkg/types"
)

// schema is applied at construction. Every statement is idempotent so
// restarting against an existing database is safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS parameter_sets (
		parameter_set_id           BIGSERIAL PRIMARY KEY,
		name                       TEXT NOT NULL,
		s0_points                  INTEGER NOT NULL,
		delta_points               INTEGER NOT NULL,
		pair_cap_points            INTEGER NOT NULL,
		trigger_rule               TEXT NOT NULL,
		reference_price_source     TEXT NOT NULL,
		tie_break_rule             TEXT DEFAULT 'distance_then_yes',
		sampling_mode              TEXT,
		cycle_interval_seconds     DOUBLE PRECISION,
		cycles_per_market          INTEGER,
		feed_gap_threshold_seconds DOUBLE PRECISION,
		stop_loss_threshold_points INTEGER,
		created_at                 TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS markets (
		market_id               TEXT PRIMARY KEY,
		crypto_asset            TEXT NOT NULL,
		condition_id            TEXT NOT NULL,
		yes_token_id            TEXT NOT NULL,
		no_token_id             TEXT NOT NULL,
		start_time              TIMESTAMPTZ NOT NULL,
		settlement_time         TIMESTAMPTZ NOT NULL,
		actual_settlement_time  TIMESTAMPTZ,
		tick_size_points        INTEGER NOT NULL,
		parameter_set_id        BIGINT REFERENCES parameter_sets(parameter_set_id),
		total_attempts          INTEGER DEFAULT 0,
		total_pairs             INTEGER DEFAULT 0,
		total_failed            INTEGER DEFAULT 0,
		settlement_failures     INTEGER DEFAULT 0,
		pair_rate               DOUBLE PRECISION,
		avg_time_to_pair        DOUBLE PRECISION,
		median_time_to_pair     DOUBLE PRECISION,
		max_concurrent_attempts INTEGER DEFAULT 0,
		total_cycles_run        INTEGER DEFAULT 0,
		cycle_interval_seconds  DOUBLE PRECISION,
		time_remaining_at_start DOUBLE PRECISION,
		anomaly_count           INTEGER DEFAULT 0,
		notes                   TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS attempts (
		attempt_id              BIGSERIAL PRIMARY KEY,
		market_id               TEXT NOT NULL REFERENCES markets(market_id),
		parameter_set_id        BIGINT NOT NULL REFERENCES parameter_sets(parameter_set_id),
		cycle_number            INTEGER NOT NULL,
		t1_timestamp            TIMESTAMPTZ NOT NULL,
		first_leg_side          TEXT NOT NULL,
		p1_points               INTEGER NOT NULL,
		reference_yes_points    DOUBLE PRECISION NOT NULL,
		reference_no_points     DOUBLE PRECISION NOT NULL,
		opposite_side           TEXT NOT NULL,
		opposite_trigger_points INTEGER NOT NULL,
		opposite_max_points     INTEGER NOT NULL,
		status                  TEXT NOT NULL DEFAULT 'active',
		t2_timestamp            TIMESTAMPTZ,
		t2_cycle_number         INTEGER,
		time_to_pair_seconds    DOUBLE PRECISION,
		time_remaining_at_start DOUBLE PRECISION,
		time_remaining_at_completion DOUBLE PRECISION,
		actual_opposite_price   INTEGER,
		pair_cost_points        INTEGER,
		pair_profit_points      INTEGER,
		fail_reason             TEXT,
		had_feed_gap            BOOLEAN DEFAULT FALSE,
		closest_approach_points INTEGER,
		closest_approach_timestamp TIMESTAMPTZ,
		closest_approach_cycle_number INTEGER,
		max_adverse_excursion_points INTEGER,
		mae_timestamp           TIMESTAMPTZ,
		mae_cycle_number        INTEGER,
		time_remaining_bucket   TEXT,
		yes_spread_entry_points INTEGER,
		no_spread_entry_points  INTEGER,
		yes_spread_exit_points  INTEGER,
		no_spread_exit_points   INTEGER,
		delta_points            INTEGER,
		s0_points               INTEGER,
		stop_loss_threshold_points INTEGER,
		stop_loss_price_points  INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		snapshot_id             BIGSERIAL PRIMARY KEY,
		market_id               TEXT NOT NULL REFERENCES markets(market_id),
		cycle_number            INTEGER NOT NULL,
		timestamp               TIMESTAMPTZ NOT NULL,
		yes_bid_points          INTEGER,
		yes_ask_points          INTEGER,
		no_bid_points           INTEGER,
		no_ask_points           INTEGER,
		yes_last_trade_points   INTEGER,
		no_last_trade_points    INTEGER,
		time_remaining          DOUBLE PRECISION,
		active_attempts_count   INTEGER DEFAULT 0,
		anomaly_flag            BOOLEAN DEFAULT FALSE,
		yes_period_low_ask_points INTEGER,
		no_period_low_ask_points  INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS attempt_lifecycle (
		lifecycle_id            BIGSERIAL PRIMARY KEY,
		attempt_id              BIGINT NOT NULL REFERENCES attempts(attempt_id),
		cycle_number            INTEGER NOT NULL,
		timestamp               TIMESTAMPTZ NOT NULL,
		opposite_ask_points     INTEGER,
		distance_to_trigger     INTEGER,
		closest_approach_so_far INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_market ON attempts(market_id)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_ps_status ON attempts(parameter_set_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_lifecycle_attempt ON attempt_lifecycle(attempt_id)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_market ON snapshots(market_id)`,
}

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
	runID  string
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	// RunID, when set, is stamped into markets.notes so rows can be
	// traced back to the process that wrote them.
	RunID  string
	Logger *zap.Logger
}

// NewPostgresStorage opens the connection, pings it, and applies the schema.
// A failure here is fatal: a run that cannot journal is worthless.
func NewPostgresStorage(cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	p := &PostgresStorage{db: db, logger: cfg.Logger, runID: cfg.RunID}

	err = p.applySchema(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return p, nil
}

func (p *PostgresStorage) applySchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		_, err := p.db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("schema statement: %w", err)
		}
	}
	return nil
}

// InsertParameterSet stores a parameter set and returns its generated id.
func (p *PostgresStorage) InsertParameterSet(ctx context.Context, ps *types.ParameterSet, run RunSettings) (int64, error) {
	timer := startWriteTimer("insert_parameter_set")
	defer timer.done()

	query := `
		INSERT INTO parameter_sets (
			name, s0_points, delta_points, pair_cap_points, trigger_rule,
			reference_price_source, sampling_mode, cycle_interval_seconds,
			cycles_per_market, feed_gap_threshold_seconds,
			stop_loss_threshold_points, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING parameter_set_id
	`

	var id int64
	err := p.db.QueryRowContext(ctx, query,
		ps.Name,
		ps.S0Points,
		ps.DeltaPoints,
		ps.PairCapPoints(),
		string(ps.TriggerRule),
		string(ps.ReferencePriceSource),
		string(run.SamplingMode),
		run.CycleIntervalSeconds,
		run.CyclesPerMarket,
		run.FeedGapThresholdSeconds,
		nullStopLoss(ps.StopLossThresholdPoints),
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		timer.fail()
		return 0, fmt.Errorf("insert parameter set: %w", err)
	}

	ps.ID = id
	p.logger.Info("parameter-set-stored",
		zap.String("name", ps.Name),
		zap.Int64("parameter-set-id", id))

	return id, nil
}

// InsertMarket upserts the market row. Re-running against a market that was
// already observed refreshes its identity columns and leaves summaries alone.
func (p *PostgresStorage) InsertMarket(ctx context.Context, m *types.Market, parameterSetID int64, startTime time.Time, timeRemaining, cycleInterval float64) error {
	timer := startWriteTimer("insert_market")
	defer timer.done()

	query := `
		INSERT INTO markets (
			market_id, crypto_asset, condition_id, yes_token_id, no_token_id,
			start_time, settlement_time, tick_size_points, parameter_set_id,
			time_remaining_at_start, cycle_interval_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (market_id) DO UPDATE SET
			crypto_asset = EXCLUDED.crypto_asset,
			condition_id = EXCLUDED.condition_id,
			yes_token_id = EXCLUDED.yes_token_id,
			no_token_id = EXCLUDED.no_token_id,
			start_time = EXCLUDED.start_time,
			settlement_time = EXCLUDED.settlement_time,
			tick_size_points = EXCLUDED.tick_size_points,
			parameter_set_id = EXCLUDED.parameter_set_id,
			time_remaining_at_start = EXCLUDED.time_remaining_at_start,
			cycle_interval_seconds = EXCLUDED.cycle_interval_seconds
	`

	_, err := p.db.ExecContext(ctx, query,
		m.MarketID,
		m.CryptoAsset,
		m.ConditionID,
		m.YesTokenID,
		m.NoTokenID,
		startTime,
		m.SettlementTime,
		m.TickSizePoints,
		parameterSetID,
		timeRemaining,
		cycleInterval,
	)
	if err != nil {
		timer.fail()
		return fmt.Errorf("insert market: %w", err)
	}

	p.logger.Debug("market-stored", zap.String("market-id", m.MarketID))
	return nil
}

const insertAttemptQuery = `
	INSERT INTO attempts (
		market_id, parameter_set_id, cycle_number, t1_timestamp,
		first_leg_side, p1_points, reference_yes_points, reference_no_points,
		opposite_side, opposite_trigger_points, opposite_max_points,
		status, time_remaining_at_start, time_remaining_bucket,
		yes_spread_entry_points, no_spread_entry_points,
		delta_points, s0_points,
		stop_loss_threshold_points, stop_loss_price_points
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	RETURNING attempt_id
`

// InsertAttemptsBatch inserts all attempts inside one transaction and writes
// the generated ids back. On error no attempt receives an id.
func (p *PostgresStorage) InsertAttemptsBatch(ctx context.Context, attempts []*types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	timer := startWriteTimer("insert_attempts")
	defer timer.done()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		timer.fail()
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, insertAttemptQuery)
	if err != nil {
		timer.fail()
		return fmt.Errorf("prepare attempt insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	ids := make([]int64, len(attempts))
	for i, a := range attempts {
		err = stmt.QueryRowContext(ctx,
			a.MarketID,
			a.ParameterSetID,
			a.CycleNumber,
			a.T1,
			string(a.FirstLegSide),
			a.P1Points,
			a.ReferenceYesPoints,
			a.ReferenceNoPoints,
			string(a.OppositeSide),
			a.OppositeTriggerPoints,
			a.OppositeMaxPoints,
			string(a.Status),
			a.TimeRemainingAtStart,
			a.TimeRemainingBucket,
			a.YesSpreadEntryPoints,
			a.NoSpreadEntryPoints,
			a.DeltaPoints,
			a.S0Points,
			nullStopLoss(a.StopLossThresholdPoints),
			nullStopLoss(a.StopLossPricePoints),
		).Scan(&ids[i])
		if err != nil {
			timer.fail()
			return fmt.Errorf("insert attempt: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		timer.fail()
		return fmt.Errorf("commit insert tx: %w", err)
	}

	// Assign ids only after the commit succeeds.
	for i, a := range attempts {
		a.AttemptID = ids[i]
	}

	AttemptsWritten.WithLabelValues("insert").Add(float64(len(attempts)))
	return nil
}

const updatePairedQuery = `
	UPDATE attempts SET
		status = $1, t2_timestamp = $2, t2_cycle_number = $3,
		time_to_pair_seconds = $4, time_remaining_at_completion = $5,
		actual_opposite_price = $6, pair_cost_points = $7,
		pair_profit_points = $8, had_feed_gap = $9,
		closest_approach_points = $10, closest_approach_timestamp = $11,
		closest_approach_cycle_number = $12,
		max_adverse_excursion_points = $13, mae_timestamp = $14,
		mae_cycle_number = $15,
		yes_spread_exit_points = $16, no_spread_exit_points = $17
	WHERE attempt_id = $18
`

// UpdateAttemptsPairedBatch updates all paired attempts in one transaction.
func (p *PostgresStorage) UpdateAttemptsPairedBatch(ctx context.Context, attempts []*types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	timer := startWriteTimer("update_paired")
	defer timer.done()

	err := p.execBatch(ctx, updatePairedQuery, attempts, func(a *types.Attempt) []any {
		return []any{
			string(a.Status),
			a.T2,
			a.T2CycleNumber,
			a.TimeToPairSeconds,
			a.TimeRemainingAtCompletion,
			a.ActualOppositePrice,
			a.PairCostPoints,
			a.PairProfitPoints,
			a.HadFeedGap,
			nullIntPtr(a.ClosestApproachPoints),
			nullTimePtr(a.ClosestApproachAt),
			nullCycleFor(a.ClosestApproachPoints, a.ClosestApproachCycle),
			nullIntPtr(a.MAEPoints),
			nullTimePtr(a.MAEAt),
			nullCycleForTime(a.MAEAt, a.MAECycle),
			a.YesSpreadExitPoints,
			a.NoSpreadExitPoints,
			a.AttemptID,
		}
	})
	if err != nil {
		timer.fail()
		return err
	}

	AttemptsWritten.WithLabelValues("paired").Add(float64(len(attempts)))
	return nil
}

const updateFailedQuery = `
	UPDATE attempts SET
		status = $1, time_remaining_at_completion = $2,
		fail_reason = $3, had_feed_gap = $4,
		closest_approach_points = $5, closest_approach_timestamp = $6,
		closest_approach_cycle_number = $7,
		max_adverse_excursion_points = $8, mae_timestamp = $9,
		mae_cycle_number = $10
	WHERE attempt_id = $11
`

// UpdateAttemptsFailedBatch updates settlement/shutdown failures in one
// transaction.
func (p *PostgresStorage) UpdateAttemptsFailedBatch(ctx context.Context, attempts []*types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	timer := startWriteTimer("update_failed")
	defer timer.done()

	err := p.execBatch(ctx, updateFailedQuery, attempts, func(a *types.Attempt) []any {
		return []any{
			string(a.Status),
			a.TimeRemainingAtCompletion,
			string(a.FailReason),
			a.HadFeedGap,
			nullIntPtr(a.ClosestApproachPoints),
			nullTimePtr(a.ClosestApproachAt),
			nullCycleFor(a.ClosestApproachPoints, a.ClosestApproachCycle),
			nullIntPtr(a.MAEPoints),
			nullTimePtr(a.MAEAt),
			nullCycleForTime(a.MAEAt, a.MAECycle),
			a.AttemptID,
		}
	})
	if err != nil {
		timer.fail()
		return err
	}

	AttemptsWritten.WithLabelValues("failed").Add(float64(len(attempts)))
	return nil
}

const updateStoppedQuery = `
	UPDATE attempts SET
		status = $1, t2_timestamp = $2, t2_cycle_number = $3,
		time_to_pair_seconds = $4, time_remaining_at_completion = $5,
		fail_reason = $6, pair_cost_points = $7, pair_profit_points = $8,
		had_feed_gap = $9,
		closest_approach_points = $10, closest_approach_timestamp = $11,
		closest_approach_cycle_number = $12,
		max_adverse_excursion_points = $13, mae_timestamp = $14,
		mae_cycle_number = $15,
		yes_spread_exit_points = $16, no_spread_exit_points = $17
	WHERE attempt_id = $18
`

// UpdateAttemptsStoppedBatch updates stop-loss exits in one transaction.
// Stop-loss rows carry exit fields from the paired path plus a fail reason.
func (p *PostgresStorage) UpdateAttemptsStoppedBatch(ctx context.Context, attempts []*types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	timer := startWriteTimer("update_stopped")
	defer timer.done()

	err := p.execBatch(ctx, updateStoppedQuery, attempts, func(a *types.Attempt) []any {
		return []any{
			string(a.Status),
			a.T2,
			a.T2CycleNumber,
			a.TimeToPairSeconds,
			a.TimeRemainingAtCompletion,
			string(a.FailReason),
			a.PairCostPoints,
			a.PairProfitPoints,
			a.HadFeedGap,
			nullIntPtr(a.ClosestApproachPoints),
			nullTimePtr(a.ClosestApproachAt),
			nullCycleFor(a.ClosestApproachPoints, a.ClosestApproachCycle),
			nullIntPtr(a.MAEPoints),
			nullTimePtr(a.MAEAt),
			nullCycleForTime(a.MAEAt, a.MAECycle),
			a.YesSpreadExitPoints,
			a.NoSpreadExitPoints,
			a.AttemptID,
		}
	})
	if err != nil {
		timer.fail()
		return err
	}

	AttemptsWritten.WithLabelValues("stopped").Add(float64(len(attempts)))
	return nil
}

// execBatch runs one prepared statement per attempt inside a transaction.
func (p *PostgresStorage) execBatch(ctx context.Context, query string, attempts []*types.Attempt, params func(*types.Attempt) []any) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, a := range attempts {
		_, err = stmt.ExecContext(ctx, params(a)...)
		if err != nil {
			return fmt.Errorf("update attempt %d: %w", a.AttemptID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit update tx: %w", err)
	}

	return nil
}

// InsertSnapshot stores one per-cycle book snapshot.
func (p *PostgresStorage) InsertSnapshot(ctx context.Context, snap *types.Snapshot) error {
	timer := startWriteTimer("insert_snapshot")
	defer timer.done()

	query := `
		INSERT INTO snapshots (
			market_id, cycle_number, timestamp,
			yes_bid_points, yes_ask_points, no_bid_points, no_ask_points,
			yes_last_trade_points, no_last_trade_points,
			time_remaining, active_attempts_count, anomaly_flag,
			yes_period_low_ask_points, no_period_low_ask_points
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := p.db.ExecContext(ctx, query,
		snap.MarketID,
		snap.CycleNumber,
		snap.Timestamp,
		snap.YesBidPoints,
		snap.YesAskPoints,
		snap.NoBidPoints,
		snap.NoAskPoints,
		nullZeroInt(snap.YesLastTradePoints),
		nullZeroInt(snap.NoLastTradePoints),
		snap.TimeRemainingSeconds,
		snap.ActiveAttempts,
		snap.AnomalyFlag,
		nullZeroInt(snap.YesPeriodLowAskPoints),
		nullZeroInt(snap.NoPeriodLowAskPoints),
	)
	if err != nil {
		timer.fail()
		return fmt.Errorf("insert snapshot: %w", err)
	}

	return nil
}

// InsertLifecycleBatch stores the per-cycle telemetry rows in one transaction.
func (p *PostgresStorage) InsertLifecycleBatch(ctx context.Context, records []types.LifecycleRecord) error {
	if len(records) == 0 {
		return nil
	}
	timer := startWriteTimer("insert_lifecycle")
	defer timer.done()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		timer.fail()
		return fmt.Errorf("begin lifecycle tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO attempt_lifecycle (
			attempt_id, cycle_number, timestamp,
			opposite_ask_points, distance_to_trigger, closest_approach_so_far
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		timer.fail()
		return fmt.Errorf("prepare lifecycle insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, r := range records {
		_, err = stmt.ExecContext(ctx,
			r.AttemptID,
			r.CycleNumber,
			r.Timestamp,
			r.OppositeAskPoints,
			r.DistanceToTrigger,
			r.ClosestApproachSoFar,
		)
		if err != nil {
			timer.fail()
			return fmt.Errorf("insert lifecycle record: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		timer.fail()
		return fmt.Errorf("commit lifecycle tx: %w", err)
	}

	return nil
}

// UpdateMarketSummary writes the final statistics onto the market row.
func (p *PostgresStorage) UpdateMarketSummary(ctx context.Context, summary *types.MarketSummary) error {
	timer := startWriteTimer("update_market_summary")
	defer timer.done()

	notes := ""
	if p.runID != "" {
		notes = "run " + p.runID
	}
	if summary.WasShutdown {
		if notes != "" {
			notes += "; "
		}
		notes += "shutdown before settlement"
	}

	query := `
		UPDATE markets SET
			total_attempts = $1, total_pairs = $2, total_failed = $3,
			settlement_failures = $4, pair_rate = $5,
			avg_time_to_pair = $6, median_time_to_pair = $7,
			max_concurrent_attempts = $8, total_cycles_run = $9,
			anomaly_count = $10, actual_settlement_time = $11, notes = $12
		WHERE market_id = $13
	`

	_, err := p.db.ExecContext(ctx, query,
		summary.TotalAttempts,
		summary.TotalPairs,
		summary.TotalFailed,
		summary.SettlementFailures,
		summary.PairRate,
		summary.AvgTimeToPair,
		summary.MedianTimeToPair,
		summary.MaxConcurrent,
		summary.TotalCycles,
		summary.AnomalyCount,
		time.Now().UTC(),
		notes,
		summary.MarketID,
	)
	if err != nil {
		timer.fail()
		return fmt.Errorf("update market summary: %w", err)
	}

	p.logger.Debug("market-summary-stored", zap.String("market-id", summary.MarketID))
	return nil
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}

// nullStopLoss maps the 0 = disabled convention to SQL NULL so optimizer
// queries can COALESCE on it.
func nullStopLoss(points int) sql.NullInt64 {
	if points <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(points), Valid: true}
}

// nullZeroInt maps 0 = absent telemetry to SQL NULL.
func nullZeroInt(v int) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}

func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullCycleFor keeps the cycle column NULL whenever its companion value was
// never observed.
func nullCycleFor(companion *int, cycle int) sql.NullInt64 {
	if companion == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(cycle), Valid: true}
}

func nullCycleForTime(companion *time.Time, cycle int) sql.NullInt64 {
	if companion == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(cycle), Valid: true}
}

