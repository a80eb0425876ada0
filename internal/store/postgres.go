package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/db"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, markets, terms, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"complete_run":      `UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, markets, terms, status, result, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_stage":      `INSERT INTO run_stages (id, run_id, name, market, status, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"complete_stage":    `UPDATE run_stages SET status = $1, result = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS postings (
	id                TEXT PRIMARY KEY,
	market            TEXT NOT NULL,
	source            TEXT NOT NULL DEFAULT 'fresh',
	raw_title         TEXT NOT NULL DEFAULT '',
	raw_company       TEXT NOT NULL DEFAULT '',
	raw_location      TEXT NOT NULL DEFAULT '',
	raw_description   TEXT NOT NULL DEFAULT '',
	raw_salary        TEXT NOT NULL DEFAULT '',
	source_url        TEXT NOT NULL DEFAULT '',
	source_platform   TEXT NOT NULL DEFAULT '',
	posted_at         TIMESTAMPTZ,
	title             TEXT NOT NULL DEFAULT '',
	company           TEXT NOT NULL DEFAULT '',
	company_original  TEXT NOT NULL DEFAULT '',
	location          TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	quality_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	quality_flags     JSONB,
	recommendations   JSONB,
	dedup_key_r1      TEXT NOT NULL UNIQUE,
	dedup_key_r2      TEXT NOT NULL DEFAULT '',
	match_level       TEXT NOT NULL DEFAULT '',
	summary           TEXT NOT NULL DEFAULT '',
	route_type        TEXT NOT NULL DEFAULT '',
	career_pathway    TEXT NOT NULL DEFAULT '',
	fair_chance       BOOLEAN NOT NULL DEFAULT false,
	training_provided BOOLEAN NOT NULL DEFAULT false,
	classified_at     TIMESTAMPTZ,
	final_status      TEXT NOT NULL DEFAULT '',
	sort_priority     INTEGER NOT NULL DEFAULT 0,
	first_seen_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	markets    JSONB NOT NULL,
	terms      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_stages (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	market     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_postings (
	run_id        TEXT NOT NULL,
	posting_id    TEXT NOT NULL,
	market        TEXT NOT NULL,
	final_status  TEXT NOT NULL,
	sort_priority INTEGER NOT NULL DEFAULT 0,
	quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	match_level   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, posting_id)
);

CREATE INDEX IF NOT EXISTS idx_postings_market_seen ON postings(market, last_seen_at DESC);
CREATE INDEX IF NOT EXISTS idx_postings_match_level ON postings(match_level);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_stages_run_id ON run_stages(run_id);
CREATE INDEX IF NOT EXISTS idx_run_postings_run_id ON run_postings(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertPostings folds the batch into the postings table keyed on the
// round-one dedup key. Callers pass dedup survivors; rows sharing a
// round-one key within one batch would conflict with each other.
func (s *PostgresStore) UpsertPostings(ctx context.Context, postings []model.JobPosting) (int64, error) {
	if len(postings) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(postings))
	for i := range postings {
		args, err := postingArgs(&postings[i], now)
		if err != nil {
			return 0, err
		}
		rows = append(rows, args)
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "postings",
		Columns:      postingColumnList(),
		ConflictKeys: []string{"dedup_key_r1"},
		UpdateCols:   postingUpdateColumns(),
	}, rows)
}

// postingUpdateColumns is every posting column except the row identity and
// the first-seen timestamp, which survive upserts.
func postingUpdateColumns() []string {
	skip := map[string]bool{"id": true, "dedup_key_r1": true, "first_seen_at": true}
	cols := postingColumnList()
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if !skip[c] {
			out = append(out, c)
		}
	}
	return out
}

func (s *PostgresStore) QueryPostings(ctx context.Context, q PostingQuery) ([]model.JobPosting, error) {
	query := `SELECT ` + postingColumns + ` FROM postings WHERE market = $1`
	args := []any{q.Market}
	argIdx := 2

	if q.FreshnessHours > 0 {
		cutoff := time.Now().UTC().Add(-time.Duration(q.FreshnessHours) * time.Hour)
		query += fmt.Sprintf(` AND last_seen_at > $%d`, argIdx)
		args = append(args, cutoff)
		argIdx++
	}
	if len(q.MatchLevels) > 0 {
		placeholders := make([]string, len(q.MatchLevels))
		for i, lvl := range q.MatchLevels {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, string(lvl))
			argIdx++
		}
		query += ` AND match_level IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY quality_score DESC, last_seen_at DESC`

	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query postings")
	}
	defer rows.Close()

	var postings []model.JobPosting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		postings = append(postings, *p)
	}
	return postings, eris.Wrap(rows.Err(), "postgres: query postings iterate")
}

// runPostingColumns is the column order for run_postings COPY and scans.
var runPostingColumns = []string{"run_id", "posting_id", "market", "final_status", "sort_priority", "quality_score", "match_level"}

// RecordRunPostings appends the per-run audit rows with the COPY protocol.
// Posting IDs are unique within a run, so plain COPY is safe here.
func (s *PostgresStore) RecordRunPostings(ctx context.Context, runID string, postings []model.JobPosting) error {
	if len(postings) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(postings))
	for i := range postings {
		p := &postings[i]
		rows = append(rows, []any{
			runID, p.ID, p.Market, string(p.FinalStatus), p.SortPriority, p.QualityScore, string(p.MatchLevel),
		})
	}

	_, err := db.CopyInto(ctx, s.pool, "run_postings", runPostingColumns, rows)
	return eris.Wrapf(err, "postgres: record run postings for %s", runID)
}

func (s *PostgresStore) ListRunPostings(ctx context.Context, runID string) ([]RunPostingRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, posting_id, market, final_status, sort_priority, quality_score, match_level
		 FROM run_postings WHERE run_id = $1 ORDER BY sort_priority ASC, quality_score DESC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run postings")
	}
	defer rows.Close()

	var records []RunPostingRecord
	for rows.Next() {
		var rec RunPostingRecord
		if err := rows.Scan(&rec.RunID, &rec.PostingID, &rec.Market, &rec.FinalStatus,
			&rec.SortPriority, &rec.QualityScore, &rec.MatchLevel); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run posting")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list run postings iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, markets []string, terms string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	marketsJSON, err := json.Marshal(markets)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal markets")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, markets, terms, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, marketsJSON, terms, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Markets:   markets,
		Terms:     terms,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(runTerminalStatus(result)), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, markets, terms, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, markets, terms, status, result, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Market != "" {
		query += fmt.Sprintf(` AND markets ? $%d`, argIdx)
		args = append(args, filter.Market)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreateStage(ctx context.Context, runID, name, market string) (*model.RunStage, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_stages (id, run_id, name, market, status, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, runID, name, market, string(model.StageStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert stage for run %s", runID)
	}

	return &model.RunStage{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Market:    market,
		Status:    model.StageStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteStage(ctx context.Context, stageID string, result *model.StageResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stage result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_stages SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, stageID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete stage %s", stageID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("stage not found: %s", stageID)
	}
	return nil
}
