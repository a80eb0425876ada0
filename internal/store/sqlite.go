package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	posted_at         DATETIME,
	title             TEXT NOT NULL DEFAULT '',
	company           TEXT NOT NULL DEFAULT '',
	company_original  TEXT NOT NULL DEFAULT '',
	location          TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	quality_score     REAL NOT NULL DEFAULT 0,
	quality_flags     TEXT,
	recommendations   TEXT,
	dedup_key_r1      TEXT NOT NULL UNIQUE,
	dedup_key_r2      TEXT NOT NULL DEFAULT '',
	match_level       TEXT NOT NULL DEFAULT '',
	summary           TEXT NOT NULL DEFAULT '',
	route_type        TEXT NOT NULL DEFAULT '',
	career_pathway    TEXT NOT NULL DEFAULT '',
	fair_chance       INTEGER NOT NULL DEFAULT 0,
	training_provided INTEGER NOT NULL DEFAULT 0,
	classified_at     DATETIME,
	final_status      TEXT NOT NULL DEFAULT '',
	sort_priority     INTEGER NOT NULL DEFAULT 0,
	first_seen_at     DATETIME NOT NULL,
	last_seen_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	markets    TEXT NOT NULL,
	terms      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_stages (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	market     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_postings (
	run_id        TEXT NOT NULL,
	posting_id    TEXT NOT NULL,
	market        TEXT NOT NULL,
	final_status  TEXT NOT NULL,
	sort_priority INTEGER NOT NULL DEFAULT 0,
	quality_score REAL NOT NULL DEFAULT 0,
	match_level   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, posting_id)
);

CREATE INDEX IF NOT EXISTS idx_postings_market_seen ON postings(market, last_seen_at DESC);
CREATE INDEX IF NOT EXISTS idx_postings_match_level ON postings(match_level);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_stages_run_id ON run_stages(run_id);
CREATE INDEX IF NOT EXISTS idx_run_postings_run_id ON run_postings(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// postingColumns is the shared SELECT/INSERT column list for postings.
const postingColumns = `id, market, source, raw_title, raw_company, raw_location, raw_description, raw_salary, source_url, source_platform, posted_at, title, company, company_original, location, city, state, description, quality_score, quality_flags, recommendations, dedup_key_r1, dedup_key_r2, match_level, summary, route_type, career_pathway, fair_chance, training_provided, classified_at, final_status, sort_priority, first_seen_at, last_seen_at`

const sqliteUpsertPosting = `
INSERT INTO postings (` + postingColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(dedup_key_r1) DO UPDATE SET
	market = excluded.market,
	source = excluded.source,
	raw_title = excluded.raw_title,
	raw_company = excluded.raw_company,
	raw_location = excluded.raw_location,
	raw_description = excluded.raw_description,
	raw_salary = excluded.raw_salary,
	source_url = excluded.source_url,
	source_platform = excluded.source_platform,
	posted_at = excluded.posted_at,
	title = excluded.title,
	company = excluded.company,
	company_original = excluded.company_original,
	location = excluded.location,
	city = excluded.city,
	state = excluded.state,
	description = excluded.description,
	quality_score = excluded.quality_score,
	quality_flags = excluded.quality_flags,
	recommendations = excluded.recommendations,
	dedup_key_r2 = excluded.dedup_key_r2,
	match_level = excluded.match_level,
	summary = excluded.summary,
	route_type = excluded.route_type,
	career_pathway = excluded.career_pathway,
	fair_chance = excluded.fair_chance,
	training_provided = excluded.training_provided,
	classified_at = excluded.classified_at,
	final_status = excluded.final_status,
	sort_priority = excluded.sort_priority,
	last_seen_at = excluded.last_seen_at`

func (s *SQLiteStore) UpsertPostings(ctx context.Context, postings []model.JobPosting) (int64, error) {
	if len(postings) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertPosting)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var n int64
	for i := range postings {
		args, err := postingArgs(&postings[i], now)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert posting %s", postings[i].ID)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: upsert rows affected")
		}
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return n, nil
}

func (s *SQLiteStore) QueryPostings(ctx context.Context, q PostingQuery) ([]model.JobPosting, error) {
	query := `SELECT ` + postingColumns + ` FROM postings WHERE market = ?`
	args := []any{q.Market}

	if q.FreshnessHours > 0 {
		cutoff := time.Now().UTC().Add(-time.Duration(q.FreshnessHours) * time.Hour)
		query += ` AND last_seen_at > ?`
		args = append(args, cutoff)
	}
	if len(q.MatchLevels) > 0 {
		query += ` AND match_level IN (?` + strings.Repeat(", ?", len(q.MatchLevels)-1) + `)`
		for _, lvl := range q.MatchLevels {
			args = append(args, string(lvl))
		}
	}
	query += ` ORDER BY quality_score DESC, last_seen_at DESC LIMIT ?`

	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query postings")
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
	return postings, eris.Wrap(rows.Err(), "sqlite: query postings iterate")
}

func (s *SQLiteStore) RecordRunPostings(ctx context.Context, runID string, postings []model.JobPosting) error {
	if len(postings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin record run postings")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO run_postings (run_id, posting_id, market, final_status, sort_priority, quality_score, match_level)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare record run postings")
	}
	defer stmt.Close()

	for i := range postings {
		p := &postings[i]
		if _, err := stmt.ExecContext(ctx,
			runID, p.ID, p.Market, string(p.FinalStatus), p.SortPriority, p.QualityScore, string(p.MatchLevel),
		); err != nil {
			return eris.Wrapf(err, "sqlite: record run posting %s", p.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit record run postings")
}

func (s *SQLiteStore) ListRunPostings(ctx context.Context, runID string) ([]RunPostingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, posting_id, market, final_status, sort_priority, quality_score, match_level
		 FROM run_postings WHERE run_id = ? ORDER BY sort_priority ASC, quality_score DESC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run postings")
	}
	defer rows.Close()

	var records []RunPostingRecord
	for rows.Next() {
		var rec RunPostingRecord
		if err := rows.Scan(&rec.RunID, &rec.PostingID, &rec.Market, &rec.FinalStatus,
			&rec.SortPriority, &rec.QualityScore, &rec.MatchLevel); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run posting")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list run postings iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, markets []string, terms string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	marketsJSON, err := json.Marshal(markets)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal markets")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, markets, terms, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(marketsJSON), terms, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(runTerminalStatus(result)), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, markets, terms, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, markets, terms, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Market != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(runs.markets) WHERE json_each.value = ?)`
		args = append(args, filter.Market)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
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
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreateStage(ctx context.Context, runID, name, market string) (*model.RunStage, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_stages (id, run_id, name, market, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, runID, name, market, string(model.StageStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert stage for run %s", runID)
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

func (s *SQLiteStore) CompleteStage(ctx context.Context, stageID string, result *model.StageResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stage result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_stages SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), stageID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete stage %s", stageID)
	}
	return checkRowsAffected(res, "stage", stageID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
