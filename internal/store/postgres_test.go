package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, markets, terms, status, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_WithResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "markets", "terms", "status", "result", "created_at", "updated_at"}).
		AddRow("run-1", `["Dallas","Houston"]`, "CDL driver", "complete",
			`{"counts":{"ingested":120,"delivered":80}}`, now, now)
	mock.ExpectQuery(`SELECT id, markets, terms, status, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, []string{"Dallas", "Houston"}, run.Markets)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, 120, run.Result.Counts.Ingested)
	assert.Equal(t, 80, run.Result.Counts.Delivered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs \(id, markets, terms, status, created_at, updated_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "CDL driver", "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), []string{"Dallas"}, "CDL driver")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Equal(t, []string{"Dallas"}, run.Markets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("ingesting", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusIngesting)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_TerminalStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Clean result lands as complete.
	mock.ExpectExec(`UPDATE runs SET result = \$1, status = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs(pgxmock.AnyArg(), "complete", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.CompleteRun(context.Background(), "run-1", &model.RunResult{}))

	// A result carrying an error lands as failed.
	mock.ExpectExec(`UPDATE runs SET result = \$1, status = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs(pgxmock.AnyArg(), "failed", pgxmock.AnyArg(), "run-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.CompleteRun(context.Background(), "run-2", &model.RunResult{Error: "ingest: no results"}))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_MarketFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "markets", "terms", "status", "result", "created_at", "updated_at"}).
		AddRow("run-1", `["Dallas"]`, "CDL driver", "queued", nil, now, now)
	mock.ExpectQuery(`FROM runs WHERE true AND markets \? \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("Dallas", 100).
		WillReturnRows(rows)

	runs, err := s.ListRuns(context.Background(), RunFilter{Market: "Dallas"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Nil(t, runs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryPostings(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	classified := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	seen := time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(postingColumnList()).AddRow(
		"post-1", "Dallas", "memory",
		"CDL-A Driver - Home Daily!!!", "ACME FREIGHT LLC", "Dallas, TX 75201", "Drive for Acme.", "$0.65 CPM",
		"https://jobs.example.com/1", "indeed", nil,
		"CDL Driver", "acme freight", "ACME FREIGHT LLC", "Dallas, TX", "Dallas", "TX", "Drive for Acme.",
		0.82, `["missing_salary"]`, nil,
		"key-1", "key-1-r2",
		"good", "Home daily local run", "Local", "cdl_a_local",
		true, false, classified,
		"included_local", 2,
		seen, seen,
	)
	mock.ExpectQuery(`FROM postings WHERE market = \$1 ORDER BY quality_score DESC, last_seen_at DESC LIMIT \$2`).
		WithArgs("Dallas", 500).
		WillReturnRows(rows)

	got, err := s.QueryPostings(context.Background(), PostingQuery{Market: "Dallas"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	p := got[0]
	assert.Equal(t, "post-1", p.ID)
	assert.Equal(t, model.SourceMemory, p.Source)
	assert.True(t, p.PostedAt.IsZero())
	assert.InDelta(t, 0.82, p.QualityScore, 0.001)
	assert.Equal(t, []string{"missing_salary"}, p.QualityFlags)
	assert.Nil(t, p.QualityRecommendations)
	assert.Equal(t, model.MatchGood, p.MatchLevel)
	assert.Equal(t, model.RouteLocal, p.RouteType)
	assert.True(t, p.FairChance)
	assert.True(t, p.ClassifiedAt.Equal(classified))
	assert.Equal(t, model.StatusIncludedLocal, p.FinalStatus)
	assert.Equal(t, 2, p.SortPriority)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryPostings_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM postings WHERE market = \$1 AND last_seen_at > \$2 AND match_level IN \(\$3, \$4\)`).
		WithArgs("Dallas", pgxmock.AnyArg(), "good", "so-so", 25).
		WillReturnRows(pgxmock.NewRows(postingColumnList()))

	got, err := s.QueryPostings(context.Background(), PostingQuery{
		Market:         "Dallas",
		FreshnessHours: 72,
		MatchLevels:    []model.MatchLevel{model.MatchGood, model.MatchSoSo},
		Limit:          25,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPostings_Flow(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_upsert_postings"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_upsert_postings"}, postingColumnList()).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "postings"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.UpsertPostings(context.Background(), []model.JobPosting{testPosting("key-a", "Dallas")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPostings_MissingKey(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.UpsertPostings(context.Background(), []model.JobPosting{testPosting("", "Dallas")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no dedup key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRunPostings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"run_postings"}, runPostingColumns).
		WillReturnResult(2)

	postings := []model.JobPosting{
		{ID: "p-1", Market: "Dallas", FinalStatus: model.StatusIncludedLocal, SortPriority: 2},
		{ID: "p-2", Market: "Dallas", FinalStatus: model.StatusExcludedDuplicate, SortPriority: 21},
	}
	err := s.RecordRunPostings(context.Background(), "run-1", postings)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRunPostings_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.RecordRunPostings(context.Background(), "run-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRunPostings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows(runPostingColumns).
		AddRow("run-1", "p-1", "Dallas", "included_local", 2, 0.9, "good").
		AddRow("run-1", "p-2", "Dallas", "included_otr", 12, 0.7, "so-so")
	mock.ExpectQuery(`FROM run_postings WHERE run_id = \$1 ORDER BY sort_priority ASC, quality_score DESC`).
		WithArgs("run-1").
		WillReturnRows(rows)

	records, err := s.ListRunPostings(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "p-1", records[0].PostingID)
	assert.Equal(t, model.StatusIncludedLocal, records[0].FinalStatus)
	assert.Equal(t, model.MatchSoSo, records[1].MatchLevel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateStage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO run_stages \(id, run_id, name, market, status, started_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)`).
		WithArgs(pgxmock.AnyArg(), "run-1", "ingest", "Dallas", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	stage, err := s.CreateStage(context.Background(), "run-1", "ingest", "Dallas")
	require.NoError(t, err)
	assert.NotEmpty(t, stage.ID)
	assert.Equal(t, model.StageStatusRunning, stage.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteStage_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_stages SET status = \$1, result = \$2 WHERE id = \$3`).
		WithArgs("complete", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteStage(context.Background(), "missing", &model.StageResult{Status: model.StageStatusComplete})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS postings`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
