package store

import (
	"context"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
)

// PostingQuery narrows a memory lookup to one market and freshness window.
type PostingQuery struct {
	Market         string             `json:"market"`
	FreshnessHours int                `json:"freshness_hours,omitempty"`
	MatchLevels    []model.MatchLevel `json:"match_levels,omitempty"`
	Limit          int                `json:"limit,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Market string          `json:"market,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// RunPostingRecord is the per-run audit row for one posting outcome. The
// postings table keeps only the latest state of each posting, so these
// records are what show which postings a given run delivered or excluded.
type RunPostingRecord struct {
	RunID        string            `json:"run_id"`
	PostingID    string            `json:"posting_id"`
	Market       string            `json:"market"`
	FinalStatus  model.FinalStatus `json:"final_status"`
	SortPriority int               `json:"sort_priority"`
	QualityScore float64           `json:"quality_score"`
	MatchLevel   model.MatchLevel  `json:"match_level"`
}

// Store defines the persistence interface for the sourcing pipeline.
type Store interface {
	// Postings (memory)
	QueryPostings(ctx context.Context, q PostingQuery) ([]model.JobPosting, error)
	UpsertPostings(ctx context.Context, postings []model.JobPosting) (int64, error)

	// Run-posting audit trail
	RecordRunPostings(ctx context.Context, runID string, postings []model.JobPosting) error
	ListRunPostings(ctx context.Context, runID string) ([]RunPostingRecord, error)

	// Runs
	CreateRun(ctx context.Context, markets []string, terms string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Stages
	CreateStage(ctx context.Context, runID, name, market string) (*model.RunStage, error)
	CompleteStage(ctx context.Context, stageID string, result *model.StageResult) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// runTerminalStatus maps a result onto the final run status.
func runTerminalStatus(result *model.RunResult) model.RunStatus {
	if result != nil && result.Error != "" {
		return model.RunStatusFailed
	}
	return model.RunStatusComplete
}
