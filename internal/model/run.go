package model

import "time"

// RunStatus represents the current state of a sourcing run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusIngesting   RunStatus = "ingesting"
	RunStatusNormalizing RunStatus = "normalizing"
	RunStatusScoring     RunStatus = "scoring"
	RunStatusDeduping    RunStatus = "deduping"
	RunStatusClassifying RunStatus = "classifying"
	RunStatusRouting     RunStatus = "routing"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// Run represents a single sourcing run across one or more markets.
type Run struct {
	ID        string     `json:"id"`
	Markets   []string   `json:"markets"`
	Terms     string     `json:"terms"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run. SearchCost is provider
// search spend; token spend lives in TokenUsage.Cost.
type RunResult struct {
	Counts                 StageCounts   `json:"counts"`
	BypassedMarkets        []string      `json:"bypassed_markets,omitempty"`
	DegradedMarkets        []string      `json:"degraded_markets,omitempty"`
	DegradedClassification bool          `json:"degraded_classification,omitempty"`
	Stages                 []StageResult `json:"stages"`
	TokenUsage             TokenUsage    `json:"token_usage"`
	SearchCost             float64       `json:"search_cost,omitempty"`
	Duration               int64         `json:"duration_ms"`
	Error                  string        `json:"error,omitempty"`
}

// StageCounts tracks how many postings each stage touched. The identity
// Ingested == Delivered + excluded + capped must hold for a completed run.
type StageCounts struct {
	Ingested              int `json:"ingested"`
	FromMemory            int `json:"from_memory"`
	FromFresh             int `json:"from_fresh"`
	Normalized            int `json:"normalized"`
	QualityExcluded       int `json:"quality_excluded"`
	DuplicatesRemoved     int `json:"duplicates_removed"`
	Classified            int `json:"classified"`
	ClassificationSkipped int `json:"classification_skipped"`
	ClassificationFailed  int `json:"classification_failed"`
	RoutingExcluded       int `json:"routing_excluded"`
	Capped                int `json:"capped"`
	Included              int `json:"included"`
	Delivered             int `json:"delivered"`
}

// Add merges counts from another instance.
func (c *StageCounts) Add(other StageCounts) {
	c.Ingested += other.Ingested
	c.FromMemory += other.FromMemory
	c.FromFresh += other.FromFresh
	c.Normalized += other.Normalized
	c.QualityExcluded += other.QualityExcluded
	c.DuplicatesRemoved += other.DuplicatesRemoved
	c.Classified += other.Classified
	c.ClassificationSkipped += other.ClassificationSkipped
	c.ClassificationFailed += other.ClassificationFailed
	c.RoutingExcluded += other.RoutingExcluded
	c.Capped += other.Capped
	c.Included += other.Included
	c.Delivered += other.Delivered
}

// StageStatus represents the current state of a pipeline stage.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// RunStage represents a stage execution within a run.
type RunStage struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Market    string       `json:"market,omitempty"`
	Status    StageStatus  `json:"status"`
	Result    *StageResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// StageResult holds the outcome of a pipeline stage.
type StageResult struct {
	Name     string         `json:"name"`
	Market   string         `json:"market,omitempty"`
	Status   StageStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Cost += other.Cost
}
