package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Run outcomes within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsInFlight int     `json:"runs_in_flight"`
	FailRate     float64 `json:"fail_rate"`
	DegradedRuns int     `json:"degraded_runs"`

	// Spend within the lookback window.
	TokenCostUSD  float64 `json:"token_cost_usd"`
	SearchCostUSD float64 `json:"search_cost_usd"`
	SpendUSD      float64 `json:"spend_usd"`

	// Postings delivered within the lookback window.
	Delivered int `json:"delivered"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the slice of the store the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run metrics from the store.
type Collector struct {
	runs RunLister
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

// Collect gathers a snapshot of run health over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	// The run filter has no time window; the cutoff is applied here so
	// the filter surface stays small.
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		default:
			snap.RunsInFlight++
		}
		if r.Result == nil {
			continue
		}
		snap.TokenCostUSD += r.Result.TokenUsage.Cost
		snap.SearchCostUSD += r.Result.SearchCost
		snap.Delivered += r.Result.Counts.Delivered
		if len(r.Result.DegradedMarkets) > 0 || r.Result.DegradedClassification {
			snap.DegradedRuns++
		}
	}

	snap.SpendUSD = snap.TokenCostUSD + snap.SearchCostUSD
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	return snap, nil
}
