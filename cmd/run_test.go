package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/config"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/pipeline"
)

func TestApplyRunFlags_Overrides(t *testing.T) {
	cfg = &config.Config{
		Sourcing: config.SourcingConfig{Strategy: "memory_first"},
		Classify: config.ClassifyConfig{Classifier: "cdl"},
		Filter:   config.FilterConfig{MaxJobs: 100},
	}

	require.NoError(t, runCmd.Flags().Set("strategy", "always_fresh"))
	require.NoError(t, runCmd.Flags().Set("classifier", "pathway"))
	require.NoError(t, runCmd.Flags().Set("max-jobs", "25"))
	require.NoError(t, runCmd.Flags().Set("memory-only", "true"))
	require.NoError(t, runCmd.Flags().Set("force-refresh", "true"))

	applyRunFlags(runCmd)

	assert.Equal(t, "always_fresh", cfg.Sourcing.Strategy)
	assert.Equal(t, "pathway", cfg.Classify.Classifier)
	assert.Equal(t, 25, cfg.Filter.MaxJobs)
	assert.True(t, cfg.Sourcing.MemoryOnly)
	assert.True(t, cfg.Classify.ForceRefresh)
}

func TestFormatRunOutput(t *testing.T) {
	out := &pipeline.RunOutput{
		RunID: "run-42",
		Postings: []model.JobPosting{
			{
				Market:          "Dallas",
				Title:           "CDL-A Local Delivery Driver",
				CompanyOriginal: "Acme Trucking",
				MatchLevel:      model.MatchGood,
				RouteType:       model.RouteLocal,
				FairChance:      true,
				QualityScore:    0.75,
			},
		},
		Result: &model.RunResult{
			Counts: model.StageCounts{
				Ingested:          10,
				FromFresh:         10,
				QualityExcluded:   2,
				DuplicatesRemoved: 1,
				Classified:        7,
				Included:          6,
				Delivered:         6,
			},
			TokenUsage: model.TokenUsage{Cost: 0.0125},
			SearchCost: 0.01,
			Duration:   1500,
		},
	}

	var buf bytes.Buffer
	formatRunOutput(&buf, out)

	s := buf.String()
	assert.Contains(t, s, "run-42")
	assert.Contains(t, s, "Delivered:")
	assert.Contains(t, s, "Acme Trucking")
	assert.Contains(t, s, "good")
	assert.Contains(t, s, "Local")
	assert.Contains(t, s, "yes")
	assert.Contains(t, s, "$0.0125")
}

func TestFormatRunOutput_NoPostings(t *testing.T) {
	out := &pipeline.RunOutput{
		RunID:  "run-7",
		Result: &model.RunResult{},
	}

	var buf bytes.Buffer
	formatRunOutput(&buf, out)

	assert.Contains(t, buf.String(), "run-7")
	assert.NotContains(t, buf.String(), "MARKET")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly-te", truncate("exactly-te", 10))
	assert.Equal(t, "a-much-...", truncate("a-much-longer-string", 10))
}
