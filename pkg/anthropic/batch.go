package anthropic

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PollOption configures batch polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
}

func defaultPollConfig() pollConfig {
	// A classification batch of a few hundred postings usually ends
	// within a couple of minutes; 30m is the hard ceiling before the
	// run degrades.
	return pollConfig{
		initial: 2 * time.Second,
		cap:     15 * time.Second,
		timeout: 30 * time.Minute,
	}
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.initial = d
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.cap = d
	}
}

// WithPollTimeout overrides the default poll timeout.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// PollBatch polls GetBatch until the batch ends or the context expires.
// The interval doubles with jitter each round up to the configured cap.
// An expired or canceled batch returns an error right away.
func PollBatch(ctx context.Context, client Client, batchID string, opts ...PollOption) (*BatchResponse, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	interval := cfg.initial
	for {
		batch, err := client.GetBatch(ctx, batchID)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("anthropic: poll batch %s", batchID))
		}

		switch batch.ProcessingStatus {
		case "ended":
			return batch, nil
		case "expired":
			return batch, eris.Errorf("anthropic: batch %s expired", batchID)
		case "canceled", "canceling":
			return batch, eris.Errorf("anthropic: batch %s canceled", batchID)
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("anthropic: poll batch %s timed out", batchID))
		case <-time.After(interval):
		}

		if interval *= 2; interval > cfg.cap {
			interval = cfg.cap
		}
		// Jitter by up to 20% either way so concurrent runs do not
		// poll in lockstep.
		jitter := time.Duration(rand.Int63n(int64(interval) / 5))
		if rand.Intn(2) == 0 {
			interval += jitter
		} else {
			interval -= jitter
		}
	}
}

// BatchFailure records a single batch item that did not succeed.
type BatchFailure struct {
	CustomID string
	Type     string // "errored", "canceled", "expired"
}

// BatchResults holds the drained contents of a completed batch.
type BatchResults struct {
	Succeeded map[string]*MessageResponse // keyed by custom_id
	Failed    []BatchFailure
}

// CollectBatchResults drains a BatchResultIterator. Failed items are
// collected and logged, never dropped silently; the caller decides what
// a missing custom_id means.
func CollectBatchResults(iter BatchResultIterator) (*BatchResults, error) {
	defer iter.Close()

	results := &BatchResults{
		Succeeded: make(map[string]*MessageResponse),
	}
	for iter.Next() {
		item := iter.Item()
		switch {
		case item.Type == "succeeded" && item.Message != nil:
			results.Succeeded[item.CustomID] = item.Message
		case item.Type != "succeeded":
			results.Failed = append(results.Failed, BatchFailure{
				CustomID: item.CustomID,
				Type:     item.Type,
			})
			zap.L().Warn("anthropic: batch item failed",
				zap.String("custom_id", item.CustomID),
				zap.String("type", item.Type),
			)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "anthropic: collect batch results")
	}

	if len(results.Failed) > 0 {
		zap.L().Warn("anthropic: batch had failed items",
			zap.Int("succeeded", len(results.Succeeded)),
			zap.Int("failed", len(results.Failed)),
		)
	}

	return results, nil
}
