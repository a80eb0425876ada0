// Package classify adapts postings to and from the AI classifier. It
// decides which postings still need a model call, fans the survivors
// out directly or through the Message Batches API, and folds the
// results back onto the postings. A classification failure never fails
// a run: broken items come back match-level unknown and routing drops
// them.
package classify

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/resilience"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/pkg/anthropic"
)

const (
	defaultModel = "claude-haiku-4-5-20251001"

	// defaultTTL matches the default memory freshness window, so a
	// memory row is re-classified no sooner than it would age out.
	defaultTTL = 72 * time.Hour

	// smallBatchThreshold is the item count at or below which direct
	// calls beat Batch API turnaround.
	smallBatchThreshold = 10

	// maxDirectConcurrency limits parallel direct calls.
	maxDirectConcurrency = 8

	maxTokensPerItem = 1024
)

// Config carries the per-run classification knobs.
type Config struct {
	Type         ClassifierType
	Model        string
	TTLHours     int
	ForceRefresh bool
	NoBatch      bool
}

// Result summarizes one classification pass. Model and UsedBatch let
// the caller price Usage, since batch traffic bills at a discount.
type Result struct {
	Classified int
	Skipped    int
	Failed     int
	// Degraded means the whole call path failed and every pending
	// posting was marked unknown.
	Degraded  bool
	Model     string
	UsedBatch bool
	Usage     model.TokenUsage
}

// Gateway classifies postings through an anthropic.Client.
type Gateway struct {
	client   anthropic.Client
	retry    resilience.RetryConfig
	pollOpts []anthropic.PollOption
	now      func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithPollOptions overrides batch poll timing.
func WithPollOptions(opts ...anthropic.PollOption) Option {
	return func(g *Gateway) { g.pollOpts = opts }
}

// WithRetry overrides the direct-call retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *Gateway) { g.retry = cfg }
}

// New builds a Gateway.
func New(client anthropic.Client, opts ...Option) *Gateway {
	retry := resilience.DefaultRetryConfig()
	// SDK errors do not carry our transient marker, so retry every
	// direct-call failure up to the attempt budget.
	retry.ShouldRetry = func(error) bool { return true }

	g := &Gateway{
		client: client,
		retry:  retry,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run classifies postings in place. Postings already carrying a
// non-stale result are skipped unless ForceRefresh is set. The only
// error returned is context cancellation; API failures degrade the
// result instead. Callers bound the stage with a context deadline.
func (g *Gateway) Run(ctx context.Context, postings []model.JobPosting, cfg Config) (Result, error) {
	var res Result
	if len(postings) == 0 {
		return res, nil
	}

	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := g.now()

	var pending []int
	for i := range postings {
		if !cfg.ForceRefresh && postings[i].ClassifiedWithin(ttl, now) {
			res.Skipped++
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		zap.L().Debug("classification served from memory", zap.Int("skipped", res.Skipped))
		return res, nil
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = defaultModel
	}
	system := anthropic.BuildCachedSystemBlocks(SystemPrompt(cfg.Type))

	items := make([]anthropic.BatchRequestItem, len(pending))
	for n, idx := range pending {
		items[n] = anthropic.BatchRequestItem{
			CustomID: postings[idx].ID,
			Params: anthropic.MessageRequest{
				Model:     modelID,
				MaxTokens: maxTokensPerItem,
				System:    system,
				Messages: []anthropic.Message{
					{Role: "user", Content: BuildUserMessage(postings[idx])},
				},
			},
		}
	}

	res.Model = modelID
	var usage anthropic.TokenUsage
	var err error
	if cfg.NoBatch || len(pending) <= smallBatchThreshold {
		err = g.runDirect(ctx, postings, pending, items, &res, &usage)
	} else {
		res.UsedBatch = true
		err = g.runBatch(ctx, postings, pending, items, &res, &usage)
	}

	usage.LogCost(modelID, "classify")
	res.Usage = model.TokenUsage{
		InputTokens:         int(usage.InputTokens),
		OutputTokens:        int(usage.OutputTokens),
		CacheCreationTokens: int(usage.CacheCreationInputTokens),
		CacheReadTokens:     int(usage.CacheReadInputTokens),
	}
	return res, err
}

// runDirect classifies items as concurrent direct calls.
func (g *Gateway) runDirect(ctx context.Context, postings []model.JobPosting, pending []int, items []anthropic.BatchRequestItem, res *Result, usage *anthropic.TokenUsage) error {
	log := zap.L().With(zap.String("mode", "direct"), zap.Int("items", len(items)))
	log.Debug("classifying postings")

	done := make([]bool, len(pending))
	var mu sync.Mutex
	gr, gctx := errgroup.WithContext(ctx)
	gr.SetLimit(maxDirectConcurrency)

	for n := range items {
		n := n
		gr.Go(func() error {
			resp, err := resilience.DoVal(gctx, g.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
				return g.client.CreateMessage(ctx, items[n].Params)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("classification call failed",
					zap.String("posting_id", items[n].CustomID),
					zap.Error(err))
				markUnknown(&postings[pending[n]])
				res.Failed++
				done[n] = true
				return nil
			}
			usage.Add(resp.Usage)
			g.apply(&postings[pending[n]], resp, res)
			done[n] = true
			return nil
		})
	}

	if err := gr.Wait(); err != nil {
		g.markRemaining(postings, pending, done, res)
		res.Degraded = true
		return eris.Wrap(err, "classify: direct calls")
	}
	return nil
}

// runBatch classifies items through the Message Batches API, warming
// the prompt cache with one direct request first.
func (g *Gateway) runBatch(ctx context.Context, postings []model.JobPosting, pending []int, items []anthropic.BatchRequestItem, res *Result, usage *anthropic.TokenUsage) error {
	log := zap.L().With(zap.String("mode", "batch"), zap.Int("items", len(items)))
	done := make([]bool, len(pending))

	primer, err := anthropic.PrimerRequest(ctx, g.client, items[0].Params)
	if err != nil {
		log.Debug("primer request failed", zap.Error(err))
	} else {
		usage.Add(primer.Usage)
	}

	batch, err := g.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		return g.degrade(ctx, eris.Wrap(err, "classify: create batch"), postings, pending, done, res)
	}
	log.Info("classification batch submitted", zap.String("batch_id", batch.ID))

	batch, err = anthropic.PollBatch(ctx, g.client, batch.ID, g.pollOpts...)
	if err != nil {
		return g.degrade(ctx, eris.Wrap(err, "classify: poll batch"), postings, pending, done, res)
	}
	log.Info("classification batch completed",
		zap.Int64("succeeded", batch.RequestCounts.Succeeded),
		zap.Int64("errored", batch.RequestCounts.Errored))

	iter, err := g.client.GetBatchResults(ctx, batch.ID)
	if err != nil {
		return g.degrade(ctx, eris.Wrap(err, "classify: get batch results"), postings, pending, done, res)
	}

	collected, err := anthropic.CollectBatchResults(iter)
	if err != nil {
		return g.degrade(ctx, eris.Wrap(err, "classify: collect batch results"), postings, pending, done, res)
	}

	for n, idx := range pending {
		resp, ok := collected.Succeeded[items[n].CustomID]
		if !ok {
			markUnknown(&postings[idx])
			res.Failed++
			continue
		}
		usage.Add(resp.Usage)
		g.apply(&postings[idx], resp, res)
	}
	return nil
}

// degrade handles a whole-path failure: every pending posting that has
// no result yet is marked unknown and the run continues. Only context
// cancellation propagates as an error.
func (g *Gateway) degrade(ctx context.Context, err error, postings []model.JobPosting, pending []int, done []bool, res *Result) error {
	g.markRemaining(postings, pending, done, res)
	res.Degraded = true
	if ctx.Err() != nil {
		return err
	}
	zap.L().Error("classification degraded", zap.Error(err))
	return nil
}

// markRemaining flags every pending posting that never received a
// result this run.
func (g *Gateway) markRemaining(postings []model.JobPosting, pending []int, done []bool, res *Result) {
	for n, idx := range pending {
		if done[n] {
			continue
		}
		markUnknown(&postings[idx])
		res.Failed++
	}
}

// apply folds one parsed response onto a posting.
func (g *Gateway) apply(p *model.JobPosting, resp *anthropic.MessageResponse, res *Result) {
	out, err := parseOutcome(resp)
	if err != nil {
		zap.L().Warn("unusable classification response",
			zap.String("posting_id", p.ID),
			zap.Error(err))
		markUnknown(p)
		res.Failed++
		return
	}

	p.MatchLevel = out.MatchLevel
	p.Summary = out.Summary
	p.RouteType = out.RouteType
	p.FairChance = out.FairChance
	p.CareerPathway = out.CareerPathway
	p.TrainingProvided = out.TrainingProvided
	p.ClassifiedAt = g.now()
	res.Classified++
}

// markUnknown leaves a posting classified-but-unusable. ClassifiedAt
// stays zero so the next run tries again instead of trusting the miss.
func markUnknown(p *model.JobPosting) {
	p.MatchLevel = model.MatchUnknown
	if p.RouteType == "" {
		p.RouteType = model.RouteUnknown
	}
}
