// Package pipeline sequences a sourcing run: for every requested market
// it ingests postings, normalizes and scores them, collapses duplicates,
// classifies the survivors, and routes the result into delivery order.
// Markets run in parallel; one market failing degrades the run instead
// of aborting it.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/classify"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/config"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/cost"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/dedup"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/ingest"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/normalize"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/quality"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/route"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/rules"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/store"
)

// SeenCache suppresses fresh postings whose dedup key was already
// delivered to users within the cache TTL.
type SeenCache interface {
	FilterDelivered(ctx context.Context, market string, keys []string) (map[string]bool, error)
	MarkDelivered(ctx context.Context, market string, keys []string) error
}

// Pipeline orchestrates sourcing runs.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	rules      *rules.Ruleset
	ingestor   *ingest.Ingestor
	gateway    *classify.Gateway
	normalizer *normalize.Normalizer
	scorer     *quality.Scorer
	dedup      *dedup.Deduplicator
	costCalc   *cost.Calculator
	seen       SeenCache
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithSeenCache enables cross-run suppression of already-delivered
// postings. Without it every run may re-deliver what the last one did.
func WithSeenCache(sc SeenCache) Option {
	return func(p *Pipeline) { p.seen = sc }
}

// New builds a Pipeline. The stateless stages are constructed here from
// configuration; the stateful collaborators come in from the caller.
func New(cfg *config.Config, st store.Store, rs *rules.Ruleset, ingestor *ingest.Ingestor, gateway *classify.Gateway, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		store:      st,
		rules:      rs,
		ingestor:   ingestor,
		gateway:    gateway,
		normalizer: normalize.New(rs),
		scorer:     quality.New(rs, quality.Weights{}),
		dedup:      dedup.New(cfg.Sourcing.StrictIdentity),
		costCalc:   cost.NewCalculator(cost.RatesWith(cfg.Pricing.Searches)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunRequest names the markets and search terms for one run.
type RunRequest struct {
	Markets []string
	Terms   string
}

// RunOutput is what a completed run hands back: the delivered postings
// in market order and the persisted result.
type RunOutput struct {
	RunID    string
	Postings []model.JobPosting
	Result   *model.RunResult
}

// statusRank orders run statuses so concurrent markets can only move
// the run status forward, never back to an earlier stage.
var statusRank = map[model.RunStatus]int{
	model.RunStatusQueued:      0,
	model.RunStatusIngesting:   1,
	model.RunStatusNormalizing: 2,
	model.RunStatusScoring:     3,
	model.RunStatusDeduping:    4,
	model.RunStatusClassifying: 5,
	model.RunStatusRouting:     6,
	model.RunStatusComplete:    7,
	model.RunStatusFailed:      8,
}

// marketOutcome collects everything one market contributes to the run.
type marketOutcome struct {
	market     string
	counts     model.StageCounts
	stages     []model.StageResult
	delivered  []model.JobPosting
	usage      model.TokenUsage
	searchCost float64
	bypassed   bool
	degraded   bool
	degradedAI bool
	err        error
}

// Run executes the full pipeline for the requested markets. It returns
// an error only when the run produced nothing usable: bad configuration,
// an unknown market, a failed run record, or every market failing. A
// subset of markets failing degrades the result instead.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*RunOutput, error) {
	markets := uniqueMarkets(req.Markets)
	if len(markets) == 0 {
		return nil, eris.New("pipeline: no markets requested")
	}

	mode, err := ingest.ParseMode(p.cfg.Sourcing.Strategy)
	if err != nil {
		return nil, err
	}
	ctype, err := classify.ParseClassifierType(p.cfg.Classify.Classifier)
	if err != nil {
		return nil, err
	}

	locations := make(map[string]string, len(markets))
	for _, m := range markets {
		loc, ok := p.rules.SearchLocation(m)
		if !ok {
			return nil, eris.Errorf("pipeline: unknown market %q", m)
		}
		locations[m] = loc
	}

	run, err := p.store.CreateRun(ctx, markets, req.Terms)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("pipeline: starting run",
		zap.Strings("markets", markets),
		zap.String("terms", req.Terms),
		zap.String("strategy", string(mode)),
	)

	start := time.Now()

	// advance moves the run status to the furthest stage any market has
	// reached. Markets progress at different speeds, so plain writes
	// would flap the status backwards.
	var statusMu sync.Mutex
	current := model.RunStatusQueued
	advance := func(status model.RunStatus) {
		statusMu.Lock()
		defer statusMu.Unlock()
		if statusRank[status] <= statusRank[current] {
			return
		}
		current = status
		if err := p.store.UpdateRunStatus(ctx, run.ID, status); err != nil {
			log.Warn("pipeline: failed to update run status",
				zap.String("status", string(status)), zap.Error(err))
		}
	}

	outcomes := make([]*marketOutcome, len(markets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.MaxConcurrentMarkets)
	for idx, market := range markets {
		idx, market := idx, market
		g.Go(func() error {
			o := p.runMarket(gctx, run.ID, market, locations[market], req.Terms, mode, ctype, advance)
			outcomes[idx] = o
			// Market failures degrade the run; only cancellation
			// stops the other markets.
			if o.err != nil && gctx.Err() != nil {
				return o.err
			}
			return nil
		})
	}
	if waitErr := g.Wait(); waitErr != nil {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed); statusErr != nil {
			log.Warn("pipeline: failed to mark run failed", zap.Error(statusErr))
		}
		return nil, eris.Wrap(waitErr, "pipeline: run aborted")
	}

	output := &RunOutput{RunID: run.ID}
	result := &model.RunResult{}
	var failed []string
	for _, o := range outcomes {
		result.Stages = append(result.Stages, o.stages...)
		if o.err != nil {
			failed = append(failed, o.market)
			result.DegradedMarkets = append(result.DegradedMarkets, o.market)
			log.Error("pipeline: market failed", zap.String("market", o.market), zap.Error(o.err))
			continue
		}
		result.Counts.Add(o.counts)
		result.TokenUsage.Add(o.usage)
		result.SearchCost += o.searchCost
		if o.bypassed {
			result.BypassedMarkets = append(result.BypassedMarkets, o.market)
		}
		if o.degraded {
			result.DegradedMarkets = append(result.DegradedMarkets, o.market)
		}
		result.DegradedClassification = result.DegradedClassification || o.degradedAI
		output.Postings = append(output.Postings, o.delivered...)
	}
	result.Duration = time.Since(start).Milliseconds()
	if len(failed) == len(markets) {
		result.Error = "all markets failed"
	}
	output.Result = result

	// CompleteRun derives the terminal status from result.Error.
	if err := p.store.CompleteRun(ctx, run.ID, result); err != nil {
		log.Warn("pipeline: failed to persist run result", zap.Error(err))
	}

	log.Info("pipeline: run complete",
		zap.Int("markets", len(markets)),
		zap.Int("markets_failed", len(failed)),
		zap.Int("ingested", result.Counts.Ingested),
		zap.Int("delivered", result.Counts.Delivered),
		zap.Float64("token_cost", result.TokenUsage.Cost),
		zap.Float64("search_cost", result.SearchCost),
		zap.Int64("duration_ms", result.Duration),
	)

	if result.Error != "" {
		return output, eris.New("pipeline: " + result.Error)
	}
	return output, nil
}

// runMarket walks one market through every stage. Failures land in
// o.err; the caller decides whether the run survives them.
func (p *Pipeline) runMarket(ctx context.Context, runID, market, location, terms string, mode ingest.Mode, ctype classify.ClassifierType, advance func(model.RunStatus)) *marketOutcome {
	o := &marketOutcome{market: market}
	log := zap.L().With(zap.String("run_id", runID), zap.String("market", market))

	// track runs one stage, times it, and persists a stage record. The
	// returned error is the stage fn's own error so callers can decide
	// which stages are fatal for the market.
	track := func(name string, fn func() (*model.StageResult, error)) error {
		if err := ctx.Err(); err != nil {
			o.stages = append(o.stages, model.StageResult{
				Name:   name,
				Market: market,
				Status: model.StageStatusSkipped,
				Error:  err.Error(),
			})
			return err
		}

		stage, err := p.store.CreateStage(ctx, runID, name, market)
		if err != nil {
			log.Warn("pipeline: failed to create stage record",
				zap.String("stage", name), zap.Error(err))
		}

		begin := time.Now()
		sr, fnErr := fn()
		elapsed := time.Since(begin).Milliseconds()

		if sr == nil {
			sr = &model.StageResult{}
		}
		sr.Name = name
		sr.Market = market
		sr.Duration = elapsed
		if fnErr != nil {
			sr.Status = model.StageStatusFailed
			sr.Error = fnErr.Error()
			log.Error("pipeline: stage failed",
				zap.String("stage", name),
				zap.Int64("duration_ms", elapsed),
				zap.Error(fnErr),
			)
		} else {
			sr.Status = model.StageStatusComplete
			log.Info("pipeline: stage complete",
				zap.String("stage", name),
				zap.Int64("duration_ms", elapsed),
			)
		}

		if stage != nil {
			if err := p.store.CompleteStage(ctx, stage.ID, sr); err != nil {
				log.Warn("pipeline: failed to complete stage record",
					zap.String("stage", name), zap.Error(err))
			}
		}
		o.stages = append(o.stages, *sr)
		return fnErr
	}

	// Postings that fall out before routing still need their final
	// status in the run audit trail.
	var postings []model.JobPosting
	var excluded []model.JobPosting

	advance(model.RunStatusIngesting)
	var ing *ingest.Result
	if err := track("ingest", func() (*model.StageResult, error) {
		res, err := p.ingestor.Run(ctx, market, location, terms, p.cfg.Sourcing.MaxResults, p.ingestConfig(mode))
		if err != nil {
			return nil, err
		}
		ing = res
		return &model.StageResult{Metadata: map[string]any{
			"decision":        res.Decision.String(),
			"bypass_executed": res.BypassExecuted,
			"from_memory":     res.FromMemory,
			"from_fresh":      res.FromFresh,
			"degraded":        res.Degraded,
			"provider_errors": res.ProviderErrors,
			"searches":        res.Searches,
		}}, nil
	}); err != nil {
		o.err = err
		return o
	}
	postings = ing.Postings
	o.counts.Ingested = len(postings)
	o.counts.FromMemory = ing.FromMemory
	o.counts.FromFresh = ing.FromFresh
	o.bypassed = ing.BypassExecuted
	o.degraded = ing.Degraded
	o.searchCost = p.costCalc.SearchTotal(ing.Searches)

	advance(model.RunStatusNormalizing)
	if err := track("normalize", func() (*model.StageResult, error) {
		for i := range postings {
			p.normalizer.Apply(&postings[i], location)
		}
		return &model.StageResult{Metadata: map[string]any{"postings": len(postings)}}, nil
	}); err != nil {
		o.err = err
		return o
	}
	o.counts.Normalized = len(postings)

	advance(model.RunStatusScoring)
	threshold := p.cfg.Pipeline.QualityThreshold
	if err := track("score", func() (*model.StageResult, error) {
		kept := postings[:0]
		for i := range postings {
			p.scorer.Apply(&postings[i])
			if postings[i].QualityScore < threshold {
				postings[i].FinalStatus = model.StatusExcludedQuality
				excluded = append(excluded, postings[i])
				continue
			}
			kept = append(kept, postings[i])
		}
		dropped := len(postings) - len(kept)
		postings = kept
		o.counts.QualityExcluded += dropped
		return &model.StageResult{Metadata: map[string]any{
			"threshold": threshold,
			"excluded":  dropped,
			"kept":      len(kept),
		}}, nil
	}); err != nil {
		o.err = err
		return o
	}

	advance(model.RunStatusDeduping)
	if err := track("dedup", func() (*model.StageResult, error) {
		out := p.dedup.Dedupe(postings)
		excluded = append(excluded, out.Duplicates...)
		excluded = append(excluded, out.Rejected...)
		o.counts.DuplicatesRemoved += len(out.Duplicates)
		o.counts.QualityExcluded += len(out.Rejected)
		postings = out.Survivors
		return &model.StageResult{Metadata: map[string]any{
			"r1_groups":  out.R1Groups,
			"r2_groups":  out.R2Groups,
			"duplicates": len(out.Duplicates),
			"rejected":   len(out.Rejected),
			"survivors":  len(out.Survivors),
		}}, nil
	}); err != nil {
		o.err = err
		return o
	}

	if p.seen != nil {
		if err := track("seen_filter", func() (*model.StageResult, error) {
			// Only fresh postings are checked: memory rows are served
			// on purpose by the bypass strategy.
			var keys []string
			for i := range postings {
				if postings[i].Source == model.SourceFresh {
					keys = append(keys, postings[i].DedupKeyR1)
				}
			}
			if len(keys) == 0 {
				return &model.StageResult{Metadata: map[string]any{"suppressed": 0}}, nil
			}
			seen, err := p.seen.FilterDelivered(ctx, market, keys)
			if err != nil {
				o.degraded = true
				return nil, eris.Wrap(err, "pipeline: filter delivered")
			}
			kept := postings[:0]
			suppressed := 0
			for i := range postings {
				if postings[i].Source == model.SourceFresh && seen[postings[i].DedupKeyR1] {
					postings[i].FinalStatus = model.StatusExcludedDuplicate
					excluded = append(excluded, postings[i])
					suppressed++
					continue
				}
				kept = append(kept, postings[i])
			}
			postings = kept
			o.counts.DuplicatesRemoved += suppressed
			return &model.StageResult{Metadata: map[string]any{
				"checked":    len(keys),
				"suppressed": suppressed,
			}}, nil
		}); err != nil {
			// A dead cache degrades the market but the run goes on
			// with unsuppressed postings. Cancellation still aborts.
			if ctx.Err() != nil {
				o.err = err
				return o
			}
		}
	}

	advance(model.RunStatusClassifying)
	var cls classify.Result
	if err := track("classify", func() (*model.StageResult, error) {
		res, err := p.gateway.Run(ctx, postings, p.classifyConfig(ctype))
		cls = res
		if err != nil {
			return nil, err
		}
		return &model.StageResult{Metadata: map[string]any{
			"classified": res.Classified,
			"skipped":    res.Skipped,
			"failed":     res.Failed,
			"degraded":   res.Degraded,
			"model":      res.Model,
			"batch":      res.UsedBatch,
		}}, nil
	}); err != nil {
		o.err = err
		return o
	}
	o.counts.Classified = cls.Classified
	o.counts.ClassificationSkipped = cls.Skipped
	o.counts.ClassificationFailed = cls.Failed
	o.degradedAI = cls.Degraded
	o.usage = cls.Usage
	o.usage.Cost = p.costCalc.Claude(cls.Model, cls.UsedBatch,
		cls.Usage.InputTokens, cls.Usage.OutputTokens,
		cls.Usage.CacheCreationTokens, cls.Usage.CacheReadTokens)

	// Second scoring pass: route type is known now, so salary sanity
	// uses the route-specific range instead of the generic one.
	if err := track("rescore", func() (*model.StageResult, error) {
		for i := range postings {
			p.scorer.Apply(&postings[i])
		}
		return &model.StageResult{Metadata: map[string]any{"rescored": len(postings)}}, nil
	}); err != nil {
		o.err = err
		return o
	}

	advance(model.RunStatusRouting)
	var routed route.Outcome
	if err := track("route", func() (*model.StageResult, error) {
		routed = route.Apply(postings, route.FilterConfig{
			MatchLevels:    matchLevels(p.cfg.Filter.MatchQuality),
			RouteTypes:     routeTypes(p.cfg.Filter.RouteTypes),
			FairChanceOnly: p.cfg.Filter.FairChanceOnly,
			MaxJobs:        p.cfg.Filter.MaxJobs,
		})
		return &model.StageResult{Metadata: map[string]any{
			"included": routed.Included,
			"excluded": routed.Excluded,
			"capped":   routed.Capped,
		}}, nil
	}); err != nil {
		o.err = err
		return o
	}
	o.counts.RoutingExcluded = routed.Excluded
	o.counts.Capped = routed.Capped
	o.counts.Included = routed.Included
	o.counts.Delivered = len(routed.Delivered)

	if err := track("persist", func() (*model.StageResult, error) {
		// Only routed postings are upserted: they carry dedup keys and
		// final classification. Early exclusions never reach storage
		// but still land in the per-run audit records.
		upserted, err := p.store.UpsertPostings(ctx, routed.All)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: upsert postings")
		}
		audit := make([]model.JobPosting, 0, len(routed.All)+len(excluded))
		audit = append(audit, routed.All...)
		audit = append(audit, excluded...)
		if err := p.store.RecordRunPostings(ctx, runID, audit); err != nil {
			log.Warn("pipeline: failed to record run postings", zap.Error(err))
		}
		if p.seen != nil && len(routed.Delivered) > 0 {
			keys := make([]string, len(routed.Delivered))
			for i := range routed.Delivered {
				keys[i] = routed.Delivered[i].DedupKeyR1
			}
			if err := p.seen.MarkDelivered(ctx, market, keys); err != nil {
				log.Warn("pipeline: failed to mark postings delivered", zap.Error(err))
			}
		}
		return &model.StageResult{Metadata: map[string]any{
			"upserted": upserted,
			"recorded": len(audit),
		}}, nil
	}); err != nil {
		o.err = err
		return o
	}

	o.delivered = routed.Delivered
	log.Info("pipeline: market complete",
		zap.Int("ingested", o.counts.Ingested),
		zap.Int("delivered", o.counts.Delivered),
		zap.Bool("bypassed", o.bypassed),
		zap.Bool("degraded", o.degraded),
	)
	return o
}

func (p *Pipeline) ingestConfig(mode ingest.Mode) ingest.Config {
	s := p.cfg.Sourcing
	return ingest.Config{
		Mode:             mode,
		MemoryOnly:       s.MemoryOnly,
		MemoryHours:      s.MemoryHours,
		BypassFraction:   s.BypassFraction,
		Radius:           s.Radius,
		ProviderTimeout:  time.Duration(s.ProviderTimeoutSecs) * time.Second,
		MandatoryResults: s.MandatoryResults,
		Providers:        s.Providers,
	}
}

func (p *Pipeline) classifyConfig(ctype classify.ClassifierType) classify.Config {
	c := p.cfg.Classify
	return classify.Config{
		Type:         ctype,
		Model:        p.cfg.Anthropic.Model,
		TTLHours:     c.TTLHours,
		ForceRefresh: c.ForceRefresh,
		NoBatch:      p.cfg.Anthropic.NoBatch,
	}
}

// matchLevels converts configured names, which validation accepts in
// any case, to the lowercase values classification produces.
func matchLevels(names []string) []model.MatchLevel {
	levels := make([]model.MatchLevel, 0, len(names))
	for _, n := range names {
		levels = append(levels, model.MatchLevel(strings.ToLower(n)))
	}
	return levels
}

func routeTypes(names []string) []model.RouteType {
	types := make([]model.RouteType, 0, len(names))
	for _, n := range names {
		types = append(types, model.RouteType(strings.ToLower(n)))
	}
	return types
}

// uniqueMarkets trims, drops empties, and keeps first occurrence order.
func uniqueMarkets(markets []string) []string {
	seen := make(map[string]bool, len(markets))
	out := make([]string, 0, len(markets))
	for _, m := range markets {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
