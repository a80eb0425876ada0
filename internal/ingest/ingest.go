package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/dedup"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/resilience"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/store"
)

// defaultProviderTimeout bounds a single provider search, polling
// included.
const defaultProviderTimeout = 90 * time.Second

// ErrNoResults reports that neither memory nor any provider produced a
// single posting for a market that requires results.
var ErrNoResults = eris.New("ingest: no postings from memory or providers")

// Provider searches one source of fresh postings. Implementations live
// under pkg/ and normalize their wire formats to model.RawPosting.
type Provider interface {
	Name() string
	Search(ctx context.Context, location, terms string, radius, maxResults int) ([]model.RawPosting, error)
}

// MemoryStore is the slice of the posting store ingestion reads.
type MemoryStore interface {
	QueryPostings(ctx context.Context, q store.PostingQuery) ([]model.JobPosting, error)
}

// Config carries the per-run sourcing knobs.
type Config struct {
	Mode             Mode
	MemoryOnly       bool
	MemoryHours      int
	BypassFraction   float64
	Radius           int
	ProviderTimeout  time.Duration
	MandatoryResults bool
	// Providers enables sources by name. A nil map enables everything.
	Providers map[string]bool
}

// Result is one market's ingestion outcome.
type Result struct {
	Postings       []model.JobPosting
	FromMemory     int
	FromFresh      int
	Decision       Decision
	BypassExecuted bool
	Degraded       bool
	ProviderErrors map[string]string
	// Searches counts billable provider requests by provider name,
	// failed attempts included since providers charge for those too.
	Searches map[string]int
}

// Ingestor sources postings for a market from memory and providers.
type Ingestor struct {
	store     MemoryStore
	providers []Provider
	breakers  *resilience.BreakerSet
	retry     resilience.RetryConfig
	now       func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithBreakers shares a circuit breaker set across providers. Breakers
// are looked up by provider name.
func WithBreakers(set *resilience.BreakerSet) Option {
	return func(i *Ingestor) { i.breakers = set }
}

// WithRetry overrides the per-search retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(i *Ingestor) { i.retry = cfg }
}

// New builds an Ingestor over a memory store and an ordered provider
// list. Providers are queried in order until the request is covered.
func New(st MemoryStore, providers []Provider, opts ...Option) *Ingestor {
	retry := resilience.DefaultRetryConfig()
	// Provider clients retry individual HTTP calls themselves, so one
	// whole-search retry is enough here.
	retry.MaxAttempts = 2

	i := &Ingestor{
		store:     st,
		providers: providers,
		retry:     retry,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run sources up to want postings for one market. The market name keys
// the store and dedup identities; location is the provider search
// string. Provider failures degrade the result instead of aborting it,
// and an error is returned only when the memory store fails in
// memory-only mode or when a mandatory market comes up empty.
func (i *Ingestor) Run(ctx context.Context, market, location, terms string, want int, cfg Config) (*Result, error) {
	if location == "" {
		location = market
	}

	result := &Result{
		ProviderErrors: map[string]string{},
		Searches:       map[string]int{},
	}

	memory, err := i.queryMemory(ctx, market, want, cfg)
	if err != nil {
		if cfg.MemoryOnly {
			return nil, eris.Wrapf(err, "ingest: market %q", market)
		}
		zap.L().Warn("memory query failed, continuing with providers only",
			zap.String("market", market),
			zap.Error(err))
		result.Degraded = true
		memory = nil
	}

	result.Decision = Decide(cfg.Mode, cfg.MemoryOnly, len(memory), want, cfg.BypassFraction)

	postings := memory
	if result.Decision.Fresh() {
		fresh := i.fetchFresh(ctx, location, terms, want, cfg, result)
		postings = blend(memory, fresh, market, want, i.now())
	} else {
		result.BypassExecuted = !cfg.MemoryOnly
	}

	if want > 0 && len(postings) > want {
		postings = postings[:want]
	}

	result.Postings = postings
	for _, p := range postings {
		switch p.Source {
		case model.SourceMemory:
			result.FromMemory++
		case model.SourceFresh:
			result.FromFresh++
		}
	}

	if len(postings) == 0 && cfg.MandatoryResults {
		return nil, eris.Wrapf(ErrNoResults, "ingest: market %q", market)
	}

	zap.L().Debug("market ingested",
		zap.String("market", market),
		zap.String("decision", result.Decision.String()),
		zap.Int("from_memory", result.FromMemory),
		zap.Int("from_fresh", result.FromFresh),
		zap.Bool("degraded", result.Degraded))
	return result, nil
}

// queryMemory loads acceptable classified postings inside the freshness
// window. Rows are re-tagged as memory-sourced so downstream stages can
// tell them from this run's fresh pulls.
func (i *Ingestor) queryMemory(ctx context.Context, market string, want int, cfg Config) ([]model.JobPosting, error) {
	q := store.PostingQuery{
		Market:         market,
		FreshnessHours: cfg.MemoryHours,
		MatchLevels:    []model.MatchLevel{model.MatchGood, model.MatchSoSo},
		Limit:          want,
	}
	rows, err := i.store.QueryPostings(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: query memory")
	}
	for idx := range rows {
		rows[idx].Source = model.SourceMemory
	}
	return rows, nil
}

// fetchFresh queries enabled providers in order, stopping once the
// request is covered. Failures are recorded on the result and skipped.
func (i *Ingestor) fetchFresh(ctx context.Context, location, terms string, want int, cfg Config, result *Result) []model.RawPosting {
	var raws []model.RawPosting
	for _, p := range i.providers {
		if cfg.Providers != nil && !cfg.Providers[p.Name()] {
			continue
		}
		if want > 0 && len(raws) >= want {
			break
		}

		result.Searches[p.Name()]++
		found, err := i.searchProvider(ctx, p, location, terms, want, cfg)
		if err != nil {
			result.ProviderErrors[p.Name()] = err.Error()
			result.Degraded = true
			zap.L().Warn("provider search failed",
				zap.String("provider", p.Name()),
				zap.String("location", location),
				zap.Error(err))
			continue
		}
		raws = append(raws, found...)
	}
	return raws
}

func (i *Ingestor) searchProvider(ctx context.Context, p Provider, location, terms string, want int, cfg Config) ([]model.RawPosting, error) {
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retry := i.retry
	retry.OnRetry = resilience.RetryLogger(p.Name(), "search")
	call := func(ctx context.Context) ([]model.RawPosting, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) ([]model.RawPosting, error) {
			return p.Search(ctx, location, terms, cfg.Radius, want)
		})
	}

	if i.breakers == nil {
		return call(ctx)
	}
	return resilience.RunVal(ctx, i.breakers.Get(p.Name()), call)
}

// blend merges memory rows and fresh pulls. Memory rows come first and
// win identity collisions: a fresh posting whose provisional identity
// key matches a kept row is dropped here rather than burning a
// classification later. Exact duplicate collapse still happens in the
// dedup stage, where normalized keys exist.
func blend(memory []model.JobPosting, fresh []model.RawPosting, market string, want int, now time.Time) []model.JobPosting {
	out := make([]model.JobPosting, 0, len(memory)+len(fresh))
	seen := make(map[string]bool, len(memory))

	for _, p := range memory {
		out = append(out, p)
		key := p.DedupKeyR1
		if key == "" {
			key = dedup.KeyR1(p.Company, p.Title, market)
		}
		seen[key] = true
	}

	for _, raw := range fresh {
		hasIdentity := raw.Company != "" || raw.Title != ""
		if hasIdentity {
			key := dedup.KeyR1(raw.Company, raw.Title, market)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, fromRaw(raw, market, now))
		if want > 0 && len(out) >= want {
			break
		}
	}
	return out
}

// fromRaw mints a run-local posting from a provider result. Normalized
// fields stay empty until the normalize stage fills them.
func fromRaw(raw model.RawPosting, market string, now time.Time) model.JobPosting {
	return model.JobPosting{
		ID:             uuid.NewString(),
		Market:         market,
		Source:         model.SourceFresh,
		RawTitle:       raw.Title,
		RawCompany:     raw.Company,
		RawLocation:    raw.Location,
		RawDescription: raw.Description,
		RawSalary:      raw.Salary,
		SourceURL:      raw.URL,
		SourcePlatform: raw.Platform,
		PostedAt:       raw.PostedAt,
		FirstSeenAt:    now,
		LastSeenAt:     now,
	}
}
