package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/classify"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/config"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/ingest"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/monitoring"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/pipeline"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/resilience"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/rules"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/store"
	anthropicpkg "github.com/hazeltr0n/freeworld-success-coach-portal-sub003/pkg/anthropic"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/pkg/outscraper"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/pkg/serpjobs"
)

// pipelineEnv holds the initialized store, rule catalogue, and pipeline
// shared by the run/serve/watch commands.
type pipelineEnv struct {
	Store    store.Store
	Rules    *rules.Ruleset
	Pipeline *pipeline.Pipeline
	Seen     *store.RedisSeenCache // nil when redis is not configured
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Seen != nil {
		_ = pe.Seen.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "coach.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func retryFromConfig(rc config.ResilienceConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    rc.RetryMaxAttempts,
		InitialBackoff: time.Duration(rc.RetryInitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(rc.RetryMaxBackoffMs) * time.Millisecond,
		Multiplier:     rc.RetryMultiplier,
	}
}

func breakerFromConfig(rc config.ResilienceConfig) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		TripThreshold: rc.BreakerTripThreshold,
		Cooldown:      time.Duration(rc.BreakerCooldownSecs) * time.Second,
	}
}

// initProviders builds a searcher per provider with a configured key.
// Keys gate construction; the per-run sourcing.providers map gates use.
func initProviders() []ingest.Provider {
	var providers []ingest.Provider

	if cfg.Outscraper.Key != "" {
		var opts []outscraper.Option
		if cfg.Outscraper.BaseURL != "" {
			opts = append(opts, outscraper.WithBaseURL(cfg.Outscraper.BaseURL))
		}
		providers = append(providers, outscraper.NewSearcher(outscraper.NewClient(cfg.Outscraper.Key, opts...)))
	}

	if cfg.SerpJobs.Key != "" {
		var opts []serpjobs.Option
		if cfg.SerpJobs.BaseURL != "" {
			opts = append(opts, serpjobs.WithBaseURL(cfg.SerpJobs.BaseURL))
		}
		providers = append(providers, serpjobs.NewSearcher(serpjobs.NewClient(cfg.SerpJobs.Key, opts...)))
	}

	return providers
}

// initPipeline validates config for the command mode, then sets up the
// store, rule catalogue, providers, and classification gateway, and builds
// the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rs, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load rules")
	}

	retryCfg := retryFromConfig(cfg.Resilience)
	breakers := resilience.NewBreakerSet(breakerFromConfig(cfg.Resilience))

	ingestor := ingest.New(st, initProviders(),
		ingest.WithRetry(retryCfg),
		ingest.WithBreakers(breakers),
	)
	gateway := classify.New(anthropicpkg.NewClient(cfg.Anthropic.Key), classify.WithRetry(retryCfg))

	var pipeOpts []pipeline.Option
	var seen *store.RedisSeenCache
	if cfg.Redis.URL != "" {
		seen, err = store.NewRedisSeenCache(ctx, cfg.Redis.URL, time.Duration(cfg.Redis.TTLHours)*time.Hour)
		if err != nil {
			zap.L().Warn("redis seen cache unavailable, runs may re-deliver postings", zap.Error(err))
			seen = nil
		} else {
			pipeOpts = append(pipeOpts, pipeline.WithSeenCache(seen))
		}
	}

	p := pipeline.New(cfg, st, rs, ingestor, gateway, pipeOpts...)

	return &pipelineEnv{
		Store:    st,
		Rules:    rs,
		Pipeline: p,
		Seen:     seen,
	}, nil
}

// startMonitoring launches the background alert checker when a webhook
// is configured. Short-lived commands never call this.
func startMonitoring(ctx context.Context, st store.Store) {
	if cfg.Monitoring.WebhookURL == "" {
		return
	}
	checker := monitoring.NewChecker(
		monitoring.NewCollector(st),
		monitoring.NewAlerter(cfg.Monitoring),
		cfg.Monitoring,
	)
	go checker.Run(ctx)
}
