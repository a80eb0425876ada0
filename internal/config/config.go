package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Outscraper OutscraperConfig `yaml:"outscraper" mapstructure:"outscraper"`
	SerpJobs   SerpJobsConfig   `yaml:"serpjobs" mapstructure:"serpjobs"`
	Sourcing   SourcingConfig   `yaml:"sourcing" mapstructure:"sourcing"`
	Classify   ClassifyConfig   `yaml:"classify" mapstructure:"classify"`
	Filter     FilterConfig     `yaml:"filter" mapstructure:"filter"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Rules      RulesConfig      `yaml:"rules" mapstructure:"rules"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Watch      WatchConfig      `yaml:"watch" mapstructure:"watch"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the posting memory backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedisConfig configures the optional delivered-postings cache. An
// empty URL disables it.
type RedisConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	NoBatch bool   `yaml:"no_batch" mapstructure:"no_batch"`
}

// OutscraperConfig holds Outscraper API settings.
type OutscraperConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SerpJobsConfig holds SerpAPI Google Jobs settings.
type SerpJobsConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SourcingConfig controls where postings come from and how many.
type SourcingConfig struct {
	Markets             []string        `yaml:"markets" mapstructure:"markets"`
	Strategy            string          `yaml:"strategy" mapstructure:"strategy"`
	MemoryOnly          bool            `yaml:"memory_only" mapstructure:"memory_only"`
	MemoryHours         int             `yaml:"memory_hours" mapstructure:"memory_hours"`
	BypassFraction      float64         `yaml:"bypass_fraction" mapstructure:"bypass_fraction"`
	Radius              int             `yaml:"radius" mapstructure:"radius"`
	MaxResults          int             `yaml:"max_results" mapstructure:"max_results"`
	ProviderTimeoutSecs int             `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs"`
	MandatoryResults    bool            `yaml:"mandatory_results" mapstructure:"mandatory_results"`
	StrictIdentity      bool            `yaml:"strict_identity" mapstructure:"strict_identity"`
	Providers           map[string]bool `yaml:"providers" mapstructure:"providers"`
}

// MarketList returns the configured markets, trimmed, empties dropped.
func (s SourcingConfig) MarketList() []string {
	var out []string
	for _, m := range s.Markets {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// ClassifyConfig controls the classification stage.
type ClassifyConfig struct {
	Classifier   string `yaml:"classifier" mapstructure:"classifier"`
	TTLHours     int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	ForceRefresh bool   `yaml:"force_refresh" mapstructure:"force_refresh"`
}

// FilterConfig controls routing inclusion and the delivery cap.
type FilterConfig struct {
	MatchQuality   []string `yaml:"match_quality" mapstructure:"match_quality"`
	RouteTypes     []string `yaml:"route_types" mapstructure:"route_types"`
	FairChanceOnly bool     `yaml:"fair_chance_only" mapstructure:"fair_chance_only"`
	MaxJobs        int      `yaml:"max_jobs" mapstructure:"max_jobs"`
}

// PipelineConfig configures orchestration behavior.
type PipelineConfig struct {
	MaxConcurrentMarkets int     `yaml:"max_concurrent_markets" mapstructure:"max_concurrent_markets"`
	QualityThreshold     float64 `yaml:"quality_threshold" mapstructure:"quality_threshold"`
}

// ResilienceConfig tunes provider retries and circuit breakers.
type ResilienceConfig struct {
	RetryMaxAttempts      int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs int     `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	RetryMultiplier       float64 `yaml:"retry_multiplier" mapstructure:"retry_multiplier"`
	BreakerTripThreshold  int     `yaml:"breaker_trip_threshold" mapstructure:"breaker_trip_threshold"`
	BreakerCooldownSecs   int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// PricingConfig overrides per-search provider prices (USD).
type PricingConfig struct {
	Searches map[string]float64 `yaml:"searches" mapstructure:"searches"`
}

// RulesConfig points at a business-rule catalogue file. Empty means the
// embedded defaults.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// WatchConfig configures scheduled refresh runs. Cron wins when both
// are set.
type WatchConfig struct {
	Every string `yaml:"every" mapstructure:"every"`
	Cron  string `yaml:"cron" mapstructure:"cron"`
}

// MonitoringConfig configures background run-health alerting. An empty
// webhook URL disables it.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "coach.db")
	v.SetDefault("redis.ttl_hours", 72)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("sourcing.strategy", "memory_first")
	v.SetDefault("sourcing.memory_hours", 72)
	v.SetDefault("sourcing.bypass_fraction", 0.75)
	v.SetDefault("sourcing.radius", 50)
	v.SetDefault("sourcing.max_results", 100)
	v.SetDefault("sourcing.provider_timeout_secs", 90)
	v.SetDefault("classify.classifier", "cdl")
	v.SetDefault("classify.ttl_hours", 72)
	v.SetDefault("filter.match_quality", []string{"good", "so-so"})
	v.SetDefault("pipeline.max_concurrent_markets", 4)
	v.SetDefault("pipeline.quality_threshold", 0.3)
	v.SetDefault("resilience.retry_max_attempts", 3)
	v.SetDefault("resilience.retry_initial_backoff_ms", 500)
	v.SetDefault("resilience.retry_max_backoff_ms", 30000)
	v.SetDefault("resilience.retry_multiplier", 2.0)
	v.SetDefault("resilience.breaker_trip_threshold", 5)
	v.SetDefault("resilience.breaker_cooldown_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("watch.every", "6h")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var (
	validStrategies  = map[string]bool{"": true, "memory_first": true, "always_fresh": true, "balanced": true}
	validClassifiers = map[string]bool{"": true, "cdl": true, "pathway": true}
	validMatch       = map[string]bool{"good": true, "so-so": true, "bad": true}
	validRoutes      = map[string]bool{"local": true, "regional": true, "otr": true, "unknown": true}
)

// Validate checks the configuration for a command mode before any work
// starts. Modes: run, serve, watch, import. All violations are reported
// at once, not just the first.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}

	if !validStrategies[c.Sourcing.Strategy] {
		errs = append(errs, fmt.Sprintf("sourcing.strategy must be memory_first, always_fresh, or balanced, got %q", c.Sourcing.Strategy))
	}
	if c.Sourcing.BypassFraction < 0 || c.Sourcing.BypassFraction > 1 {
		errs = append(errs, "sourcing.bypass_fraction must be between 0 and 1")
	}
	if c.Sourcing.MemoryHours < 0 {
		errs = append(errs, "sourcing.memory_hours must be >= 0")
	}
	if c.Sourcing.MaxResults <= 0 {
		errs = append(errs, "sourcing.max_results must be > 0")
	}

	if !validClassifiers[c.Classify.Classifier] {
		errs = append(errs, fmt.Sprintf("classify.classifier must be cdl or pathway, got %q", c.Classify.Classifier))
	}
	if c.Classify.TTLHours < 0 {
		errs = append(errs, "classify.ttl_hours must be >= 0")
	}

	for _, m := range c.Filter.MatchQuality {
		if !validMatch[strings.ToLower(m)] {
			errs = append(errs, fmt.Sprintf("filter.match_quality: unknown level %q", m))
		}
	}
	for _, r := range c.Filter.RouteTypes {
		if !validRoutes[strings.ToLower(r)] {
			errs = append(errs, fmt.Sprintf("filter.route_types: unknown route %q", r))
		}
	}
	if c.Filter.MaxJobs < 0 {
		errs = append(errs, "filter.max_jobs must be >= 0")
	}

	if c.Pipeline.MaxConcurrentMarkets < 1 || c.Pipeline.MaxConcurrentMarkets > 32 {
		errs = append(errs, "pipeline.max_concurrent_markets must be between 1 and 32")
	}
	if c.Pipeline.QualityThreshold < 0 || c.Pipeline.QualityThreshold > 1 {
		errs = append(errs, "pipeline.quality_threshold must be between 0 and 1")
	}

	if c.Resilience.RetryMaxAttempts < 1 {
		errs = append(errs, "resilience.retry_max_attempts must be >= 1")
	}

	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if c.Monitoring.CostThresholdUSD < 0 {
		errs = append(errs, "monitoring.cost_threshold_usd must be >= 0")
	}
	if c.Monitoring.WebhookURL != "" && c.Monitoring.LookbackWindowHours < 1 {
		errs = append(errs, "monitoring.lookback_window_hours must be >= 1")
	}

	switch mode {
	case "run":
		errs = append(errs, c.validateRun()...)
	case "serve":
		errs = append(errs, c.validateRun()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0")
		}
	case "watch":
		errs = append(errs, c.validateRun()...)
		errs = append(errs, c.validateWatch()...)
	case "import":
		// Store checks above are enough; importing never calls out.
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateRun() []string {
	var errs []string
	if c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	if !c.Sourcing.MemoryOnly && c.Outscraper.Key == "" && c.SerpJobs.Key == "" {
		errs = append(errs, "outscraper.key or serpjobs.key is required unless sourcing.memory_only is set")
	}
	return errs
}

func (c *Config) validateWatch() []string {
	var errs []string
	if c.Watch.Every == "" && c.Watch.Cron == "" {
		errs = append(errs, "watch.every or watch.cron is required")
	}
	if c.Watch.Every != "" {
		if _, err := time.ParseDuration(c.Watch.Every); err != nil {
			errs = append(errs, fmt.Sprintf("watch.every is not a duration: %q", c.Watch.Every))
		}
	}
	if len(c.Sourcing.MarketList()) == 0 {
		errs = append(errs, "sourcing.markets is required for watch")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
