package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "coach.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 72, cfg.Redis.TTLHours)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "memory_first", cfg.Sourcing.Strategy)
	assert.Equal(t, 72, cfg.Sourcing.MemoryHours)
	assert.InDelta(t, 0.75, cfg.Sourcing.BypassFraction, 0.001)
	assert.Equal(t, 50, cfg.Sourcing.Radius)
	assert.Equal(t, 100, cfg.Sourcing.MaxResults)
	assert.Equal(t, 90, cfg.Sourcing.ProviderTimeoutSecs)
	assert.Equal(t, "cdl", cfg.Classify.Classifier)
	assert.Equal(t, 72, cfg.Classify.TTLHours)
	assert.Equal(t, []string{"good", "so-so"}, cfg.Filter.MatchQuality)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrentMarkets)
	assert.InDelta(t, 0.3, cfg.Pipeline.QualityThreshold, 0.001)
	assert.Equal(t, 3, cfg.Resilience.RetryMaxAttempts)
	assert.Equal(t, 500, cfg.Resilience.RetryInitialBackoffMs)
	assert.Equal(t, 5, cfg.Resilience.BreakerTripThreshold)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "6h", cfg.Watch.Every)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/coach
sourcing:
  markets:
    - Dallas
    - Houston
  strategy: balanced
  max_results: 50
filter:
  fair_chance_only: true
  max_jobs: 25
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/coach", cfg.Store.DatabaseURL)
	assert.Equal(t, []string{"Dallas", "Houston"}, cfg.Sourcing.Markets)
	assert.Equal(t, "balanced", cfg.Sourcing.Strategy)
	assert.Equal(t, 50, cfg.Sourcing.MaxResults)
	assert.True(t, cfg.Filter.FairChanceOnly)
	assert.Equal(t, 25, cfg.Filter.MaxJobs)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.75, cfg.Sourcing.BypassFraction, 0.001)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrentMarkets)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
sourcing:
  strategy: balanced
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("COACH_STORE_DRIVER", "postgres")
	t.Setenv("COACH_SOURCING_STRATEGY", "always_fresh")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "always_fresh", cfg.Sourcing.Strategy)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("COACH_SERVER_PORT", "3000")
	t.Setenv("COACH_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "coach.db"
	cfg.Sourcing.Strategy = "memory_first"
	cfg.Sourcing.BypassFraction = 0.75
	cfg.Sourcing.MaxResults = 100
	cfg.Classify.Classifier = "cdl"
	cfg.Classify.TTLHours = 72
	cfg.Pipeline.MaxConcurrentMarkets = 4
	cfg.Pipeline.QualityThreshold = 0.3
	cfg.Resilience.RetryMaxAttempts = 3
	cfg.Server.Port = 8080
	cfg.Watch.Every = "6h"
	return cfg
}

func TestValidateRun_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Outscraper.Key = "out-key"

	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRun_MissingKeys(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "outscraper.key or serpjobs.key is required")
}

func TestValidateRun_MemoryOnlySkipsProviderKeys(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Sourcing.MemoryOnly = true

	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRun_SerpJobsKeyAlone(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.SerpJobs.Key = "serp-key"

	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "k"
	cfg.Outscraper.Key = "k"

	cfg.Store.Driver = "mysql"
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")

	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateStrategy(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "k"
	cfg.Outscraper.Key = "k"

	cfg.Sourcing.Strategy = "aggressive"
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sourcing.strategy must be")

	cfg.Sourcing.Strategy = "balanced"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateBypassFraction(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "k"
	cfg.Outscraper.Key = "k"

	cfg.Sourcing.BypassFraction = 1.5
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sourcing.bypass_fraction must be between 0 and 1")

	cfg.Sourcing.BypassFraction = -0.1
	err = cfg.Validate("run")
	require.Error(t, err)

	cfg.Sourcing.BypassFraction = 1.0
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateFilterSets(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "k"
	cfg.Outscraper.Key = "k"

	cfg.Filter.MatchQuality = []string{"good", "excellent"}
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown level "excellent"`)

	cfg.Filter.MatchQuality = []string{"Good", "SO-SO"}
	cfg.Filter.RouteTypes = []string{"interstate"}
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown route "interstate"`)

	cfg.Filter.RouteTypes = []string{"Local", "OTR"}
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateClassifier(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "k"
	cfg.Outscraper.Key = "k"

	cfg.Classify.Classifier = "warehouse"
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify.classifier must be cdl or pathway")

	cfg.Classify.Classifier = "pathway"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "k"
	cfg.Outscraper.Key = "k"

	cfg.Pipeline.MaxConcurrentMarkets = 0
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_markets must be between 1 and 32")

	cfg.Pipeline.MaxConcurrentMarkets = 33
	err = cfg.Validate("run")
	require.Error(t, err)

	cfg.Pipeline.MaxConcurrentMarkets = 32
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateQualityThreshold(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "k"
	cfg.Outscraper.Key = "k"

	cfg.Pipeline.QualityThreshold = 1.2
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quality_threshold must be between 0 and 1")
}

func TestValidateMonitoring(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "k"
	cfg.Outscraper.Key = "k"

	cfg.Monitoring.FailureRateThreshold = 1.5
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.failure_rate_threshold must be between 0 and 1")

	cfg.Monitoring.FailureRateThreshold = 0.5
	cfg.Monitoring.CostThresholdUSD = -10
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.cost_threshold_usd must be >= 0")

	cfg.Monitoring.CostThresholdUSD = 100
	cfg.Monitoring.WebhookURL = "https://hooks.example.com/coach"
	cfg.Monitoring.LookbackWindowHours = 0
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.lookback_window_hours must be >= 1")

	cfg.Monitoring.LookbackWindowHours = 24
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "k"
	cfg.Outscraper.Key = "k"

	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateWatch(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "k"
	cfg.Outscraper.Key = "k"
	cfg.Sourcing.Markets = []string{"Dallas"}

	assert.NoError(t, cfg.Validate("watch"))

	cfg.Watch.Every = "whenever"
	err := cfg.Validate("watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch.every is not a duration")

	cfg.Watch.Every = ""
	cfg.Watch.Cron = ""
	err = cfg.Validate("watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch.every or watch.cron is required")

	cfg.Watch.Cron = "0 */6 * * *"
	cfg.Sourcing.Markets = nil
	err = cfg.Validate("watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sourcing.markets is required")
}

func TestValidateImport_SkipsAPIKeys(t *testing.T) {
	cfg := validDefaults()

	assert.NoError(t, cfg.Validate("import"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("enrich")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestMarketList(t *testing.T) {
	s := SourcingConfig{Markets: []string{" Dallas ", "", "Bay Area"}}
	assert.Equal(t, []string{"Dallas", "Bay Area"}, s.MarketList())

	assert.Nil(t, SourcingConfig{}.MarketList())
}
