// Package cost prices the paid external calls a sourcing run makes:
// provider job searches and Claude classification tokens.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Searches  map[string]SearchRate `yaml:"searches" mapstructure:"searches"`
	Anthropic map[string]ModelRate  `yaml:"anthropic" mapstructure:"anthropic"`
}

// SearchRate prices one search request against a fresh-source provider.
// Providers bill per request whether or not it returns rows.
type SearchRate struct {
	PerSearch float64 `yaml:"per_search" mapstructure:"per_search"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for Claude token usage. Unknown models
// price at zero rather than guessing.
func (c *Calculator) Claude(model string, isBatch bool, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	batchMul := 1.0
	if isBatch {
		batchMul = rate.BatchDiscount
	}

	inCost := (float64(input) / 1e6) * rate.Input * batchMul
	outCost := (float64(output) / 1e6) * rate.Output * batchMul
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul * batchMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul * batchMul

	return inCost + outCost + cwCost + crCost
}

// Search computes the cost of n search requests against one provider.
func (c *Calculator) Search(provider string, searches int) float64 {
	return c.rates.Searches[provider].PerSearch * float64(searches)
}

// SearchTotal totals search spend across providers.
func (c *Calculator) SearchTotal(byProvider map[string]int) float64 {
	var total float64
	for provider, n := range byProvider {
		total += c.Search(provider, n)
	}
	return total
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Searches: map[string]SearchRate{
			"outscraper": {PerSearch: 0.005},
			"serpjobs":   {PerSearch: 0.015},
		},
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}

// RatesWith overlays per-search price overrides onto the defaults.
// Providers absent from the override map keep their default rate.
func RatesWith(perSearch map[string]float64) Rates {
	rates := DefaultRates()
	for provider, price := range perSearch {
		rates.Searches[provider] = SearchRate{PerSearch: price}
	}
	return rates
}
