package cost

import (
	"github.com/shopspring/decimal"
)

// costScale is the number of decimal places kept on USD amounts.
const costScale = 6

// ModelRate holds per-model token pricing in USD per 1K tokens.
type ModelRate struct {
	InputPer1K  float64 `yaml:"input_per_1k" mapstructure:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" mapstructure:"output_per_1k"`
}

// Rates holds the static price table. Unknown models fall back to
// DefaultModel's pricing; this is a deliberate approximation, not an
// external price lookup.
type Rates struct {
	DefaultModel string               `yaml:"default_model" mapstructure:"default_model"`
	Models       map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// Calculator computes USD costs for provider token usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	if rates.Models == nil {
		rates.Models = map[string]ModelRate{}
	}
	return &Calculator{rates: rates}
}

// Completion computes round((prompt*input + completion*output)/1000, 6).
func (c *Calculator) Completion(model string, promptTokens, completionTokens int) decimal.Decimal {
	rate := c.rate(model)
	in := decimal.NewFromInt(int64(promptTokens)).Mul(decimal.NewFromFloat(rate.InputPer1K))
	out := decimal.NewFromInt(int64(completionTokens)).Mul(decimal.NewFromFloat(rate.OutputPer1K))
	return in.Add(out).Div(decimal.NewFromInt(1000)).Round(costScale)
}

// Embedding computes the cost of an embedding call. Embedding models bill
// input tokens only.
func (c *Calculator) Embedding(model string, tokens int) decimal.Decimal {
	rate := c.rate(model)
	return decimal.NewFromInt(int64(tokens)).
		Mul(decimal.NewFromFloat(rate.InputPer1K)).
		Div(decimal.NewFromInt(1000)).
		Round(costScale)
}

func (c *Calculator) rate(model string) ModelRate {
	if r, ok := c.rates.Models[model]; ok {
		return r
	}
	return c.rates.Models[c.rates.DefaultModel]
}

// DefaultRates returns the built-in price table (USD per 1K tokens).
func DefaultRates() Rates {
	return Rates{
		DefaultModel: "gpt-4o-mini",
		Models: map[string]ModelRate{
			"gpt-4o":                 {InputPer1K: 0.0025, OutputPer1K: 0.01},
			"gpt-4o-mini":            {InputPer1K: 0.00015, OutputPer1K: 0.0006},
			"text-embedding-3-small": {InputPer1K: 0.00002},
			"text-embedding-3-large": {InputPer1K: 0.00013},
		},
	}
}
