// Package billing prices LLM calls, selects the model a member can afford and
// settles charges against the credit ledger exactly once per attempt.
package billing

import (
	"math"

	"github.com/hitlflow/hitlflow/internal/domain"
)

const perMillion = 1_000_000.0

// Pricing is the per-1M-token price snapshot of one model.
type Pricing struct {
	ModelID         int64
	Model           string
	InputPer1M      float64
	OutputPer1M     float64
	CacheWritePer1M float64
	CacheReadPer1M  float64
}

// PricingFor snapshots the prices of m.
func PricingFor(m domain.AIModel) Pricing {
	return Pricing{
		ModelID:         m.ID,
		Model:           m.Name,
		InputPer1M:      m.InputCostPer1M,
		OutputPer1M:     m.OutputCostPer1M,
		CacheWritePer1M: m.CacheWriteCostPer1M,
		CacheReadPer1M:  m.CacheReadCostPer1M,
	}
}

// ComputeCost prices actual usage. It is pure; nothing is debited.
func ComputeCost(p Pricing, u domain.TokenUsage) float64 {
	cost := float64(u.OutputTokens)*p.OutputPer1M +
		float64(u.CacheReadTokens)*p.CacheReadPer1M +
		float64(u.CacheWriteTokens)*p.CacheWritePer1M +
		float64(u.InputTokens)*p.InputPer1M
	return Round6(cost / perMillion)
}

// EstimateCost prices a pre-check estimate from input and output tokens only.
func EstimateCost(p Pricing, est Estimate) float64 {
	return float64(est.InputTokens)/perMillion*p.InputPer1M +
		float64(est.OutputTokens)/perMillion*p.OutputPer1M
}

// Round6 rounds to six decimal places, the ledger's precision.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Estimate is the token guess made before a call.
type Estimate struct {
	InputTokens  int64
	OutputTokens int64
}

// EstimateFromText estimates input tokens as len/4 of text.
func EstimateFromText(text string, output int64) Estimate {
	return Estimate{InputTokens: int64(len(text) / 4), OutputTokens: output}
}

// Pre-check estimates per call kind.
var (
	EstimateResume = Estimate{OutputTokens: 2000}
	EstimateBatch  = Estimate{InputTokens: 2000, OutputTokens: 1000}
)

// DefaultOutputEstimate is the output guess for a fresh content or chat call.
const DefaultOutputEstimate int64 = 1000
