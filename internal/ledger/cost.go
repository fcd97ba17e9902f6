// Package ledger prices model calls and keeps the append-only usage log that
// cost analytics are computed from.
package ledger

import (
	"signalhub/internal/config"
)

// Calculator prices model calls from the per-tier token rates.
type Calculator struct {
	tiers map[string]config.TierConfig
}

// NewCalculator builds a calculator from tier configuration.
func NewCalculator(tiers map[string]config.TierConfig) *Calculator {
	copied := make(map[string]config.TierConfig, len(tiers))
	for name, tc := range tiers {
		copied[name] = tc
	}
	return &Calculator{tiers: copied}
}

// Calculate returns the cost of a call in dollars. Unknown tiers price at
// zero.
func (c *Calculator) Calculate(tier string, inputTokens, outputTokens int) float64 {
	tc, ok := c.tiers[tier]
	if !ok {
		return 0
	}
	return float64(inputTokens)*tc.PricePer1KIn/1000 + float64(outputTokens)*tc.PricePer1KOut/1000
}

// LargestTierCost prices the same call on the most expensive configured
// tier. The difference against the actual cost is the routing saving.
func (c *Calculator) LargestTierCost(inputTokens, outputTokens int) float64 {
	var best float64
	for tier := range c.tiers {
		if cost := c.Calculate(tier, inputTokens, outputTokens); cost > best {
			best = cost
		}
	}
	return best
}
