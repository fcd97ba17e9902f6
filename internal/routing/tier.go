// Package routing selects a model tier for each request. A rule set
// classifies the request, escalation overrides beat rules, and the engine
// composes both while recording metrics. Rule sets are swapped atomically so
// configuration reloads never block the request path.
package routing

import "fmt"

// Tier is a capability and price band for backend models. Tiers are totally
// ordered: higher tiers are more capable and more expensive.
type Tier int

const (
	// TierSmall is the cheapest tier, for short lookups and simple queries.
	TierSmall Tier = iota

	// TierMedium handles explanation and comparison work.
	TierMedium

	// TierLarge is the most capable tier, for deep analysis and refactoring.
	TierLarge
)

// String returns the configuration name of the tier.
func (t Tier) String() string {
	switch t {
	case TierSmall:
		return "small"
	case TierMedium:
		return "medium"
	case TierLarge:
		return "large"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier maps a configuration name to a Tier.
func ParseTier(name string) (Tier, error) {
	switch name {
	case "small":
		return TierSmall, nil
	case "medium":
		return TierMedium, nil
	case "large":
		return TierLarge, nil
	default:
		return TierSmall, fmt.Errorf("unknown tier %q", name)
	}
}

// AllTiers lists the tiers in ascending capability order.
func AllTiers() []Tier {
	return []Tier{TierSmall, TierMedium, TierLarge}
}

// minTier returns the lower of two tiers.
func minTier(a, b Tier) Tier {
	if a < b {
		return a
	}
	return b
}
