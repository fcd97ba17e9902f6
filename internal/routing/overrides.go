package routing

import (
	"fmt"
	"regexp"

	"signalhub/internal/config"
)

// Override forces a tier when its pattern matches the query. Overrides beat
// every rule and are checked in declaration order.
type Override struct {
	Pattern *regexp.Regexp
	Tier    Tier
	Reason  string
}

// CompileOverrides compiles the configured override patterns. Patterns are
// matched case-insensitively.
func CompileOverrides(cfgs []config.OverrideConfig) ([]Override, error) {
	out := make([]Override, 0, len(cfgs))
	for _, oc := range cfgs {
		re, err := regexp.Compile("(?i)" + oc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("override pattern %q: %w", oc.Pattern, err)
		}
		tier, err := ParseTier(oc.Tier)
		if err != nil {
			return nil, fmt.Errorf("override pattern %q: %w", oc.Pattern, err)
		}
		out = append(out, Override{Pattern: re, Tier: tier, Reason: oc.Reason})
	}
	return out, nil
}

// matchOverride returns the first override whose pattern matches the query.
func matchOverride(overrides []Override, query string) (Override, bool) {
	for _, ov := range overrides {
		if ov.Pattern.MatchString(query) {
			return ov, true
		}
	}
	return Override{}, false
}
