package routing

import (
	"fmt"
	"sort"
	"strings"

	"signalhub/internal/config"
)

// Input is the routing view of a request: the fields rules are allowed to
// inspect. The engine builds one per request and rules never see anything
// else.
type Input struct {
	// Method is the JSON-RPC method name.
	Method string

	// Tool is the tool name for tools/call requests, empty otherwise.
	Tool string

	// Query is the natural-language query text, after escalation hints have
	// been stripped.
	Query string

	// ContextTokens is the token count of retrieved code context attached to
	// the request.
	ContextTokens int

	// PreferredTier is the client's explicit tier request, if any.
	PreferredTier string

	// SessionID groups requests for session-wide escalation.
	SessionID string

	// ClientID identifies the caller for rate limiting and the ledger.
	ClientID string
}

// Decision is the outcome of rule evaluation for one request.
type Decision struct {
	Tier         Tier     `json:"tier"`
	Confidence   float64  `json:"confidence"`
	Reason       string   `json:"reason"`
	RulesApplied []string `json:"rules_applied,omitempty"`
}

// Rule classifies a request into a tier. Evaluate returns (nil, nil) when the
// rule has no opinion about the request. Rules are stateless and safe for
// concurrent use.
type Rule interface {
	Name() string
	Priority() int
	Evaluate(in Input) (*Decision, error)
}

// BuildRules compiles rule configurations into evaluators, dropping disabled
// rules and sorting by ascending priority.
func BuildRules(cfgs []config.RuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(cfgs))
	for _, rc := range cfgs {
		if !rc.Enabled {
			continue
		}
		rule, err := buildRule(rc)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		rules = append(rules, rule)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority() < rules[j].Priority()
	})
	return rules, nil
}

func buildRule(rc config.RuleConfig) (Rule, error) {
	switch rc.Kind {
	case "length":
		if rc.SmallMax <= 0 || rc.MediumMax <= rc.SmallMax {
			return nil, fmt.Errorf("invalid length thresholds small_max=%d medium_max=%d", rc.SmallMax, rc.MediumMax)
		}
		return &lengthRule{name: rc.Name, priority: rc.Priority, smallMax: rc.SmallMax, mediumMax: rc.MediumMax}, nil
	case "complexity":
		r := &complexityRule{name: rc.Name, priority: rc.Priority, indicators: make(map[Tier][]string)}
		for tierName, words := range rc.Indicators {
			tier, err := ParseTier(tierName)
			if err != nil {
				return nil, err
			}
			lowered := make([]string, len(words))
			for i, w := range words {
				lowered[i] = strings.ToLower(w)
			}
			r.indicators[tier] = lowered
		}
		return r, nil
	case "task_type":
		r := &taskTypeRule{name: rc.Name, priority: rc.Priority, mappings: make(map[string]Tier)}
		for task, tierName := range rc.Mappings {
			tier, err := ParseTier(tierName)
			if err != nil {
				return nil, err
			}
			r.mappings[task] = tier
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown rule kind %q", rc.Kind)
	}
}

// EstimateTokens approximates the token count of text: one token per four
// characters, rounded up, plus any retrieved-context tokens.
func EstimateTokens(text string, contextTokens int) int {
	return (len(text)+3)/4 + contextTokens
}

// lengthRule routes by estimated token count.
type lengthRule struct {
	name      string
	priority  int
	smallMax  int
	mediumMax int
}

func (r *lengthRule) Name() string  { return r.name }
func (r *lengthRule) Priority() int { return r.priority }

func (r *lengthRule) Evaluate(in Input) (*Decision, error) {
	est := EstimateTokens(in.Query, in.ContextTokens)

	var tier Tier
	var conf float64
	switch {
	case est <= r.smallMax:
		tier = TierSmall
		// Confidence falls as the estimate approaches the small/medium
		// boundary.
		conf = 1 - float64(est)/float64(r.smallMax)
	case est <= r.mediumMax:
		tier = TierMedium
		// Most confident in the middle of the band, least at either boundary.
		mid := float64(r.smallMax+r.mediumMax) / 2
		width := float64(r.mediumMax - r.smallMax)
		conf = 1 - abs(float64(est)-mid)/width
	default:
		tier = TierLarge
		conf = 1 - float64(r.mediumMax)/float64(est)
	}

	return &Decision{
		Tier:         tier,
		Confidence:   clampConfidence(conf),
		Reason:       fmt.Sprintf("length threshold: ~%d tokens", est),
		RulesApplied: []string{r.name},
	}, nil
}

// complexityRule routes by indicator keywords found in the query.
type complexityRule struct {
	name       string
	priority   int
	indicators map[Tier][]string
}

func (r *complexityRule) Name() string  { return r.name }
func (r *complexityRule) Priority() int { return r.priority }

func (r *complexityRule) Evaluate(in Input) (*Decision, error) {
	query := strings.ToLower(in.Query)

	// Highest matched tier wins; its own hit count drives confidence.
	matched := false
	var tier Tier
	var hits int
	for _, t := range AllTiers() {
		count := 0
		for _, word := range r.indicators[t] {
			if strings.Contains(query, word) {
				count++
			}
		}
		if count > 0 {
			matched = true
			tier = t
			hits = count
		}
	}
	if !matched {
		return nil, nil
	}

	conf := 0.6 + 0.1*float64(hits)
	if conf > 0.9 {
		conf = 0.9
	}
	return &Decision{
		Tier:         tier,
		Confidence:   conf,
		Reason:       fmt.Sprintf("complexity keywords: %d %s indicator(s)", hits, tier),
		RulesApplied: []string{r.name},
	}, nil
}

// taskTypeRule routes by the method or tool name.
type taskTypeRule struct {
	name     string
	priority int
	mappings map[string]Tier
}

func (r *taskTypeRule) Name() string  { return r.name }
func (r *taskTypeRule) Priority() int { return r.priority }

func (r *taskTypeRule) Evaluate(in Input) (*Decision, error) {
	task := in.Tool
	if task == "" {
		task = in.Method
	}
	tier, ok := r.mappings[task]
	if !ok {
		return nil, nil
	}
	return &Decision{
		Tier:         tier,
		Confidence:   0.95,
		Reason:       fmt.Sprintf("task type: %s", task),
		RulesApplied: []string{r.name},
	}, nil
}

func clampConfidence(c float64) float64 {
	if c < 0.6 {
		return 0.6
	}
	if c > 0.95 {
		return 0.95
	}
	return c
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
