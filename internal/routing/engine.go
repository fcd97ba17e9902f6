package routing

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"signalhub/internal/config"
	"signalhub/internal/metrics"
)

// Selection is the routing outcome for one request.
type Selection struct {
	// Tier is the tier the request should be sent to.
	Tier Tier

	// Decision carries the confidence and reasoning behind the selection.
	Decision Decision

	// Overridden is true when an escalation or pattern override beat the
	// rules.
	Overridden bool

	// Query is the query text to pass downstream, with any inline escalation
	// hint removed.
	Query string
}

// Availability reports whether a tier's backend can currently take traffic.
type Availability func(Tier) bool

// ruleSet is the immutable unit of hot reload: rules, overrides, and the
// default tier swap together.
type ruleSet struct {
	rules       []Rule
	overrides   []Override
	defaultTier Tier
}

// Engine composes escalation, overrides, and rules into tier selections.
// The active rule set is behind an atomic pointer so Route never locks and
// reloads never stall the request path.
type Engine struct {
	set       atomic.Pointer[ruleSet]
	escalator *Escalator
	available Availability
	verbose   bool

	ruleHits  *metrics.Counter
	decisions *metrics.Counter
	overrides *metrics.Counter
	fallbacks *metrics.Counter
	latency   *metrics.Histogram
}

// NewEngine builds an engine from configuration. The availability check may
// be nil, in which case every tier is considered available.
func NewEngine(cfg *config.Config, reg *metrics.Registry, available Availability) (*Engine, error) {
	e := &Engine{
		escalator: NewEscalator(),
		available: available,
		verbose:   cfg.Debug.VerboseLogging,

		ruleHits:  reg.NewCounter("routing_rule_hits_total", "Routing rule matches", "rule"),
		decisions: reg.NewCounter("routing_decisions_total", "Routing decisions by tier", "tier"),
		overrides: reg.NewCounter("routing_overrides_total", "Routing overrides by source", "source"),
		fallbacks: reg.NewCounter("routing_fallbacks_total", "Downgrades due to unavailable tiers"),
		latency:   reg.NewHistogram("routing_latency_ms", "Routing decision latency", metrics.DefaultLatencyBuckets),
	}
	if err := e.Reload(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload compiles and atomically installs a new rule set from configuration.
// In-flight Route calls keep using the set they started with.
func (e *Engine) Reload(cfg *config.Config) error {
	rules, err := BuildRules(cfg.Rules)
	if err != nil {
		return fmt.Errorf("failed to build rules: %w", err)
	}
	overrides, err := CompileOverrides(cfg.Overrides)
	if err != nil {
		return fmt.Errorf("failed to compile overrides: %w", err)
	}
	defaultTier, err := ParseTier(cfg.DefaultTier)
	if err != nil {
		return err
	}
	e.set.Store(&ruleSet{rules: rules, overrides: overrides, defaultTier: defaultTier})
	return nil
}

// Escalator exposes the session override surface.
func (e *Engine) Escalator() *Escalator {
	return e.escalator
}

// Route selects a tier for the request. Escalations win, then pattern
// overrides, then rules by confidence; an unavailable tier falls back to the
// default tier (never upward).
func (e *Engine) Route(in Input) Selection {
	start := time.Now()
	defer func() {
		e.latency.Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()

	set := e.set.Load()

	if esc, stripped := e.escalator.Resolve(in); esc != nil {
		e.overrides.Inc(esc.Source)
		sel := Selection{
			Tier: esc.Tier,
			Decision: Decision{
				Tier:       esc.Tier,
				Confidence: 1.0,
				Reason:     esc.Reason,
			},
			Overridden: true,
			Query:      stripped,
		}
		return e.finish(set, sel)
	}

	if ov, ok := matchOverride(set.overrides, in.Query); ok {
		e.overrides.Inc("pattern")
		sel := Selection{
			Tier: ov.Tier,
			Decision: Decision{
				Tier:       ov.Tier,
				Confidence: 1.0,
				Reason:     ov.Reason,
			},
			Overridden: true,
			Query:      in.Query,
		}
		return e.finish(set, sel)
	}

	var best *Decision
	for _, rule := range set.rules {
		decision, err := rule.Evaluate(in)
		if err != nil {
			// Rule failures are never fatal to the request.
			log.Printf("[Routing] Rule %s failed for request: %v", rule.Name(), err)
			continue
		}
		if decision == nil {
			continue
		}
		e.ruleHits.Inc(rule.Name())
		if best == nil || decision.Confidence > best.Confidence {
			best = decision
		}
		if best.Confidence >= 0.95 {
			break
		}
	}

	if best == nil {
		best = &Decision{
			Tier:       set.defaultTier,
			Confidence: 0.5,
			Reason:     "no rule matched, using default tier",
		}
	}

	return e.finish(set, Selection{Tier: best.Tier, Decision: *best, Query: in.Query})
}

// finish applies the availability fallback and records decision metrics.
func (e *Engine) finish(set *ruleSet, sel Selection) Selection {
	if e.available != nil && !e.available(sel.Tier) {
		fallback := minTier(set.defaultTier, sel.Tier)
		if fallback != sel.Tier {
			e.fallbacks.Inc()
			sel.Decision.Reason = fmt.Sprintf("%s; %s unavailable, falling back to %s",
				sel.Decision.Reason, sel.Tier, fallback)
			sel.Tier = fallback
			sel.Decision.Tier = fallback
			sel.Decision.Confidence *= 0.8
		}
	}

	e.decisions.Inc(sel.Tier.String())
	if e.verbose {
		log.Printf("[Routing] Selected %s (confidence %.2f): %s",
			sel.Tier, sel.Decision.Confidence, sel.Decision.Reason)
	}
	return sel
}
