package ratelimit

import (
	"fmt"
	"log"
	"time"

	"signalhub/internal/config"
	"signalhub/internal/metrics"
)

// AnonymousKey is the shared key used when a request carries no client id.
const AnonymousKey = "anonymous"

// ExceededError reports that a key is over its limit. The coordinator maps
// it to a protocol-level rate limit error with a retry_after hint.
type ExceededError struct {
	Key        string
	Limit      int
	Current    int
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d/%d in window, retry after %s",
		e.Key, e.Current, e.Limit, e.RetryAfter.Round(time.Second))
}

// Limiter enforces per-client sliding-window limits. Limit resolution per
// request: per-key override, then per-tier limit, then the default.
type Limiter struct {
	backend Backend
	cfg     config.RateLimitConfig

	allowed  *metrics.Counter
	rejected *metrics.Counter
}

// NewLimiter creates a limiter over the given backend.
func NewLimiter(backend Backend, cfg config.RateLimitConfig, reg *metrics.Registry) *Limiter {
	return &Limiter{
		backend:  backend,
		cfg:      cfg,
		allowed:  reg.NewCounter("ratelimit_allowed_total", "Requests admitted"),
		rejected: reg.NewCounter("ratelimit_rejected_total", "Requests rejected", "key"),
	}
}

// Allow admits cost units for the key or returns an *ExceededError. An empty
// key falls back to the shared anonymous key. A nil return means admitted and
// recorded. Backend failures fail open: availability beats strict limiting.
func (l *Limiter) Allow(key, tier string, cost int) error {
	if !l.cfg.Enabled {
		return nil
	}
	if key == "" {
		key = AnonymousKey
	}
	if cost <= 0 {
		cost = 1
	}

	limit := l.limitFor(key, tier)
	window := l.cfg.Window()

	// Check and record are one backend operation; a split read-then-write
	// would let concurrent requests for the same key slip past the limit.
	admitted, usage, reset, err := l.backend.TryAcquire(key, cost, limit, window)
	if err != nil {
		log.Printf("[RateLimit] Backend acquire failed for %s, admitting: %v", key, err)
		return nil
	}
	if !admitted {
		retryAfter := time.Until(reset)
		if retryAfter <= 0 {
			retryAfter = window
		}
		l.rejected.Inc(key)
		return &ExceededError{Key: key, Limit: limit, Current: usage, RetryAfter: retryAfter}
	}
	l.allowed.Inc()
	return nil
}

// Reset clears usage for a key.
func (l *Limiter) Reset(key string) error {
	if key == "" {
		key = AnonymousKey
	}
	return l.backend.Reset(key)
}

// limitFor resolves the effective limit for a key and tier.
func (l *Limiter) limitFor(key, tier string) int {
	if limit, ok := l.cfg.KeyOverrides[key]; ok {
		return limit
	}
	if limit, ok := l.cfg.TierLimits[tier]; ok {
		return limit
	}
	return l.cfg.DefaultLimit
}
