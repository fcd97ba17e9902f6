package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalhub/internal/metrics"
)

// ewmaAlpha gives the hit-rate gauge an effective window of about a thousand
// requests.
const ewmaAlpha = 1.0 / 1000

// Hit is a successful cache lookup.
type Hit struct {
	EntryID  string
	Response string
	TierUsed string
	Score    float64
	Metadata map[string]string
}

// WarmEntry is one pre-seeded (query, response, tier) triple.
type WarmEntry struct {
	Query    string
	Response string
	Tier     string
}

// Options configure a SemanticCache.
type Options struct {
	Enabled      bool
	Threshold    float64
	TTL          time.Duration
	EmbedTimeout time.Duration
}

// SemanticCache composes the embedder and the store: it fingerprints queries,
// searches for close-enough prior answers, and writes fresh answers back.
// Cache failures are never fatal; a failed lookup is a miss and a failed
// store is a drop.
type SemanticCache struct {
	store    *Store
	embedder Embedder
	opts     Options

	mu      sync.Mutex
	hitRate float64 // EWMA, 1.0 = every request hits

	hits       *metrics.Counter
	misses     *metrics.Counter
	drops      *metrics.Counter
	similarity *metrics.Histogram
	rateGauge  *metrics.Gauge
	sizeGauge  *metrics.Gauge
}

// New creates a semantic cache over the given store and embedder.
func New(store *Store, embedder Embedder, opts Options, reg *metrics.Registry) *SemanticCache {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.85
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &SemanticCache{
		store:    store,
		embedder: embedder,
		opts:     opts,

		hits:       reg.NewCounter("cache_hits_total", "Cache lookups that returned a prior answer", "cache_type"),
		misses:     reg.NewCounter("cache_misses_total", "Cache lookups that found nothing close enough", "cache_type"),
		drops:      reg.NewCounter("cache_store_drops_total", "Cache writes that failed", "cache_type"),
		similarity: reg.NewHistogram("cache_hit_similarity", "Similarity scores of cache hits", []float64{0.85, 0.9, 0.95, 0.99, 1.0}),
		rateGauge:  reg.NewGauge("cache_hit_rate", "EWMA cache hit rate", "cache_type"),
		sizeGauge:  reg.NewGauge("cache_entries", "Entries currently cached", "cache_type"),
	}
}

// Enabled reports whether the cache serves lookups.
func (c *SemanticCache) Enabled() bool {
	return c.opts.Enabled
}

// Lookup returns a prior answer whose fingerprint scores at least the
// configured threshold against the query, or nil on a miss. A hit bumps the
// entry's hit count and the hit-rate gauge.
func (c *SemanticCache) Lookup(ctx context.Context, query, contextKey string) *Hit {
	if !c.opts.Enabled {
		return nil
	}

	vec, err := c.embed(ctx, query)
	if err != nil {
		log.Printf("[Cache] Lookup embedding failed, treating as miss: %v", err)
		c.recordMiss()
		return nil
	}

	results := c.store.SearchSimilar(vec, contextKey, c.opts.Threshold, 1)
	if len(results) == 0 {
		c.recordMiss()
		return nil
	}

	best := results[0]
	entry, ok := c.store.Touch(best.Entry.ID)
	if !ok {
		// Evicted between search and touch.
		c.recordMiss()
		return nil
	}

	c.hits.Inc("semantic")
	c.similarity.Observe(best.Score)
	c.updateRate(true)
	return &Hit{
		EntryID:  entry.ID,
		Response: entry.Response,
		TierUsed: entry.TierUsed,
		Score:    best.Score,
		Metadata: entry.Metadata,
	}
}

// Store caches a fresh answer. It reports false when the cache is disabled or
// the write could not be completed; failures are logged, never propagated.
func (c *SemanticCache) Store(ctx context.Context, query, response, tier, contextKey string, metadata map[string]string) bool {
	if !c.opts.Enabled {
		return false
	}

	vec, err := c.embed(ctx, query)
	if err != nil {
		log.Printf("[Cache] Store embedding failed, dropping entry: %v", err)
		c.drops.Inc("semantic")
		return false
	}

	now := time.Now()
	c.store.Add(Entry{
		ID:           uuid.NewString(),
		QueryText:    query,
		Fingerprint:  vec,
		ContextKey:   contextKey,
		Response:     response,
		TierUsed:     tier,
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.opts.TTL),
		LastAccessed: now,
		Metadata:     metadata,
	})
	c.sizeGauge.Set(float64(c.store.Size()), "semantic")
	return true
}

// Search is the diagnostic surface: top-k entries by similarity with no
// threshold or hit accounting.
func (c *SemanticCache) Search(ctx context.Context, query string, k int) ([]Scored, error) {
	vec, err := c.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return c.store.SearchSimilar(vec, "", -1, k), nil
}

// Warm bulk-inserts pre-seeded answers and returns how many were stored.
func (c *SemanticCache) Warm(ctx context.Context, entries []WarmEntry) int {
	stored := 0
	for _, w := range entries {
		if c.Store(ctx, w.Query, w.Response, w.Tier, "", nil) {
			stored++
		}
	}
	log.Printf("[Cache] Warmed %d/%d entries", stored, len(entries))
	return stored
}

// HitRate returns the EWMA hit rate in [0,1].
func (c *SemanticCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitRate
}

// CleanupExpired drops expired entries and refreshes the size gauge.
func (c *SemanticCache) CleanupExpired() int {
	removed := c.store.CleanupExpired()
	c.sizeGauge.Set(float64(c.store.Size()), "semantic")
	return removed
}

// Size returns the number of cached entries.
func (c *SemanticCache) Size() int {
	return c.store.Size()
}

func (c *SemanticCache) embed(ctx context.Context, query string) ([]float32, error) {
	if c.opts.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.EmbedTimeout)
		defer cancel()
	}
	return c.embedder.Embed(ctx, query)
}

func (c *SemanticCache) recordMiss() {
	c.misses.Inc("semantic")
	c.updateRate(false)
}

func (c *SemanticCache) updateRate(hit bool) {
	sample := 0.0
	if hit {
		sample = 1.0
	}
	c.mu.Lock()
	c.hitRate = c.hitRate*(1-ewmaAlpha) + sample*ewmaAlpha
	rate := c.hitRate
	c.mu.Unlock()
	c.rateGauge.Set(rate, "semantic")
}
