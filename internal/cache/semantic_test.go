package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalhub/internal/metrics"
)

// stubEmbedder returns canned vectors per query so tests can dial in exact
// similarity scores.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }

func newTestCache(t *testing.T, embedder Embedder, opts Options) (*SemanticCache, *metrics.Registry) {
	t.Helper()
	reg := metrics.NewRegistry()
	store := NewStore(NewFlatIndex(), 100)
	return New(store, embedder, opts, reg), reg
}

func TestSemanticCache_ExactMatchAlwaysHits(t *testing.T) {
	c, _ := newTestCache(t, NewHashingEmbedder(64), Options{Enabled: true, Threshold: 0.85})
	ctx := context.Background()

	require.True(t, c.Store(ctx, "how do I open a file in Python?", "use open()", "small", "", nil))

	hit := c.Lookup(ctx, "how do I open a file in Python?", "")
	require.NotNil(t, hit)
	assert.Equal(t, "use open()", hit.Response)
	assert.InDelta(t, 1.0, hit.Score, 1e-6)
}

func TestSemanticCache_ExactMatchHitsAtMaxThreshold(t *testing.T) {
	c, _ := newTestCache(t, NewHashingEmbedder(64), Options{Enabled: true, Threshold: 1.0})
	ctx := context.Background()

	require.True(t, c.Store(ctx, "how do I open a file in Python?", "use open()", "small", "", nil))

	// A repeated query must hit even at the strictest threshold, where
	// fingerprint rounding alone could otherwise push the score below 1.
	hit := c.Lookup(ctx, "how do I open a file in Python?", "")
	require.NotNil(t, hit)
	assert.Equal(t, "use open()", hit.Response)
}

func TestSemanticCache_SimilarPhrasingHits(t *testing.T) {
	c, reg := newTestCache(t, NewHashingEmbedder(256), Options{Enabled: true, Threshold: 0.85})
	ctx := context.Background()

	require.True(t, c.Store(ctx, "how do I open a file in Python?", "use open()", "small", "", nil))

	hit := c.Lookup(ctx, "how to open a file in Python", "")
	require.NotNil(t, hit)
	assert.Equal(t, "use open()", hit.Response)
	assert.GreaterOrEqual(t, hit.Score, 0.85)
	assert.Equal(t, "small", hit.TierUsed)

	hits := reg.NewCounter("cache_hits_total", "", "cache_type")
	assert.Equal(t, 1.0, hits.Value("semantic"))
}

func TestSemanticCache_HitBumpsHitCount(t *testing.T) {
	reg := metrics.NewRegistry()
	store := NewStore(NewFlatIndex(), 100)
	c := New(store, NewHashingEmbedder(64), Options{Enabled: true, Threshold: 0.85}, reg)
	ctx := context.Background()

	c.Store(ctx, "query one", "answer", "small", "", nil)
	hit := c.Lookup(ctx, "query one", "")
	require.NotNil(t, hit)

	entry, ok := store.Get(hit.EntryID)
	require.True(t, ok)
	assert.Equal(t, 1, entry.HitCount)
}

func TestSemanticCache_MissUnderThreshold(t *testing.T) {
	// 0.6 cosine between the stored and probed vectors, below the 0.85
	// threshold.
	emb := &stubEmbedder{vectors: map[string][]float32{
		"stored": {1, 0, 0},
		"probe":  {0.6, 0.8, 0},
	}}
	c, reg := newTestCache(t, emb, Options{Enabled: true, Threshold: 0.85})
	ctx := context.Background()

	require.True(t, c.Store(ctx, "stored", "answer", "small", "", nil))

	assert.Nil(t, c.Lookup(ctx, "probe", ""))

	misses := reg.NewCounter("cache_misses_total", "", "cache_type")
	assert.Equal(t, 1.0, misses.Value("semantic"))
	// The miss did not write anything.
	assert.Equal(t, 1, c.Size())
}

func TestSemanticCache_DisabledNeverHitsOrStores(t *testing.T) {
	c, _ := newTestCache(t, NewHashingEmbedder(64), Options{Enabled: false})
	ctx := context.Background()

	assert.False(t, c.Store(ctx, "q", "a", "small", "", nil))
	assert.Nil(t, c.Lookup(ctx, "q", ""))
	assert.Equal(t, 0, c.Size())
}

func TestSemanticCache_EmbedFailureIsAMiss(t *testing.T) {
	emb := &stubEmbedder{err: errors.New("embedder down")}
	c, _ := newTestCache(t, emb, Options{Enabled: true})
	ctx := context.Background()

	assert.Nil(t, c.Lookup(ctx, "q", ""))
	assert.False(t, c.Store(ctx, "q", "a", "small", "", nil))
}

func TestSemanticCache_ContextKeySeparation(t *testing.T) {
	c, _ := newTestCache(t, NewHashingEmbedder(64), Options{Enabled: true, Threshold: 0.85})
	ctx := context.Background()

	c.Store(ctx, "what does this function do", "it parses", "small", ContextKey("parse.go"), nil)

	assert.Nil(t, c.Lookup(ctx, "what does this function do", ContextKey("render.go")))
	assert.NotNil(t, c.Lookup(ctx, "what does this function do", ContextKey("parse.go")))
}

func TestSemanticCache_Warm(t *testing.T) {
	c, _ := newTestCache(t, NewHashingEmbedder(64), Options{Enabled: true})
	ctx := context.Background()

	stored := c.Warm(ctx, []WarmEntry{
		{Query: "q1", Response: "a1", Tier: "small"},
		{Query: "q2", Response: "a2", Tier: "medium"},
	})
	assert.Equal(t, 2, stored)
	assert.Equal(t, 2, c.Size())

	hit := c.Lookup(ctx, "q2", "")
	require.NotNil(t, hit)
	assert.Equal(t, "a2", hit.Response)
}

func TestSemanticCache_SearchDiagnostic(t *testing.T) {
	c, _ := newTestCache(t, NewHashingEmbedder(64), Options{Enabled: true})
	ctx := context.Background()

	c.Store(ctx, "open a file", "a1", "small", "", nil)
	c.Store(ctx, "close a socket", "a2", "small", "", nil)

	results, err := c.Search(ctx, "open a file", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a1", results[0].Entry.Response)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSemanticCache_HitRateMovesWithTraffic(t *testing.T) {
	c, _ := newTestCache(t, NewHashingEmbedder(64), Options{Enabled: true})
	ctx := context.Background()

	assert.Equal(t, 0.0, c.HitRate())

	c.Store(ctx, "q", "a", "small", "", nil)
	c.Lookup(ctx, "q", "")
	afterHit := c.HitRate()
	assert.Greater(t, afterHit, 0.0)

	c.Lookup(ctx, "completely unrelated zebra xylophone", "")
	assert.Less(t, c.HitRate(), afterHit)
}

func TestSemanticCache_TTLExpiry(t *testing.T) {
	reg := metrics.NewRegistry()
	store := NewStore(NewFlatIndex(), 100)
	now := time.Now()
	store.now = func() time.Time { return now }
	c := New(store, NewHashingEmbedder(64), Options{Enabled: true, TTL: time.Hour}, reg)
	ctx := context.Background()

	c.Store(ctx, "q", "a", "small", "", nil)

	store.now = func() time.Time { return now.Add(2 * time.Hour) }
	assert.Nil(t, c.Lookup(ctx, "q", ""))
	assert.Equal(t, 0, c.CleanupExpired())
}
