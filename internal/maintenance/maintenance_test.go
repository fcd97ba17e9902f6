package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalhub/internal/cache"
	"signalhub/internal/config"
	"signalhub/internal/ledger"
	"signalhub/internal/metrics"
)

func newFixtures(t *testing.T, ttl time.Duration) (*cache.SemanticCache, *ledger.Ledger) {
	t.Helper()
	reg := metrics.NewRegistry()
	c := cache.New(cache.NewStore(cache.NewFlatIndex(), 100),
		cache.NewHashingEmbedder(cache.DefaultDimensions),
		cache.Options{Enabled: true, Threshold: 0.85, TTL: ttl}, reg)
	l := ledger.New(ledger.NewCalculator(config.Default().Tiers), nil, 16, reg)
	t.Cleanup(l.Close)
	return c, l
}

func TestNew_SchedulesJobs(t *testing.T) {
	c, l := newFixtures(t, time.Hour)
	s, err := New(c, l, 90)
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestSweepCache_RemovesExpiredEntries(t *testing.T) {
	c, l := newFixtures(t, time.Millisecond)
	s, err := New(c, l, 90)
	require.NoError(t, err)

	require.True(t, c.Store(context.Background(), "list handlers", "answer", "small", "", nil))
	time.Sleep(10 * time.Millisecond)

	s.SweepCache()
	assert.Equal(t, 0, c.Size())
}

func TestSweepCache_KeepsLiveEntries(t *testing.T) {
	c, l := newFixtures(t, time.Hour)
	s, err := New(c, l, 90)
	require.NoError(t, err)

	require.True(t, c.Store(context.Background(), "list handlers", "answer", "small", "", nil))

	s.SweepCache()
	assert.Equal(t, 1, c.Size())
}

func TestEnforceRetention_RemovesOldRecords(t *testing.T) {
	c, l := newFixtures(t, time.Hour)
	s, err := New(c, l, 30)
	require.NoError(t, err)

	l.Record(ledger.UsageRecord{ID: "old", Tier: "small", Timestamp: time.Now().AddDate(0, 0, -60)})
	l.Record(ledger.UsageRecord{ID: "fresh", Tier: "small"})
	l.Flush()

	s.EnforceRetention()
	assert.Equal(t, 1, l.Count())
}

func TestEnforceRetention_DisabledWithoutWindow(t *testing.T) {
	c, l := newFixtures(t, time.Hour)
	_, err := New(c, l, 0)
	require.NoError(t, err)
}
