package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalhub/internal/config"
	"signalhub/internal/metrics"
)

func newTestLimiter(t *testing.T, cfg config.RateLimitConfig) (*Limiter, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend(cfg.Window(), time.Minute)
	t.Cleanup(backend.Close)
	return NewLimiter(backend, cfg, metrics.NewRegistry()), backend
}

func TestLimiter_AdmitsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(t, config.RateLimitConfig{
		Enabled: true, WindowSeconds: 60, DefaultLimit: 2,
	})

	require.NoError(t, l.Allow("c1", "small", 1))
	require.NoError(t, l.Allow("c1", "small", 1))

	err := l.Allow("c1", "small", 1)
	require.Error(t, err)

	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, "c1", exceeded.Key)
	assert.Equal(t, 2, exceeded.Limit)
	assert.Equal(t, 2, exceeded.Current)
	assert.Greater(t, exceeded.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, exceeded.RetryAfter, time.Minute)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, config.RateLimitConfig{
		Enabled: true, WindowSeconds: 60, DefaultLimit: 1,
	})

	require.NoError(t, l.Allow("c1", "small", 1))
	require.NoError(t, l.Allow("c2", "small", 1))
	assert.Error(t, l.Allow("c1", "small", 1))
}

func TestLimiter_AnonymousFallbackKey(t *testing.T) {
	l, _ := newTestLimiter(t, config.RateLimitConfig{
		Enabled: true, WindowSeconds: 60, DefaultLimit: 1,
	})

	require.NoError(t, l.Allow("", "small", 1))
	err := l.Allow("", "small", 1)
	require.Error(t, err)

	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, AnonymousKey, exceeded.Key)
}

func TestLimiter_LimitResolutionOrder(t *testing.T) {
	l, _ := newTestLimiter(t, config.RateLimitConfig{
		Enabled: true, WindowSeconds: 60, DefaultLimit: 10,
		TierLimits:   map[string]int{"large": 2},
		KeyOverrides: map[string]int{"vip": 100},
	})

	assert.Equal(t, 100, l.limitFor("vip", "large"))
	assert.Equal(t, 2, l.limitFor("c1", "large"))
	assert.Equal(t, 10, l.limitFor("c1", "small"))
}

func TestLimiter_DisabledAdmitsEverything(t *testing.T) {
	l, _ := newTestLimiter(t, config.RateLimitConfig{
		Enabled: false, WindowSeconds: 60, DefaultLimit: 1,
	})

	for i := 0; i < 10; i++ {
		assert.NoError(t, l.Allow("c1", "small", 1))
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, WindowSeconds: 60, DefaultLimit: 1}
	backend := NewMemoryBackend(cfg.Window(), time.Minute)
	t.Cleanup(backend.Close)
	now := time.Now()
	backend.now = func() time.Time { return now }

	l := NewLimiter(backend, cfg, metrics.NewRegistry())

	require.NoError(t, l.Allow("c1", "small", 1))
	assert.Error(t, l.Allow("c1", "small", 1))

	// Once the first event ages out, the key is admitted again.
	now = now.Add(61 * time.Second)
	assert.NoError(t, l.Allow("c1", "small", 1))
}

func TestLimiter_NeverAdmitsOverLimitWithinWindow(t *testing.T) {
	l, _ := newTestLimiter(t, config.RateLimitConfig{
		Enabled: true, WindowSeconds: 3600, DefaultLimit: 25,
	})

	admitted := 0
	for i := 0; i < 100; i++ {
		if l.Allow("c1", "small", 1) == nil {
			admitted++
		}
	}
	assert.Equal(t, 25, admitted)
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(t, config.RateLimitConfig{
		Enabled: true, WindowSeconds: 60, DefaultLimit: 1,
	})

	require.NoError(t, l.Allow("c1", "small", 1))
	require.Error(t, l.Allow("c1", "small", 1))

	require.NoError(t, l.Reset("c1"))
	assert.NoError(t, l.Allow("c1", "small", 1))
}

func TestLimiter_CostCountsAgainstLimit(t *testing.T) {
	l, _ := newTestLimiter(t, config.RateLimitConfig{
		Enabled: true, WindowSeconds: 60, DefaultLimit: 10,
	})

	require.NoError(t, l.Allow("c1", "small", 7))
	require.NoError(t, l.Allow("c1", "small", 3))
	assert.Error(t, l.Allow("c1", "small", 1))
}

func TestLimiter_ConcurrentAdmissionStaysUnderLimit(t *testing.T) {
	const limit = 50
	l, _ := newTestLimiter(t, config.RateLimitConfig{
		Enabled: true, WindowSeconds: 3600, DefaultLimit: limit,
	})

	// 256 requests burst through a start barrier against a limit of 50.
	start := make(chan struct{})
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 4; j++ {
				if l.Allow("c1", "small", 1) == nil {
					admitted.Add(1)
				}
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())

	usage, _, err := l.backend.GetUsage("c1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, limit, usage)
}

func TestMemoryBackend_UsageAndReset(t *testing.T) {
	b := NewMemoryBackend(time.Minute, time.Minute)
	t.Cleanup(b.Close)

	ok, _, _, err := b.TryAcquire("k", 2, 100, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, _, _, err = b.TryAcquire("k", 3, 100, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	usage, reset, err := b.GetUsage("k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5, usage)
	assert.False(t, reset.IsZero())

	require.NoError(t, b.Reset("k"))
	usage, reset, err = b.GetUsage("k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, usage)
	assert.True(t, reset.IsZero())
}

func TestMemoryBackend_RejectedAcquireRecordsNothing(t *testing.T) {
	b := NewMemoryBackend(time.Minute, time.Minute)
	t.Cleanup(b.Close)

	ok, _, _, err := b.TryAcquire("k", 1, 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, usage, _, err := b.TryAcquire("k", 1, 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, usage)

	total, _, err := b.GetUsage("k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestMemoryBackend_DropsIdleBuckets(t *testing.T) {
	b := NewMemoryBackend(time.Minute, time.Minute)
	t.Cleanup(b.Close)
	now := time.Now()
	b.now = func() time.Time { return now }

	_, _, _, err := b.TryAcquire("k", 1, 100, time.Minute)
	require.NoError(t, err)

	now = now.Add(3 * time.Minute)
	b.dropIdleBuckets()

	_, ok := b.buckets.Load("k")
	assert.False(t, ok)
}

func TestExceededError_Message(t *testing.T) {
	err := &ExceededError{Key: "c1", Limit: 2, Current: 2, RetryAfter: 30 * time.Second}
	msg := err.Error()
	assert.Contains(t, msg, "c1")
	assert.Contains(t, msg, fmt.Sprintf("%d/%d", 2, 2))
}
