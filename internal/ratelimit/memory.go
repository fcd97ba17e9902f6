package ratelimit

import (
	"sync"
	"time"
)

// event is one admitted request with its cost.
type event struct {
	at   time.Time
	cost int
}

// bucket holds one key's events under its own lock.
type bucket struct {
	mu         sync.Mutex
	events     []event
	lastAccess time.Time
}

// MemoryBackend keeps sliding-window usage in process memory with per-key
// locking. A background loop drops buckets that have gone quiet so long-lived
// processes do not accumulate dead keys.
type MemoryBackend struct {
	buckets sync.Map // string -> *bucket

	maxWindow   time.Duration
	cleanupTick *time.Ticker
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryBackend creates a backend whose cleanup loop runs every
// cleanupInterval and drops buckets idle for twice maxWindow.
func NewMemoryBackend(maxWindow, cleanupInterval time.Duration) *MemoryBackend {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	b := &MemoryBackend{
		maxWindow:   maxWindow,
		cleanupTick: time.NewTicker(cleanupInterval),
		stop:        make(chan struct{}),
		now:         time.Now,
	}
	b.wg.Add(1)
	go b.cleanupLoop()
	return b
}

// TryAcquire checks and records under one bucket lock, so concurrent callers
// for the same key serialize and the window total never exceeds the limit.
func (b *MemoryBackend) TryAcquire(key string, cost, limit int, window time.Duration) (bool, int, time.Time, error) {
	v, _ := b.buckets.LoadOrStore(key, &bucket{})
	bk := v.(*bucket)

	bk.mu.Lock()
	defer bk.mu.Unlock()

	now := b.now()
	bk.lastAccess = now
	b.pruneLocked(bk, now, window)

	total := 0
	for _, e := range bk.events {
		total += e.cost
	}
	var reset time.Time
	if len(bk.events) > 0 {
		reset = bk.events[0].at.Add(window)
	}
	if total+cost > limit {
		return false, total, reset, nil
	}
	bk.events = append(bk.events, event{at: now, cost: cost})
	return true, total, reset, nil
}

// GetUsage sums the cost of events inside the trailing window, pruning
// anything older as a side effect.
func (b *MemoryBackend) GetUsage(key string, window time.Duration) (int, time.Time, error) {
	v, ok := b.buckets.Load(key)
	if !ok {
		return 0, time.Time{}, nil
	}
	bk := v.(*bucket)

	bk.mu.Lock()
	defer bk.mu.Unlock()

	now := b.now()
	bk.lastAccess = now
	b.pruneLocked(bk, now, window)

	total := 0
	for _, e := range bk.events {
		total += e.cost
	}
	var reset time.Time
	if len(bk.events) > 0 {
		reset = bk.events[0].at.Add(window)
	}
	return total, reset, nil
}

// Reset clears all usage for key.
func (b *MemoryBackend) Reset(key string) error {
	b.buckets.Delete(key)
	return nil
}

// Close stops the cleanup loop.
func (b *MemoryBackend) Close() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.cleanupTick.Stop()
		b.wg.Wait()
	})
}

// pruneLocked drops events older than the window. Caller holds bk.mu.
func (b *MemoryBackend) pruneLocked(bk *bucket, now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	keep := 0
	for keep < len(bk.events) && !bk.events[keep].at.After(cutoff) {
		keep++
	}
	if keep > 0 {
		remaining := make([]event, len(bk.events)-keep)
		copy(remaining, bk.events[keep:])
		bk.events = remaining
	}
}

func (b *MemoryBackend) cleanupLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.cleanupTick.C:
			b.dropIdleBuckets()
		case <-b.stop:
			return
		}
	}
}

// dropIdleBuckets removes buckets untouched for two full windows.
func (b *MemoryBackend) dropIdleBuckets() {
	cutoff := b.now().Add(-2 * b.maxWindow)
	b.buckets.Range(func(key, v interface{}) bool {
		bk := v.(*bucket)
		bk.mu.Lock()
		idle := bk.lastAccess.Before(cutoff)
		bk.mu.Unlock()
		if idle {
			b.buckets.Delete(key)
		}
		return true
	})
}
