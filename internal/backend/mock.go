package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signalhub/internal/routing"
)

// MockBackend is a deterministic in-process backend. It answers every prompt
// with a canned summary, bills tokens from text length, and lets tests pull
// tiers in and out of service or inject failures.
type MockBackend struct {
	mu          sync.Mutex
	unavailable map[routing.Tier]bool
	failures    map[routing.Tier][]error
	latency     time.Duration
	calls       int
}

// NewMockBackend creates a mock with every tier available.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		unavailable: make(map[routing.Tier]bool),
		failures:    make(map[routing.Tier][]error),
	}
}

// SetAvailable flips a tier in or out of service.
func (m *MockBackend) SetAvailable(tier routing.Tier, available bool) {
	m.mu.Lock()
	m.unavailable[tier] = !available
	m.mu.Unlock()
}

// FailNext queues errors to be returned by the next calls to the tier, in
// order, before normal responses resume.
func (m *MockBackend) FailNext(tier routing.Tier, errs ...error) {
	m.mu.Lock()
	m.failures[tier] = append(m.failures[tier], errs...)
	m.mu.Unlock()
}

// SetLatency makes every call take at least d.
func (m *MockBackend) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// Calls returns how many calls reached the mock.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Available reports the tier's configured availability.
func (m *MockBackend) Available(tier routing.Tier) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unavailable[tier]
}

// Call answers the prompt deterministically. Token accounting: input tokens
// from the prompt length, output tokens from the answer length.
func (m *MockBackend) Call(ctx context.Context, tier routing.Tier, prompt string) (*Result, error) {
	m.mu.Lock()
	m.calls++
	latency := m.latency
	var injected error
	if queue := m.failures[tier]; len(queue) > 0 {
		injected = queue[0]
		m.failures[tier] = queue[1:]
	}
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if injected != nil {
		return nil, injected
	}

	text := fmt.Sprintf("[%s] %s", tier, prompt)
	return &Result{
		Text:         text,
		Model:        "mock-" + tier.String(),
		InputTokens:  routing.EstimateTokens(prompt, 0),
		OutputTokens: routing.EstimateTokens(text, 0),
	}, nil
}
