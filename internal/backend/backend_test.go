package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalhub/internal/routing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed transient", Transient(errors.New("upstream hiccup")), true},
		{"typed permanent", Permanent(errors.New("invalid api key")), false},
		{"deadline", context.DeadlineExceeded, true},
		{"cancel", context.Canceled, false},
		{"timeout message", errors.New("request timeout"), true},
		{"rate limited", errors.New("429 too many requests"), true},
		{"overloaded", errors.New("model overloaded"), true},
		{"bad gateway", errors.New("HTTP 502 from upstream"), true},
		{"bad request", errors.New("400 bad request"), false},
		{"auth failure", errors.New("invalid credentials"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestMockBackend_DeterministicAnswer(t *testing.T) {
	m := NewMockBackend()

	res, err := m.Call(context.Background(), routing.TierSmall, "list functions")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "list functions")
	assert.Equal(t, "mock-small", res.Model)
	assert.Greater(t, res.InputTokens, 0)
	assert.Greater(t, res.OutputTokens, 0)
	assert.Equal(t, 1, m.Calls())
}

func TestMockBackend_Availability(t *testing.T) {
	m := NewMockBackend()
	assert.True(t, m.Available(routing.TierLarge))

	m.SetAvailable(routing.TierLarge, false)
	assert.False(t, m.Available(routing.TierLarge))
	assert.True(t, m.Available(routing.TierSmall))
}

func TestMockBackend_FailNextQueue(t *testing.T) {
	m := NewMockBackend()
	m.FailNext(routing.TierSmall, Transient(errors.New("first")), Transient(errors.New("second")))

	_, err := m.Call(context.Background(), routing.TierSmall, "q")
	assert.EqualError(t, err, "first")
	_, err = m.Call(context.Background(), routing.TierSmall, "q")
	assert.EqualError(t, err, "second")
	_, err = m.Call(context.Background(), routing.TierSmall, "q")
	assert.NoError(t, err)
}

func TestMockBackend_HonorsCancellation(t *testing.T) {
	m := NewMockBackend()
	m.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Call(ctx, routing.TierSmall, "q")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
