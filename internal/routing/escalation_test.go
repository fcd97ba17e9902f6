package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscalator_PreferredTierWins(t *testing.T) {
	e := NewEscalator()
	e.ApplySessionOverride("s1", TierSmall, time.Hour)

	esc, query := e.Resolve(Input{
		Query:         "@small explain this",
		SessionID:     "s1",
		PreferredTier: "large",
	})
	require.NotNil(t, esc)
	assert.Equal(t, TierLarge, esc.Tier)
	assert.Equal(t, "preferred_tier", esc.Source)
	assert.Equal(t, "explain this", query)
}

func TestEscalator_SessionOverride(t *testing.T) {
	e := NewEscalator()
	e.ApplySessionOverride("s1", TierLarge, time.Hour)

	esc, _ := e.Resolve(Input{Query: "anything", SessionID: "s1"})
	require.NotNil(t, esc)
	assert.Equal(t, TierLarge, esc.Tier)
	assert.Equal(t, "session", esc.Source)

	// Other sessions are unaffected.
	esc, _ = e.Resolve(Input{Query: "anything", SessionID: "s2"})
	assert.Nil(t, esc)
}

func TestEscalator_SessionOverrideExpires(t *testing.T) {
	e := NewEscalator()
	now := time.Now()
	e.now = func() time.Time { return now }

	e.ApplySessionOverride("s1", TierLarge, time.Minute)

	esc, _ := e.Resolve(Input{Query: "x", SessionID: "s1"})
	require.NotNil(t, esc)

	e.now = func() time.Time { return now.Add(2 * time.Minute) }
	esc, _ = e.Resolve(Input{Query: "x", SessionID: "s1"})
	assert.Nil(t, esc)
}

func TestEscalator_Clear(t *testing.T) {
	e := NewEscalator()
	e.ApplySessionOverride("s1", TierLarge, time.Hour)
	e.Clear("s1")

	esc, _ := e.Resolve(Input{Query: "x", SessionID: "s1"})
	assert.Nil(t, esc)
}

func TestEscalator_InlineHint(t *testing.T) {
	e := NewEscalator()

	esc, query := e.Resolve(Input{Query: "@medium refactor this helper"})
	require.NotNil(t, esc)
	assert.Equal(t, TierMedium, esc.Tier)
	assert.Equal(t, "inline_hint", esc.Source)
	assert.Equal(t, "refactor this helper", query)
}

func TestEscalator_InlineHintMidQuery(t *testing.T) {
	e := NewEscalator()

	esc, query := e.Resolve(Input{Query: "please @large analyze the heap profile"})
	require.NotNil(t, esc)
	assert.Equal(t, TierLarge, esc.Tier)
	assert.Equal(t, "please analyze the heap profile", query)
}

func TestEscalator_EmailAddressIsNotAHint(t *testing.T) {
	e := NewEscalator()

	esc, query := e.Resolve(Input{Query: "contact ops@small.example about this"})
	assert.Nil(t, esc)
	assert.Equal(t, "contact ops@small.example about this", query)
}

func TestEscalator_NoEscalation(t *testing.T) {
	e := NewEscalator()

	esc, query := e.Resolve(Input{Query: "plain query"})
	assert.Nil(t, esc)
	assert.Equal(t, "plain query", query)
}
