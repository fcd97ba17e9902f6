package routing

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// hintPattern matches an inline escalation token like "@large" in query text.
var hintPattern = regexp.MustCompile(`(^|\s)@(small|medium|large)\b`)

// Escalation is a routing override resolved before rules run.
type Escalation struct {
	Tier   Tier
	Source string // "preferred_tier", "session", "inline_hint"
	Reason string
}

// sessionOverride is one session's temporary escalation.
type sessionOverride struct {
	mu        sync.Mutex
	tier      Tier
	expiresAt time.Time
}

// Escalator resolves explicit tier escalations: per-request preferences,
// session-wide overrides, and inline @tier hints embedded in the query.
type Escalator struct {
	mu       sync.RWMutex
	sessions map[string]*sessionOverride

	// now is swappable for tests.
	now func() time.Time
}

// NewEscalator creates an empty escalator.
func NewEscalator() *Escalator {
	return &Escalator{
		sessions: make(map[string]*sessionOverride),
		now:      time.Now,
	}
}

// Resolve returns the escalation for the request, if any, and the query text
// with any inline hint stripped. Precedence: explicit preferred tier, then an
// unexpired session override, then an inline hint.
func (e *Escalator) Resolve(in Input) (*Escalation, string) {
	query := in.Query

	if in.PreferredTier != "" {
		if tier, err := ParseTier(in.PreferredTier); err == nil {
			return &Escalation{
				Tier:   tier,
				Source: "preferred_tier",
				Reason: "client requested tier " + tier.String(),
			}, stripHint(query)
		}
	}

	if in.SessionID != "" {
		if tier, ok := e.sessionTier(in.SessionID); ok {
			return &Escalation{
				Tier:   tier,
				Source: "session",
				Reason: "session override to " + tier.String(),
			}, stripHint(query)
		}
	}

	if loc := hintPattern.FindStringSubmatchIndex(query); loc != nil {
		name := query[loc[4]:loc[5]]
		tier, _ := ParseTier(name)
		return &Escalation{
			Tier:   tier,
			Source: "inline_hint",
			Reason: "inline @" + name + " hint",
		}, stripHint(query)
	}

	return nil, query
}

// ApplySessionOverride escalates all requests on a session to the given tier
// for the given duration. A zero duration means one hour.
func (e *Escalator) ApplySessionOverride(sessionID string, tier Tier, duration time.Duration) {
	if duration <= 0 {
		duration = time.Hour
	}
	expires := e.now().Add(duration)

	e.mu.Lock()
	so, ok := e.sessions[sessionID]
	if !ok {
		so = &sessionOverride{}
		e.sessions[sessionID] = so
	}
	e.mu.Unlock()

	so.mu.Lock()
	so.tier = tier
	so.expiresAt = expires
	so.mu.Unlock()
}

// Clear removes any override for the session.
func (e *Escalator) Clear(sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()
}

// sessionTier returns the active override tier for a session. Expiry is
// enforced on every read; an expired override is removed.
func (e *Escalator) sessionTier(sessionID string) (Tier, bool) {
	e.mu.RLock()
	so, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok {
		return TierSmall, false
	}

	so.mu.Lock()
	tier, expires := so.tier, so.expiresAt
	so.mu.Unlock()

	if e.now().After(expires) || e.now().Equal(expires) {
		e.Clear(sessionID)
		return TierSmall, false
	}
	return tier, true
}

// stripHint removes inline escalation tokens and collapses the surrounding
// whitespace.
func stripHint(query string) string {
	stripped := hintPattern.ReplaceAllString(query, "$1")
	return strings.TrimSpace(strings.Join(strings.Fields(stripped), " "))
}
