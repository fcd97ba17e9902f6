package cache

import (
	"sync"
	"time"
)

// Entry is one cached (query, response) pair. After creation only HitCount
// and LastAccessed change.
type Entry struct {
	ID           string            `json:"id"`
	QueryText    string            `json:"query_text"`
	Fingerprint  []float32         `json:"-"`
	ContextKey   string            `json:"context_key,omitempty"`
	Response     string            `json:"response"`
	TierUsed     string            `json:"tier_used"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	HitCount     int               `json:"hit_count"`
	LastAccessed time.Time         `json:"last_accessed"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// expired reports whether the entry is past its TTL at the given instant.
func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Scored pairs an entry with its similarity to a probe vector.
type Scored struct {
	Entry Entry
	Score float64
}

// Store holds cache entries under an LRU capacity bound with lazy TTL
// expiry. A single mutex guards insert, evict, and expire; similarity math
// happens in the index.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	index      VectorIndex
	maxEntries int

	// now is swappable for tests.
	now func() time.Time
}

// NewStore creates a store over the given index. maxEntries must be
// positive.
func NewStore(index VectorIndex, maxEntries int) *Store {
	return &Store{
		entries:    make(map[string]*Entry),
		index:      index,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Add inserts an entry, evicting the least-recently-used entry first when the
// store is at capacity. Adding an existing id replaces the entry without
// eviction.
func (s *Store) Add(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; !exists && len(s.entries) >= s.maxEntries {
		s.evictLocked()
	}
	stored := entry
	s.entries[entry.ID] = &stored
	s.index.Add(entry.ID, entry.Fingerprint)
}

// evictLocked removes the entry with the oldest LastAccessed, ties broken by
// earliest CreatedAt.
func (s *Store) evictLocked() {
	var victim *Entry
	for _, e := range s.entries {
		if victim == nil {
			victim = e
			continue
		}
		if e.LastAccessed.Before(victim.LastAccessed) ||
			(e.LastAccessed.Equal(victim.LastAccessed) && e.CreatedAt.Before(victim.CreatedAt)) {
			victim = e
		}
	}
	if victim != nil {
		delete(s.entries, victim.ID)
		s.index.Remove(victim.ID)
	}
}

// scoreEpsilon absorbs float32 rounding in similarity scores, so an exact
// re-ask of a cached query still clears a threshold of 1.0.
const scoreEpsilon = 1e-6

// SearchSimilar returns up to k unexpired entries whose fingerprint scores at
// least threshold against vec, best first. A non-empty contextKey restricts
// results to entries with the same key. Expired candidates are removed as a
// side effect.
func (s *Store) SearchSimilar(vec []float32, contextKey string, threshold float64, k int) []Scored {
	if k <= 0 {
		k = 1
	}
	// Over-fetch: context and TTL filtering happen after the index search.
	fetch := k * 8
	if fetch < 32 {
		fetch = 32
	}
	matches := s.index.Search(vec, fetch)

	now := s.now()
	out := make([]Scored, 0, k)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range matches {
		if m.Score < threshold-scoreEpsilon {
			break // matches are sorted best-first
		}
		entry, ok := s.entries[m.ID]
		if !ok {
			s.index.Remove(m.ID)
			continue
		}
		if entry.expired(now) {
			delete(s.entries, m.ID)
			s.index.Remove(m.ID)
			continue
		}
		if contextKey != "" && entry.ContextKey != contextKey {
			continue
		}
		out = append(out, Scored{Entry: *entry, Score: m.Score})
		if len(out) == k {
			break
		}
	}
	return out
}

// Touch records a hit: increments HitCount and refreshes LastAccessed.
// It returns the updated entry and false if the id is unknown.
func (s *Store) Touch(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	entry.HitCount++
	entry.LastAccessed = s.now()
	return *entry, true
}

// Get returns a copy of the entry for id if present and unexpired.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || entry.expired(s.now()) {
		return Entry{}, false
	}
	return *entry, true
}

// Delete removes an entry by id.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		delete(s.entries, id)
		s.index.Remove(id)
	}
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.entries {
		s.index.Remove(id)
	}
	s.entries = make(map[string]*Entry)
}

// CleanupExpired removes all expired entries and returns how many were
// dropped.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, id)
			s.index.Remove(id)
			removed++
		}
	}
	return removed
}

// Size returns the current number of entries.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
