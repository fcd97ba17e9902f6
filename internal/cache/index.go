package cache

import (
	"sort"
	"sync"
)

// Match is one similarity search result.
type Match struct {
	ID    string
	Score float64
}

// VectorIndex is the similarity-search surface the cache store builds on.
// Implementations must treat vectors as unit-normalized, so cosine similarity
// reduces to a dot product.
type VectorIndex interface {
	Add(id string, vec []float32)
	Remove(id string)
	Search(vec []float32, k int) []Match
	Len() int
}

// FlatIndex is a brute-force in-memory index. Exact, no build step, and fast
// enough for cache-sized collections (tens of thousands of entries).
type FlatIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewFlatIndex creates an empty index.
func NewFlatIndex() *FlatIndex {
	return &FlatIndex{vectors: make(map[string][]float32)}
}

// Add inserts or replaces the vector for id.
func (idx *FlatIndex) Add(id string, vec []float32) {
	stored := make([]float32, len(vec))
	copy(stored, vec)

	idx.mu.Lock()
	idx.vectors[id] = stored
	idx.mu.Unlock()
}

// Remove deletes the vector for id, if present.
func (idx *FlatIndex) Remove(id string) {
	idx.mu.Lock()
	delete(idx.vectors, id)
	idx.mu.Unlock()
}

// Search returns the k nearest vectors by dot product, best first.
func (idx *FlatIndex) Search(vec []float32, k int) []Match {
	if k <= 0 {
		return nil
	}

	idx.mu.RLock()
	matches := make([]Match, 0, len(idx.vectors))
	for id, stored := range idx.vectors {
		score := Dot(vec, stored)
		// float32 rounding can push a self-match fractionally past 1.
		if score > 1 {
			score = 1
		} else if score < 0 {
			score = 0
		}
		matches = append(matches, Match{ID: id, Score: score})
	}
	idx.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Len returns the number of indexed vectors.
func (idx *FlatIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}
