// Package cache implements the semantic response cache: a fingerprint-indexed
// store of prior (query, response) pairs that serves a cached answer when a
// new query is close enough in embedding space.
package cache

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// Normalize scales vec to unit Euclidean norm in place. A zero vector cannot
// be normalized and is reported as an error.
func Normalize(vec []float32) error {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return fmt.Errorf("cannot normalize zero vector")
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return nil
}

// Dot returns the dot product of two vectors. For unit-normalized vectors
// this equals their cosine similarity. Mismatched lengths score zero.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// ContextKey hashes the context dimensions that must match exactly for a
// cache hit (e.g. the current file path). Order matters; empty parts yield
// an empty key, meaning no context constraint.
func ContextKey(parts ...string) string {
	nonEmpty := false
	for _, p := range parts {
		if p != "" {
			nonEmpty = true
			break
		}
	}
	if !nonEmpty {
		return ""
	}
	h := fnv.New64a()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return fmt.Sprintf("%016x", h.Sum64())
}
