package cache

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder turns query text into a unit-normalized fingerprint vector. The
// production embedder calls out to a model backend; the hashing embedder
// below works offline and is the default.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// DefaultDimensions is the fingerprint width of the built-in embedder.
const DefaultDimensions = 256

// stopwords are high-frequency function words excluded from fingerprints so
// that rewordings of the same question land close together.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "does": true,
	"for": true, "from": true, "how": true, "i": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "should": true,
	"that": true, "the": true, "this": true, "to": true, "we": true,
	"what": true, "when": true, "where": true, "which": true, "why": true,
	"will": true, "with": true, "would": true, "you": true,
}

// HashingEmbedder maps terms into a fixed number of buckets via feature
// hashing, weights them by damped term frequency, and unit-normalizes the
// result. It needs no model, no network, and no vocabulary.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates a hashing embedder with the given vector width.
// Non-positive widths fall back to DefaultDimensions.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashingEmbedder{dims: dims}
}

// Dimensions returns the fingerprint width.
func (e *HashingEmbedder) Dimensions() int {
	return e.dims
}

// Embed fingerprints the text. Texts with no content terms embed as a single
// reserved bucket so they still compare equal to each other.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make(map[uint32]int)
	for _, term := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(term))
		counts[h.Sum32()%uint32(e.dims)]++
	}

	vec := make([]float32, e.dims)
	if len(counts) == 0 {
		vec[0] = 1
		return vec, nil
	}
	for bucket, count := range counts {
		vec[bucket] = float32(1 + math.Log(float64(count)))
	}
	if err := Normalize(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// tokenize lowercases, splits on non-alphanumeric runes, and drops
// stopwords.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}
