// Package mock provides a deterministic embedder for tests and local
// development. Vectors are derived from a hash of the text, so equal texts
// always embed identically and no model files are needed.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder generates hash-seeded pseudo-random unit vectors.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with the default 384 dimensions
// (all-MiniLM-L6-v2 shape).
func New() *Embedder {
	return NewWithDimensions(384)
}

// NewWithDimensions creates a mock embedder with an explicit vector size.
func NewWithDimensions(dim int) *Embedder {
	return &Embedder{dimensions: dim}
}

// Embed derives a deterministic embedding from the text hash using an LCG
// stream, normalized to a unit vector.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v * inv
	}
	return out
}
