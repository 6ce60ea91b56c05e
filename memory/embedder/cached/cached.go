// Package cached decorates any embedder with a ristretto cache keyed by
// text. Store and retrieve paths often embed the same short strings
// (entity placeholders, repeated queries); caching those skips the model
// round trip entirely.
package cached

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/keepcontext/mnemo/memory"
)

// Embedder wraps an inner embedder with an in-process vector cache.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// New wraps inner with a cache holding up to maxEntries vectors.
func New(inner memory.Embedder, maxEntries int64) (*Embedder, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cached: create cache: %w", err)
	}
	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector when present, otherwise delegates and
// caches the result. Cached vectors are shared; callers must not mutate
// returned slices.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, vec, 1)
	return vec, nil
}

// Dimensions returns the inner embedder's vector size.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close drops the cache. The inner embedder, if closable, is the caller's
// to close.
func (e *Embedder) Close() error {
	e.cache.Close()
	return nil
}
