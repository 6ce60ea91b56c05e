//go:build !fastembed

// Package fastembed wraps the fastembed-go FlagEmbedding models. This stub
// compiles when the fastembed build tag is off.
package fastembed

import (
	"context"
	"errors"
)

// ErrNotBuilt is returned when the binary was built without the
// fastembed tag.
var ErrNotBuilt = errors.New("fastembed: built without fastembed tag, rebuild with -tags fastembed")

// Config configures the fastembed embedder.
type Config struct {
	Model      string
	CacheDir   string
	Dimensions int
	BatchSize  int
}

// Embedder is unavailable in this build.
type Embedder struct{}

// New always fails without the fastembed tag.
func New(cfg Config) (*Embedder, error) {
	return nil, ErrNotBuilt
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrNotBuilt
}

func (e *Embedder) Dimensions() int { return 0 }

func (e *Embedder) Close() error { return nil }
