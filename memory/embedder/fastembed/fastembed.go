//go:build fastembed

// Package fastembed wraps the fastembed-go FlagEmbedding models. The
// implementation needs the ONNX runtime shared library, so it compiles
// only behind the fastembed build tag.
package fastembed

import (
	"context"
	"fmt"
	"runtime"

	fe "github.com/anush008/fastembed-go"
)

// Config configures the fastembed embedder.
type Config struct {
	// Model names a fastembed model; empty picks bge-small-en-v1.5.
	Model string

	// CacheDir holds downloaded model files. Empty uses the library default.
	CacheDir string

	// Dimensions must match the chosen model. Zero defaults to 384
	// (bge-small-en-v1.5).
	Dimensions int

	// BatchSize caps passage batches. Zero picks a CPU-scaled default.
	BatchSize int
}

// Embedder runs local CPU embedding via fastembed.
type Embedder struct {
	model     *fe.FlagEmbedding
	dim       int
	batchSize int
}

// New downloads (on first use) and loads the model.
func New(cfg Config) (*Embedder, error) {
	init := &fe.InitOptions{
		Model:    fe.EmbeddingModel(cfg.Model),
		CacheDir: cfg.CacheDir,
	}
	model, err := fe.NewFlagEmbedding(init)
	if err != nil {
		return nil, fmt.Errorf("fastembed: load model: %w", err)
	}
	dim := cfg.Dimensions
	if dim == 0 {
		dim = 384
	}
	bs := cfg.BatchSize
	if bs <= 0 || bs > 4*runtime.GOMAXPROCS(0) {
		bs = 4 * runtime.GOMAXPROCS(0)
	}
	return &Embedder{model: model, dim: dim, batchSize: bs}, nil
}

// Embed embeds a single text as a query.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("fastembed: query embed: %w", err)
	}
	return vec, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int { return e.dim }

// Close releases the underlying ONNX session.
func (e *Embedder) Close() error {
	if e.model != nil {
		e.model.Destroy()
	}
	return nil
}
