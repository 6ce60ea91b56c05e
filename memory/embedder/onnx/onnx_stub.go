//go:build !onnx

// Package onnx embeds text locally through ONNX Runtime. This stub is
// compiled when the onnx build tag is off so the rest of the tree builds
// without the shared runtime library installed.
package onnx

import (
	"context"
	"errors"
)

// ErrNotBuilt is returned when the binary was built without the onnx tag.
var ErrNotBuilt = errors.New("onnx: built without onnx tag, rebuild with -tags onnx")

// Config configures the ONNX embedder.
type Config struct {
	ModelPath      string
	TokenizerPath  string
	RuntimeLibrary string
	Dimensions     int
}

// Embedder is unavailable in this build.
type Embedder struct{}

// New always fails without the onnx tag.
func New(cfg Config) (*Embedder, error) {
	return nil, ErrNotBuilt
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrNotBuilt
}

func (e *Embedder) Dimensions() int { return 0 }

func (e *Embedder) Close() error { return nil }
