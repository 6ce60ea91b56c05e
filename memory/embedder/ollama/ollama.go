// Package ollama embeds text through a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	api "github.com/ollama/ollama/api"
)

// Config configures the Ollama embedder.
type Config struct {
	// Host is the Ollama base URL; empty uses http://localhost:11434.
	Host string

	// Model names the embedding model; empty picks nomic-embed-text.
	Model string

	// Dimensions is the expected vector size. Zero defaults to 768
	// (nomic-embed-text).
	Dimensions int
}

// Embedder talks to Ollama's embed endpoint.
type Embedder struct {
	client *api.Client
	model  string
	dim    int
}

// New creates an Ollama embedder.
func New(cfg Config) (*Embedder, error) {
	host := cfg.Host
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("ollama: parse host: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	dim := cfg.Dimensions
	if dim == 0 {
		dim = 768
	}
	client := api.NewClient(u, &http.Client{Timeout: 60 * time.Second})
	return &Embedder{client: client, model: model, dim: dim}, nil
}

// Embed requests a single embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding response")
	}
	return resp.Embeddings[0], nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int { return e.dim }
