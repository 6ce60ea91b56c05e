// Package openai embeds text through the OpenAI embeddings API.
package openai

import (
	"context"
	"fmt"

	oa "github.com/sashabaranov/go-openai"
)

// Config configures the OpenAI embedder.
type Config struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the API endpoint for compatible providers. Empty
	// uses api.openai.com.
	BaseURL string

	// Model names the embedding model; empty picks text-embedding-3-small.
	Model string

	// Dimensions is the expected vector size. Zero defaults to 1536
	// (text-embedding-3-small).
	Dimensions int
}

// Embedder calls the embeddings endpoint one text at a time.
type Embedder struct {
	client *oa.Client
	model  string
	dim    int
}

// New creates an OpenAI embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: APIKey is required")
	}
	clientCfg := oa.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = string(oa.SmallEmbedding3)
	}
	dim := cfg.Dimensions
	if dim == 0 {
		dim = 1536
	}
	return &Embedder{client: oa.NewClientWithConfig(clientCfg), model: model, dim: dim}, nil
}

// Embed requests a single embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, oa.EmbeddingRequest{
		Model: oa.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai: empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int { return e.dim }
