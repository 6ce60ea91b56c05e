package memory

import "context"

// Embedder converts text to vector embeddings. Implementations must be
// deterministic for a given model version and safe for concurrent use;
// they are constructed once at process start and injected.
//
// Implementations: fastembed/onnx (local models), openai, ollama,
// mock (testing), cached (ristretto decorator over any of the above).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
