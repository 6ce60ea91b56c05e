// Package config loads process configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all mnemod configuration.
type Config struct {
	Port        string
	Environment string // "production", "development", ...

	// Vector index
	IndexBackend string // "qdrant" or "chromem"
	QdrantURL    string
	QdrantAPIKey string
	Collection   string
	DataDir      string // persistence dir for the embedded backend

	// Embedding provider
	Embedder       string // "mock", "fastembed", "onnx", "openai", "ollama"
	EmbedDim       int
	EmbedModel     string
	EmbedCacheSize int    // cached vectors kept in memory, 0 disables
	OnnxModel      string // model path for the onnx embedder
	OnnxVocab      string // tokenizer path for the onnx embedder
	OnnxRuntime    string // optional libonnxruntime.so path
	FastembedCache string // model download dir for fastembed
	OpenAIKey      string
	OpenAIBaseURL  string
	OllamaHost     string

	// Identity gate
	TrustedBackendKey string
	OIDCIssuer        string // e.g. https://tenant.eu.auth0.com/
	OIDCAudience      string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	issuer := getEnv("OIDC_ISSUER", "")
	if issuer != "" && !strings.HasSuffix(issuer, "/") {
		issuer += "/"
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		IndexBackend: getEnv("INDEX_BACKEND", "chromem"),
		QdrantURL:    getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey: getEnv("QDRANT_API_KEY", ""),
		Collection:   getEnv("COLLECTION", "memories"),
		DataDir:      getEnv("DATA_DIR", defaultDataDir()),

		Embedder:       getEnv("EMBEDDER", "fastembed"),
		EmbedDim:       getIntEnv("EMBED_DIM", 384),
		EmbedModel:     getEnv("EMBED_MODEL", ""),
		EmbedCacheSize: getIntEnv("EMBED_CACHE_SIZE", 4096),
		OnnxModel:      getEnv("ONNX_MODEL_PATH", ""),
		OnnxVocab:      getEnv("ONNX_TOKENIZER_PATH", ""),
		OnnxRuntime:    getEnv("ONNX_RUNTIME_PATH", ""),
		FastembedCache: getEnv("FASTEMBED_CACHE_DIR", ".fastembed"),
		OpenAIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		OllamaHost:     getEnv("OLLAMA_HOST", ""),

		TrustedBackendKey: getEnv("TRUSTED_BACKEND_KEY", ""),
		OIDCIssuer:        issuer,
		OIDCAudience:      getEnv("OIDC_AUDIENCE", ""),
	}
}

// InitLogging configures the global slog logger: JSON output in production
// for log aggregation, human-readable text otherwise.
func InitLogging(environment string) {
	var handler slog.Handler
	if strings.ToLower(environment) == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(handler))
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mnemo"
	}
	return home + "/.local/share/mnemo"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
