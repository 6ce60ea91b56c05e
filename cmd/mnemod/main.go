// Command mnemod runs the memory server and its maintenance passes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/keepcontext/mnemo/auth"
	"github.com/keepcontext/mnemo/config"
	"github.com/keepcontext/mnemo/engine"
	"github.com/keepcontext/mnemo/memory"
	"github.com/keepcontext/mnemo/memory/embedder/cached"
	"github.com/keepcontext/mnemo/memory/embedder/fastembed"
	"github.com/keepcontext/mnemo/memory/embedder/mock"
	"github.com/keepcontext/mnemo/memory/embedder/ollama"
	"github.com/keepcontext/mnemo/memory/embedder/onnx"
	"github.com/keepcontext/mnemo/memory/embedder/openai"
	"github.com/keepcontext/mnemo/memory/index"
	chromemindex "github.com/keepcontext/mnemo/memory/index/chromem"
	"github.com/keepcontext/mnemo/memory/index/qdrant"
	"github.com/keepcontext/mnemo/migrate"
	"github.com/keepcontext/mnemo/server"
	"github.com/keepcontext/mnemo/tools"
)

func main() {
	root := &cobra.Command{
		Use:           "mnemod",
		Short:         "Scoped memory server with per-user isolation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}
	cfg := config.Load()
	config.InitLogging(cfg.Environment)
	return cfg
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx := cmd.Context()

			repo, _, err := buildRepository(ctx, cfg)
			if err != nil {
				return err
			}

			var verifier auth.Verifier
			if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
				verifier = auth.NewTokenVerifier(cfg.OIDCIssuer, cfg.OIDCAudience)
			} else {
				slog.Warn("OIDC not configured, bearer auth disabled")
			}
			if cfg.TrustedBackendKey == "" && verifier == nil {
				return fmt.Errorf("no auth configured: set TRUSTED_BACKEND_KEY or OIDC_ISSUER and OIDC_AUDIENCE")
			}
			gate := auth.NewGate(cfg.TrustedBackendKey, verifier)

			registry := tools.NewRegistry(repo, engine.NewRetriever(repo))
			srv := server.New(cfg, gate, registry)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-stop
				slog.Info("shutting down")
				if err := srv.Shutdown(); err != nil {
					slog.Error("shutdown failed", "err", err)
				}
			}()

			return srv.Listen(":" + cfg.Port)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run index maintenance passes",
	}

	var owner string
	backfill := &cobra.Command{
		Use:   "backfill-user",
		Short: "Assign an owner to records stored before multi-tenancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			idx, err := buildIndex(cfg)
			if err != nil {
				return err
			}
			n, err := migrate.BackfillUser(cmd.Context(), idx, owner)
			if err != nil {
				return err
			}
			fmt.Printf("backfilled %d records\n", n)
			return nil
		},
	}
	backfill.Flags().StringVar(&owner, "owner", "", "user id to assign (required)")
	backfill.MarkFlagRequired("owner")

	reembed := &cobra.Command{
		Use:   "reembed",
		Short: "Regenerate all vectors with the configured embedder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			idx, err := buildIndex(cfg)
			if err != nil {
				return err
			}
			embedder, err := buildEmbedder(cfg)
			if err != nil {
				return err
			}
			if err := idx.EnsureCollection(cmd.Context(), embedder.Dimensions()); err != nil {
				return err
			}
			n, err := migrate.Reembed(cmd.Context(), idx, embedder)
			if err != nil {
				return err
			}
			fmt.Printf("reembedded %d records\n", n)
			return nil
		},
	}

	copyCmd := &cobra.Command{
		Use:   "copy-to-qdrant",
		Short: "Copy the local embedded collection into the configured Qdrant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if cfg.DataDir == "" {
				return fmt.Errorf("copy-to-qdrant: set DATA_DIR to the embedded collection")
			}
			src, err := chromemindex.NewPersistent(cfg.Collection, cfg.DataDir)
			if err != nil {
				return err
			}
			embedder, err := buildEmbedder(cfg)
			if err != nil {
				return err
			}
			if err := src.EnsureCollection(cmd.Context(), embedder.Dimensions()); err != nil {
				return err
			}
			dst := qdrant.New(cfg.QdrantURL, cfg.Collection, cfg.QdrantAPIKey)
			if err := dst.EnsureCollection(cmd.Context(), embedder.Dimensions()); err != nil {
				return err
			}
			n, err := migrate.Copy(cmd.Context(), src, dst)
			if err != nil {
				return err
			}
			fmt.Printf("copied %d records\n", n)
			return nil
		},
	}

	cmd.AddCommand(backfill, reembed, copyCmd)
	return cmd
}

func buildRepository(ctx context.Context, cfg *config.Config) (*memory.Repository, index.Index, error) {
	idx, err := buildIndex(cfg)
	if err != nil {
		return nil, nil, err
	}
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, nil, err
	}
	repo := memory.NewRepository(idx, embedder)
	if err := repo.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("init collection: %w", err)
	}
	slog.Info("repository ready", "index", cfg.IndexBackend, "embedder", cfg.Embedder, "collection", cfg.Collection)
	return repo, idx, nil
}

func buildIndex(cfg *config.Config) (index.Index, error) {
	switch cfg.IndexBackend {
	case "qdrant":
		return qdrant.New(cfg.QdrantURL, cfg.Collection, cfg.QdrantAPIKey), nil
	case "chromem":
		if cfg.DataDir == "" {
			return chromemindex.New(cfg.Collection), nil
		}
		return chromemindex.NewPersistent(cfg.Collection, cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}

func buildEmbedder(cfg *config.Config) (memory.Embedder, error) {
	var (
		embedder memory.Embedder
		err      error
	)
	switch cfg.Embedder {
	case "mock":
		embedder = mock.NewWithDimensions(cfg.EmbedDim)
	case "fastembed":
		embedder, err = fastembed.New(fastembed.Config{
			Model:      cfg.EmbedModel,
			CacheDir:   cfg.FastembedCache,
			Dimensions: cfg.EmbedDim,
		})
	case "onnx":
		embedder, err = onnx.New(onnx.Config{
			ModelPath:      cfg.OnnxModel,
			TokenizerPath:  cfg.OnnxVocab,
			RuntimeLibrary: cfg.OnnxRuntime,
			Dimensions:     cfg.EmbedDim,
		})
	case "openai":
		embedder, err = openai.New(openai.Config{
			APIKey:     cfg.OpenAIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.EmbedModel,
			Dimensions: cfg.EmbedDim,
		})
	case "ollama":
		embedder, err = ollama.New(ollama.Config{
			Host:       cfg.OllamaHost,
			Model:      cfg.EmbedModel,
			Dimensions: cfg.EmbedDim,
		})
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
	}
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	if cfg.EmbedCacheSize > 0 {
		embedder, err = cached.New(embedder, int64(cfg.EmbedCacheSize))
		if err != nil {
			return nil, err
		}
	}
	return embedder, nil
}
