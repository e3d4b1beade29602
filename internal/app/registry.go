package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"ragbridge/internal/adapter/gemini"
	"ragbridge/internal/adapter/ollama"
	"ragbridge/internal/adapter/paperless"
	"ragbridge/internal/adapter/qdrant"
	wstore "ragbridge/internal/adapter/weaviate"
	"ragbridge/internal/config"
	"ragbridge/internal/retrieval"
	"ragbridge/internal/worker"
)

var ErrUnknownEngine = errors.New("unknown engine")

// Source is a DMS the service can mirror.
type Source interface {
	worker.DocumentSource
}

// Embedder serves both document sync and query embedding.
type Embedder interface {
	worker.Embedder
	retrieval.Embedder
	Dimensions(ctx context.Context) (int, error)
}

// Store is a vector store for sync, search and stats.
type Store interface {
	worker.VectorStore
	retrieval.VectorStore
	Count(ctx context.Context) (int, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type (
	SourceFactory   func(cfg *config.Config, logger *slog.Logger) (Source, error)
	EmbedderFactory func(ctx context.Context, cfg *config.Config) (Embedder, error)
	StoreFactory    func(cfg *config.Config) (Store, error)
)

var sourceFactories = map[string]SourceFactory{
	paperless.Engine: func(cfg *config.Config, logger *slog.Logger) (Source, error) {
		if cfg.PaperlessURL == "" {
			return nil, fmt.Errorf("%w: PAPERLESS_URL", config.ErrMissingRequired)
		}
		if cfg.PaperlessToken == "" {
			return nil, fmt.Errorf("%w: PAPERLESS_TOKEN", config.ErrMissingRequired)
		}
		client, err := paperless.NewClient(paperless.Config{
			BaseURL:           cfg.PaperlessURL,
			Token:             cfg.PaperlessToken,
			PageSize:          cfg.PaperlessPageSize,
			RequestsPerSecond: cfg.PaperlessRequestsPerSecond,
			Timeout:           time.Duration(cfg.PaperlessTimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	},
}

var embedderFactories = map[string]EmbedderFactory{
	ollama.Engine: func(_ context.Context, cfg *config.Config) (Embedder, error) {
		return ollama.NewEmbedder(ollama.Config{
			BaseURL:   cfg.OllamaURL,
			Model:     cfg.OllamaModel,
			BatchSize: cfg.OllamaBatchSize,
			Timeout:   time.Duration(cfg.EmbedTimeoutSeconds) * time.Second,
		}), nil
	},
	gemini.Engine: func(ctx context.Context, cfg *config.Config) (Embedder, error) {
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY", config.ErrMissingRequired)
		}
		e, err := gemini.NewEmbedder(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiEmbedModel})
		if err != nil {
			return nil, err
		}
		return e, nil
	},
}

var storeFactories = map[string]StoreFactory{
	qdrant.Engine: func(cfg *config.Config) (Store, error) {
		store, err := qdrant.NewStore(qdrant.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Timeout:    time.Duration(cfg.QdrantTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	},
	wstore.Engine: func(cfg *config.Config) (Store, error) {
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		return wstore.NewStore(client, cfg.WeaviateClass), nil
	},
}

func NewSource(cfg *config.Config, logger *slog.Logger) (Source, error) {
	f, ok := sourceFactories[strings.ToLower(cfg.DMSEngine)]
	if !ok {
		return nil, fmt.Errorf("%w: DMS_ENGINE=%q", ErrUnknownEngine, cfg.DMSEngine)
	}
	return f(cfg, logger)
}

func NewEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	f, ok := embedderFactories[strings.ToLower(cfg.EmbedEngine)]
	if !ok {
		return nil, fmt.Errorf("%w: EMBED_ENGINE=%q", ErrUnknownEngine, cfg.EmbedEngine)
	}
	return f(ctx, cfg)
}

func NewStore(cfg *config.Config) (Store, error) {
	f, ok := storeFactories[strings.ToLower(cfg.RAGEngine)]
	if !ok {
		return nil, fmt.Errorf("%w: RAG_ENGINE=%q", ErrUnknownEngine, cfg.RAGEngine)
	}
	return f(cfg)
}
