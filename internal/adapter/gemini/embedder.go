package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const Engine = "gemini"

const (
	DefaultModel = "gemini-embedding-001"
	// maxBatch is the request limit of batchEmbedContents.
	maxBatch = 100
)

type Config struct {
	APIKey string
	Model  string
}

type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	opts = append(opts, option.WithAPIKey(cfg.APIKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, model: cfg.Model}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	res, err := e.client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds texts in batchEmbedContents requests, keeping input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))

		b := em.NewBatch()
		for _, t := range texts[start:end] {
			b.AddContent(genai.Text(t))
		}
		res, err := em.BatchEmbedContents(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("batch embed texts %d-%d: %w", start, end-1, err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(res.Embeddings), end-start)
		}
		for i, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("empty embedding received for text %d", start+i)
			}
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

// Dimensions embeds a sample text; the model metadata does not expose the size.
func (e *Embedder) Dimensions(ctx context.Context) (int, error) {
	vec, err := e.Embed(ctx, "dimension check")
	if err != nil {
		return 0, fmt.Errorf("sample embedding size: %w", err)
	}
	return len(vec), nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}
