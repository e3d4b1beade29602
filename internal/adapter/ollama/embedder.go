// Package ollama generates embeddings with a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const Engine = "ollama"

const (
	DefaultBaseURL   = "http://localhost:11434"
	DefaultModel     = "nomic-embed-text"
	DefaultBatchSize = 32
	DefaultTimeout   = 60 * time.Second
)

type Config struct {
	BaseURL   string
	Model     string
	BatchSize int
	Timeout   time.Duration
}

type Embedder struct {
	client    *http.Client
	baseURL   string
	model     string
	batchSize int
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type showResponse struct {
	ModelInfo map[string]any `json:"model_info"`
}

func NewEmbedder(cfg Config) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Embedder{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
	}
}

// EmbedBatch returns one vector per text, in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		var resp embedResponse
		if err := e.post(ctx, "/api/embed", embedRequest{Model: e.model, Input: batch}, &resp); err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(resp.Embeddings), len(batch))
		}
		for i, v := range resp.Embeddings {
			if len(v) == 0 {
				return nil, fmt.Errorf("ollama returned an empty embedding for text %d", start+i)
			}
		}
		out = append(out, resp.Embeddings...)
	}
	return out, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimensions reads the embedding length from the model metadata.
func (e *Embedder) Dimensions(ctx context.Context) (int, error) {
	var resp showResponse
	if err := e.post(ctx, "/api/show", map[string]string{"model": e.model}, &resp); err != nil {
		return 0, fmt.Errorf("show model %s: %w", e.model, err)
	}
	for k, v := range resp.ModelInfo {
		if !strings.HasSuffix(k, ".embedding_length") {
			continue
		}
		if n, ok := v.(float64); ok && n > 0 {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("could not determine embedding size for model %s", e.model)
}

func (e *Embedder) ModelName() string {
	return e.model
}

// Ping checks connectivity via /api/tags without running inference.
func (e *Embedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: failed to create ping request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: API returned status %d", resp.StatusCode)
	}
	return nil
}

func (e *Embedder) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
