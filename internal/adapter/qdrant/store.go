// Package qdrant stores document chunk vectors in a Qdrant collection over its REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ragbridge/internal/vector"
)

const Engine = "qdrant"

const DefaultTimeout = 30 * time.Second

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

type Store struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant: url is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("qdrant: collection is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Store{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload vector.Payload `json:"payload"`
}

type matchValue struct {
	Value any `json:"value"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match matchValue `json:"match"`
}

type filter struct {
	Must []fieldCondition `json:"must"`
}

func toFilter(f vector.Filter) filter {
	out := filter{Must: make([]fieldCondition, 0, len(f.Must))}
	for _, c := range f.Must {
		out.Must = append(out.Must, fieldCondition{Key: c.Key, Match: matchValue{Value: c.Value}})
	}
	return out
}

// Write upserts records and waits until Qdrant has applied them.
func (s *Store) Write(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]point, len(records))
	for i, r := range records {
		points[i] = point{ID: r.ID, Vector: r.Vector, Payload: r.Payload}
	}
	return s.do(ctx, http.MethodPut, s.collectionPath("/points", true), map[string]any{"points": points}, nil)
}

// Scroll returns one page of records matching f, with only the document id loaded.
func (s *Store) Scroll(ctx context.Context, f vector.Filter, limit int, offset string) (*vector.ScrollPage, error) {
	body := map[string]any{
		"filter":       toFilter(f),
		"limit":        limit,
		"with_payload": []string{vector.FieldDocID},
		"with_vector":  false,
	}
	if offset != "" {
		body["offset"] = pointID(offset)
	}

	var resp struct {
		Result struct {
			Points []struct {
				ID      json.RawMessage `json:"id"`
				Payload struct {
					DocID int `json:"dms_doc_id"`
				} `json:"payload"`
			} `json:"points"`
			NextPageOffset json.RawMessage `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/scroll", false), body, &resp); err != nil {
		return nil, err
	}

	page := &vector.ScrollPage{
		Records:    make([]vector.StoredRecord, 0, len(resp.Result.Points)),
		NextOffset: idString(resp.Result.NextPageOffset),
	}
	for _, p := range resp.Result.Points {
		page.Records = append(page.Records, vector.StoredRecord{ID: idString(p.ID), DocID: p.Payload.DocID})
	}
	return page, nil
}

// DeleteByFilter removes every record matching f.
func (s *Store) DeleteByFilter(ctx context.Context, f vector.Filter) error {
	return s.do(ctx, http.MethodPost, s.collectionPath("/points/delete", true), map[string]any{"filter": toFilter(f)}, nil)
}

func (s *Store) CollectionExists(ctx context.Context) (bool, error) {
	var resp struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, s.collectionPath("/exists", false), nil, &resp); err != nil {
		return false, err
	}
	return resp.Result.Exists, nil
}

// CreateCollection creates the collection and indexes the payload keys used in filters.
func (s *Store) CreateCollection(ctx context.Context, vectorSize int, distance vector.Distance) error {
	if vectorSize <= 0 {
		return fmt.Errorf("qdrant: invalid vector size %d", vectorSize)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": string(distance),
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionPath("", false), body, nil); err != nil {
		return err
	}

	indexes := []struct {
		field  string
		schema string
	}{
		{vector.FieldEngine, "keyword"},
		{vector.FieldDocID, "integer"},
		{vector.FieldOwnerID, "integer"},
	}
	for _, idx := range indexes {
		body := map[string]any{"field_name": idx.field, "field_schema": idx.schema}
		if err := s.do(ctx, http.MethodPut, s.collectionPath("/index", true), body, nil); err != nil {
			return fmt.Errorf("create payload index %s: %w", idx.field, err)
		}
	}
	return nil
}

// Search returns the records closest to vec among those matching f.
func (s *Store) Search(ctx context.Context, vec []float32, f vector.Filter, limit int) ([]vector.ScoredRecord, error) {
	body := map[string]any{
		"vector":       vec,
		"filter":       toFilter(f),
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      json.RawMessage `json:"id"`
			Score   float32        `json:"score"`
			Payload vector.Payload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search", false), body, &resp); err != nil {
		return nil, err
	}

	out := make([]vector.ScoredRecord, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, vector.ScoredRecord{ID: idString(r.ID), Score: r.Score, Payload: r.Payload})
	}
	return out, nil
}

// Count returns the exact number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/count", false), map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, s.baseURL+"/healthz", nil, nil)
}

func (s *Store) collectionPath(suffix string, wait bool) string {
	p := fmt.Sprintf("%s/collections/%s%s", s.baseURL, url.PathEscape(s.collection), suffix)
	if wait {
		p += "?wait=true"
	}
	return p
}

func (s *Store) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, endpoint, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// idString renders a Qdrant point id, which is either a UUID string or an
// unsigned integer. Integers keep their decimal text.
func idString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if _, err := strconv.ParseUint(string(raw), 10, 64); err == nil {
		return string(raw)
	}
	return ""
}

// pointID is the inverse of idString for request bodies.
func pointID(id string) any {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return n
	}
	return id
}
