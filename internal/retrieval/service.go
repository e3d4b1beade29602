package retrieval

import (
	"context"
	"errors"
	"strings"
	"time"

	"ragbridge/internal/middleware"
	"ragbridge/internal/vector"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

var (
	ErrEmptyQuery   = errors.New("query text is required")
	ErrMissingOwner = errors.New("owner_id is required")
)

type SearchResult struct {
	ID         string   `json:"id"`
	Score      float32  `json:"score"`
	DocumentID int      `json:"document_id"`
	ChunkIndex int      `json:"chunk_index"`
	Title      string   `json:"title"`
	Content    string   `json:"chunk_text"`
	Created    string   `json:"created,omitempty"`
	Labels     []string `json:"labels"`
	Category   string   `json:"category,omitempty"`
	Type       string   `json:"type,omitempty"`
	Owner      string   `json:"owner,omitempty"`
}

// Query is one owner-scoped similarity search.
type Query struct {
	Text       string
	OwnerID    int
	Limit      int
	LabelID    *int
	CategoryID *int
	TypeID     *int
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	Search(ctx context.Context, vec []float32, filter vector.Filter, limit int) ([]vector.ScoredRecord, error)
}

type Service struct {
	embedder Embedder
	store    VectorStore
	logger   *QueryLogger
}

func NewService(e Embedder, s VectorStore, l *QueryLogger) *Service {
	return &Service{embedder: e, store: s, logger: l}
}

// Search embeds the query and returns the closest chunks owned by q.OwnerID.
// The owner filter is always applied.
func (s *Service) Search(ctx context.Context, q Query) ([]SearchResult, error) {
	start := time.Now()
	var results []SearchResult
	var err error

	defer func() {
		if s.logger != nil && err == nil {
			s.logger.Log(QueryLogEntry{
				Query:         q.Text,
				OwnerID:       q.OwnerID,
				NumResults:    len(results),
				Duration:      time.Since(start),
				CorrelationID: middleware.GetCorrelationID(ctx),
			})
		}
	}()

	if strings.TrimSpace(q.Text) == "" {
		err = ErrEmptyQuery
		return nil, err
	}
	if q.OwnerID <= 0 {
		err = ErrMissingOwner
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	filter := vector.OwnerFilter(q.OwnerID)
	if q.LabelID != nil {
		filter = filter.And(vector.Condition{Key: vector.FieldLabelIDs, Value: *q.LabelID})
	}
	if q.CategoryID != nil {
		filter = filter.And(vector.Condition{Key: vector.FieldCategoryID, Value: *q.CategoryID})
	}
	if q.TypeID != nil {
		filter = filter.And(vector.Condition{Key: vector.FieldTypeID, Value: *q.TypeID})
	}

	vec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	hits, err := s.store.Search(ctx, vec, filter, limit)
	if err != nil {
		return nil, err
	}

	results = make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		// Stores apply the filter, this guards against one that does not.
		if h.Payload.OwnerID != q.OwnerID {
			continue
		}
		labels := h.Payload.LabelNames
		if labels == nil {
			labels = []string{}
		}
		results = append(results, SearchResult{
			ID:         h.ID,
			Score:      h.Score,
			DocumentID: h.Payload.DocID,
			ChunkIndex: h.Payload.ChunkIndex,
			Title:      h.Payload.Title,
			Content:    h.Payload.ChunkText,
			Created:    h.Payload.Created,
			Labels:     labels,
			Category:   h.Payload.CategoryName,
			Type:       h.Payload.TypeName,
			Owner:      h.Payload.OwnerUsername,
		})
	}
	return results, nil
}
