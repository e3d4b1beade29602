package query

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ragbridge/internal/middleware"
	"ragbridge/internal/retrieval"
)

type Searcher interface {
	Search(ctx context.Context, q retrieval.Query) ([]retrieval.SearchResult, error)
}

type Handler struct {
	searcher Searcher
}

func NewHandler(s Searcher) *Handler {
	return &Handler{searcher: s}
}

type request struct {
	Query      string `json:"query"`
	OwnerID    *int   `json:"owner_id"`
	Limit      int    `json:"limit"`
	LabelID    *int   `json:"label_id"`
	CategoryID *int   `json:"category_id"`
	TypeID     *int   `json:"type_id"`
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.OwnerID == nil || *req.OwnerID <= 0 {
		h.writeError(ctx, w, "VALIDATION_ERROR", "owner_id is required", http.StatusBadRequest)
		return
	}

	results, err := h.searcher.Search(ctx, retrieval.Query{
		Text:       req.Query,
		OwnerID:    *req.OwnerID,
		Limit:      req.Limit,
		LabelID:    req.LabelID,
		CategoryID: req.CategoryID,
		TypeID:     req.TypeID,
	})
	if err != nil {
		if errors.Is(err, retrieval.ErrEmptyQuery) || errors.Is(err, retrieval.ErrMissingOwner) {
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "query failed", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "query failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": results,
		"meta": map[string]int{"count": len(results)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
