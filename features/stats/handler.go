package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"ragbridge/internal/middleware"
	"ragbridge/internal/worker"
)

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type VectorStore interface {
	Count(ctx context.Context) (int, error)
}

type ReportSource interface {
	LastReport() *worker.FullSyncReport
}

type Handler struct {
	dmsEngine   string
	ragEngine   string
	jobRepo     JobRepo
	vectorStore VectorStore
	reports     ReportSource
}

// NewHandler builds the stats handler. jobRepo may be nil when the failed-sync
// journal is disabled.
func NewHandler(dmsEngine, ragEngine string, j JobRepo, v VectorStore, r ReportSource) *Handler {
	return &Handler{dmsEngine: dmsEngine, ragEngine: ragEngine, jobRepo: j, vectorStore: v, reports: r}
}

type StatsResponse struct {
	DMSEngine    string                 `json:"dms_engine"`
	RAGEngine    string                 `json:"rag_engine"`
	Records      int                    `json:"records"`
	FailedSyncs  int                    `json:"failed_syncs"`
	LastFullSync *worker.FullSyncReport `json:"last_full_sync"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	resp := StatsResponse{DMSEngine: h.dmsEngine, RAGEngine: h.ragEngine}

	if h.jobRepo != nil {
		count, err := h.jobRepo.Count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count failed syncs", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count failed syncs", http.StatusInternalServerError)
			return
		}
		resp.FailedSyncs = count
	}

	records, err := h.vectorStore.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count records", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count records", http.StatusInternalServerError)
		return
	}
	resp.Records = records

	if h.reports != nil {
		resp.LastFullSync = h.reports.LastReport()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
