// Package webhook turns DMS notifications and manual triggers into sync tasks.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"ragbridge/internal/config"
	"ragbridge/internal/middleware"
	"ragbridge/internal/worker"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Handler struct {
	pub EventPublisher
}

func NewHandler(pub EventPublisher) *Handler {
	return &Handler{pub: pub}
}

// documentRequest accepts the id as a JSON number or string; Paperless
// workflow webhooks template it into the body as text.
type documentRequest struct {
	DocumentID json.RawMessage `json:"document_id"`
}

func (req documentRequest) id() (int, error) {
	raw := req.DocumentID
	if len(raw) == 0 {
		return 0, errors.New("document_id is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	id, err := strconv.Atoi(string(raw))
	if err != nil || id <= 0 {
		return 0, errors.New("document_id must be a positive integer")
	}
	return id, nil
}

// Document queues an incremental sync of one document.
func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	id, err := req.id()
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	body, _ := json.Marshal(worker.SyncDocumentPayload{
		DocumentID:    id,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err := h.pub.Publish(config.TopicSyncDocument, body); err != nil {
		slog.ErrorContext(ctx, "failed to queue document sync", "document_id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to queue sync", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "document sync queued", "document_id", id)
	h.writeJSON(ctx, w, http.StatusAccepted, map[string]interface{}{
		"status":      "accepted",
		"document_id": id,
	})
}

// FullSync queues a full sync pass.
func (h *Handler) FullSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, _ := json.Marshal(worker.SyncFullPayload{
		Reason:        "api",
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err := h.pub.Publish(config.TopicSyncFull, body); err != nil {
		slog.ErrorContext(ctx, "failed to queue full sync", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to queue sync", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "full sync queued")
	h.writeJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
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
