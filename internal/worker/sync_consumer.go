package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"ragbridge/internal/middleware"
)

// touchInterval keeps long full syncs from hitting the nsqd message timeout.
const touchInterval = 30 * time.Second

type SyncConsumer struct {
	syncer Syncer
}

func NewSyncConsumer(s Syncer) *SyncConsumer {
	return &SyncConsumer{syncer: s}
}

// HandleDocumentMessage consumes sync.document.
func (h *SyncConsumer) HandleDocumentMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload SyncDocumentPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "topic", "sync.document", "error", err)
		return nil
	}
	if payload.DocumentID <= 0 {
		slog.Error("poison pill: invalid document id", "document_id", payload.DocumentID)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	slog.InfoContext(ctx, "incremental sync requested", "document_id", payload.DocumentID)
	h.syncer.RunIncrementalSync(ctx, payload.DocumentID)
	return nil
}

// HandleFullSyncMessage consumes sync.full.
func (h *SyncConsumer) HandleFullSyncMessage(m *nsq.Message) error {
	var payload SyncFullPayload
	if len(m.Body) > 0 {
		if err := json.Unmarshal(m.Body, &payload); err != nil {
			slog.Error("poison pill: invalid json", "topic", "sync.full", "error", err)
			return nil
		}
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(touchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if m.Delegate != nil {
					m.Touch()
				}
			}
		}
	}()

	slog.InfoContext(ctx, "full sync requested", "reason", payload.Reason)
	h.syncer.RunFullSync(ctx)
	return nil
}
