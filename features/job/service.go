package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ragbridge/internal/config"
	"ragbridge/internal/middleware"
	"ragbridge/internal/worker"
)

var ErrNoPublisher = errors.New("retry needs a task queue")

const publishTimeout = 5 * time.Second

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo   Repository
	pub    EventPublisher
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// RecordFailure journals a failed document sync.
func (s *Service) RecordFailure(ctx context.Context, engine string, documentID int, cause error) error {
	j := &Job{Engine: engine, DocumentID: documentID, Error: cause.Error()}
	if err := s.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("save failed sync: %w", err)
	}
	s.logger.DebugContext(ctx, "failed sync recorded", "id", j.ID, "document_id", documentID, "retries", j.Retries)
	return nil
}

// ResolveFailure drops the journal entry of a document that synced again.
func (s *Service) ResolveFailure(ctx context.Context, engine string, documentID int) error {
	removed, err := s.repo.DeleteByDocument(ctx, engine, documentID)
	if err != nil {
		return fmt.Errorf("resolve failed sync: %w", err)
	}
	if removed {
		s.logger.InfoContext(ctx, "failed sync resolved", "dms_engine", engine, "document_id", documentID)
	}
	return nil
}

// Retry requeues the document of a failed sync and drops the journal entry.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.pub == nil {
		return ErrNoPublisher
	}

	body, err := json.Marshal(worker.SyncDocumentPayload{
		DocumentID:    job.DocumentID,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- s.pub.Publish(config.TopicSyncDocument, body) }()

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-timer.C:
		return errors.New("timeout waiting for NSQ publish")
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "failed sync requeued", "id", id, "document_id", job.DocumentID)
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
