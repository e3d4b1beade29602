package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ragbridge/internal/config"
	"ragbridge/internal/worker"
)

// Scheduler queues a full sync every interval until ctx is done.
type Scheduler struct {
	pub      TaskPublisher
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(pub TaskPublisher, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{pub: pub, interval: interval, logger: logger}
}

func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("full sync scheduled", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Trigger("schedule")
		}
	}
}

// Trigger queues one full sync.
func (s *Scheduler) Trigger(reason string) {
	body, _ := json.Marshal(worker.SyncFullPayload{Reason: reason, CorrelationID: uuid.NewString()})
	if err := s.pub.Publish(config.TopicSyncFull, body); err != nil {
		s.logger.Error("failed to queue full sync", "reason", reason, "error", err)
		return
	}
	s.logger.Info("full sync queued", "reason", reason)
}
