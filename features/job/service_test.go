package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ragbridge/features/job"
	"ragbridge/internal/config"
	"ragbridge/internal/middleware"
	"ragbridge/internal/worker"
)

func TestService_Retry_PublishesDocument(t *testing.T) {
	mockRepo := new(MockRepo)
	mockPub := new(MockPublisher)
	svc := job.NewService(mockRepo, mockPub, nil)

	mockRepo.On("Get", mock.Anything, "job-1").Return(&job.Job{ID: "job-1", Engine: "paperless", DocumentID: 42}, nil)
	mockPub.On("Publish", config.TopicSyncDocument, mock.MatchedBy(func(body []byte) bool {
		var p worker.SyncDocumentPayload
		return json.Unmarshal(body, &p) == nil && p.DocumentID == 42 && p.CorrelationID == "corr-1"
	})).Return(nil)
	mockRepo.On("Delete", mock.Anything, "job-1").Return(nil)

	ctx := middleware.WithCorrelationID(context.Background(), "corr-1")
	require.NoError(t, svc.Retry(ctx, "job-1"))
	mockRepo.AssertExpectations(t)
	mockPub.AssertExpectations(t)
}

func TestService_Retry_ContextCancellation(t *testing.T) {
	mockRepo := new(MockRepo)
	mockPub := new(MockPublisher)
	svc := job.NewService(mockRepo, mockPub, nil)

	mockRepo.On("Get", mock.Anything, "job-1").Return(&job.Job{ID: "job-1", DocumentID: 1}, nil)
	mockPub.On("Publish", config.TopicSyncDocument, mock.Anything).Run(func(args mock.Arguments) {
		time.Sleep(100 * time.Millisecond)
	}).Return(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := svc.Retry(ctx, "job-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	mockRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestService_Retry_DeleteError(t *testing.T) {
	mockRepo := new(MockRepo)
	mockPub := new(MockPublisher)
	svc := job.NewService(mockRepo, mockPub, nil)

	mockRepo.On("Get", mock.Anything, "job-1").Return(&job.Job{ID: "job-1", DocumentID: 1}, nil)
	mockPub.On("Publish", config.TopicSyncDocument, mock.Anything).Return(nil)
	mockRepo.On("Delete", mock.Anything, "job-1").Return(errors.New("delete failed"))

	err := svc.Retry(context.Background(), "job-1")
	assert.EqualError(t, err, "delete failed")
}

func TestService_RecordFailure(t *testing.T) {
	mockRepo := new(MockRepo)
	svc := job.NewService(mockRepo, nil, nil)

	mockRepo.On("Save", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
		return j.Engine == "paperless" && j.DocumentID == 7 && j.Error == "embed: timeout"
	})).Return(nil)

	require.NoError(t, svc.RecordFailure(context.Background(), "paperless", 7, errors.New("embed: timeout")))
	mockRepo.AssertExpectations(t)
}

func TestService_RecordFailure_SaveError(t *testing.T) {
	mockRepo := new(MockRepo)
	svc := job.NewService(mockRepo, nil, nil)
	mockRepo.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down"))

	err := svc.RecordFailure(context.Background(), "paperless", 7, errors.New("x"))
	assert.ErrorContains(t, err, "db down")
}

func TestService_ResolveFailure(t *testing.T) {
	mockRepo := new(MockRepo)
	svc := job.NewService(mockRepo, nil, nil)
	mockRepo.On("DeleteByDocument", mock.Anything, "paperless", 7).Return(true, nil).Once()
	mockRepo.On("DeleteByDocument", mock.Anything, "paperless", 8).Return(false, nil).Once()
	mockRepo.On("DeleteByDocument", mock.Anything, "paperless", 9).Return(false, errors.New("db down")).Once()

	ctx := context.Background()
	require.NoError(t, svc.ResolveFailure(ctx, "paperless", 7))
	require.NoError(t, svc.ResolveFailure(ctx, "paperless", 8))
	assert.ErrorContains(t, svc.ResolveFailure(ctx, "paperless", 9), "db down")
	mockRepo.AssertExpectations(t)
}

// Service satisfies the orchestrator's journal.
var _ worker.FailureRecorder = (*job.Service)(nil)
