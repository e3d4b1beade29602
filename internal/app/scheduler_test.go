package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragbridge/internal/config"
	"ragbridge/internal/worker"
)

func TestScheduler_Trigger(t *testing.T) {
	pub := &recordingPublisher{}
	NewScheduler(pub, time.Minute, nil).Trigger("startup")

	require.Equal(t, []string{config.TopicSyncFull}, pub.published())
	var payload worker.SyncFullPayload
	require.NoError(t, json.Unmarshal(pub.bodies[0], &payload))
	assert.Equal(t, "startup", payload.Reason)
	assert.NotEmpty(t, payload.CorrelationID)
}

func TestScheduler_Run(t *testing.T) {
	pub := &recordingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewScheduler(pub, 10*time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(pub.published()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestScheduler_DisabledReturns(t *testing.T) {
	pub := &recordingPublisher{}
	NewScheduler(pub, 0, nil).Run(context.Background())
	assert.Empty(t, pub.published())
}
