package worker_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ragbridge/internal/dms"
	"ragbridge/internal/vector"
	"ragbridge/internal/worker"
)

func newTestOrchestrator(src worker.DocumentSource, store worker.VectorStore) *worker.Orchestrator {
	return worker.NewOrchestrator(src, &constEmbedder{}, store, worker.DefaultOptions(), nil)
}

func TestSyncDocument_ChunksAndIDs(t *testing.T) {
	store := newMemStore()
	orch := newTestOrchestrator(&fakeSource{}, store)

	outcome, err := orch.SyncDocument(context.Background(), ownedDoc(42, 1, strings.Repeat("a", 2400)))
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeSynced, outcome)

	records := store.snapshot()
	require.Len(t, records, 3)
	for i := range 3 {
		r, ok := records[worker.PointID("paperless", 42, i)]
		require.True(t, ok, "chunk %d", i)
		assert.Equal(t, i, r.Payload.ChunkIndex)
		assert.Equal(t, 1, r.Payload.OwnerID)
	}
	assert.Len(t, records[worker.PointID("paperless", 42, 2)].Payload.ChunkText, 600)
}

func TestSyncDocument_Idempotent(t *testing.T) {
	store := newMemStore()
	orch := newTestOrchestrator(&fakeSource{}, store)
	doc := ownedDoc(42, 1, strings.Repeat("b", 2400))

	_, err := orch.SyncDocument(context.Background(), doc)
	require.NoError(t, err)
	first := store.snapshot()

	_, err = orch.SyncDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, first, store.snapshot())
}

func TestSyncDocument_ShrinkingDocumentLeavesNoStaleChunks(t *testing.T) {
	store := newMemStore()
	orch := newTestOrchestrator(&fakeSource{}, store)

	_, err := orch.SyncDocument(context.Background(), ownedDoc(42, 1, strings.Repeat("c", 2400)))
	require.NoError(t, err)
	require.Len(t, store.snapshot(), 3)

	_, err = orch.SyncDocument(context.Background(), ownedDoc(42, 1, strings.Repeat("c", 500)))
	require.NoError(t, err)

	records := store.snapshot()
	require.Len(t, records, 1)
	_, ok := records[worker.PointID("paperless", 42, 0)]
	assert.True(t, ok)
}

func TestSyncDocument_WithoutOwnerTouchesNothing(t *testing.T) {
	src := new(MockSource)
	emb := new(MockEmbedder)
	store := new(MockVectorStore)
	orch := worker.NewOrchestrator(src, emb, store, worker.DefaultOptions(), nil)

	doc := dms.Document{ID: 7, Content: "content without owner"}
	outcome, err := orch.SyncDocument(context.Background(), doc)

	assert.NoError(t, err)
	assert.Equal(t, worker.OutcomeSkipped, outcome)
	emb.AssertNotCalled(t, "EmbedBatch", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "DeleteByFilter", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Write", mock.Anything, mock.Anything)
}

func TestSyncDocument_EmptyContentSkipped(t *testing.T) {
	store := new(MockVectorStore)
	emb := new(MockEmbedder)
	orch := worker.NewOrchestrator(new(MockSource), emb, store, worker.DefaultOptions(), nil)

	outcome, err := orch.SyncDocument(context.Background(), ownedDoc(1, 1, "   \n"))
	assert.NoError(t, err)
	assert.Equal(t, worker.OutcomeSkipped, outcome)
	emb.AssertNotCalled(t, "EmbedBatch", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "DeleteByFilter", mock.Anything, mock.Anything)
}

func TestSyncDocument_WritesInBatches(t *testing.T) {
	store := newMemStore()
	orch := newTestOrchestrator(&fakeSource{}, store)

	_, err := orch.SyncDocument(context.Background(), ownedDoc(9, 1, strings.Repeat("d", 225000)))
	require.NoError(t, err)

	assert.Equal(t, []int{100, 100, 50}, store.writes)
	assert.Len(t, store.snapshot(), 250)
}

func TestSyncDocument_EmbedFailureKeepsOldRecords(t *testing.T) {
	emb := new(MockEmbedder)
	store := new(MockVectorStore)
	orch := worker.NewOrchestrator(new(MockSource), emb, store, worker.DefaultOptions(), nil)

	emb.On("EmbedBatch", mock.Anything, []string{"hello"}).Return(nil, errors.New("model offline"))

	_, err := orch.SyncDocument(context.Background(), ownedDoc(1, 1, "hello"))
	assert.ErrorContains(t, err, "model offline")
	store.AssertNotCalled(t, "DeleteByFilter", mock.Anything, mock.Anything)
}

func TestSyncDocument_DeletesBeforeWrite(t *testing.T) {
	emb := new(MockEmbedder)
	store := new(MockVectorStore)
	orch := worker.NewOrchestrator(new(MockSource), emb, store, worker.DefaultOptions(), nil)

	var order []string
	emb.On("EmbedBatch", mock.Anything, []string{"hello"}).Return([][]float32{{1, 2}}, nil)
	store.On("DeleteByFilter", mock.Anything, vector.DocumentFilter("paperless", 1)).
		Run(func(mock.Arguments) { order = append(order, "delete") }).Return(nil)
	store.On("Write", mock.Anything, mock.MatchedBy(func(rs []vector.Record) bool {
		return len(rs) == 1 && rs[0].ID == worker.PointID("paperless", 1, 0)
	})).Run(func(mock.Arguments) { order = append(order, "write") }).Return(nil)

	_, err := orch.SyncDocument(context.Background(), ownedDoc(1, 1, "hello"))
	require.NoError(t, err)
	assert.Equal(t, []string{"delete", "write"}, order)
	store.AssertExpectations(t)
}

func TestFullSync_ReconcilesOrphans(t *testing.T) {
	src := &fakeSource{}
	store := newMemStore()
	orch := newTestOrchestrator(src, store)
	ctx := context.Background()

	src.set(ownedDoc(1, 1, "one"), ownedDoc(2, 1, "two"), ownedDoc(3, 2, "three"))
	report := orch.FullSync(ctx)
	require.NotNil(t, report)
	assert.Equal(t, 3, report.Synced)
	assert.Equal(t, []int{1, 2, 3}, store.docIDs())

	src.set(ownedDoc(1, 1, "one"), ownedDoc(3, 2, "three"))
	report = orch.FullSync(ctx)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.OrphansRemoved)
	assert.False(t, report.ReconcileSkipped)
	assert.Equal(t, []int{1, 3}, store.docIDs())
	assert.Equal(t, report, orch.LastReport())
}

func TestFullSync_CountsOutcomes(t *testing.T) {
	src := &fakeSource{}
	store := newMemStore()
	orch := newTestOrchestrator(src, store)

	src.set(ownedDoc(1, 1, "one"), dms.Document{ID: 2, Content: "ownerless"}, ownedDoc(3, 1, ""))
	report := orch.FullSync(context.Background())

	require.NotNil(t, report)
	assert.Equal(t, 3, report.Documents)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, report.Failed)
}

func TestFullSync_OwnerlessDocumentKeepsExistingRecords(t *testing.T) {
	src := &fakeSource{}
	store := newMemStore()
	orch := newTestOrchestrator(src, store)
	ctx := context.Background()

	src.set(ownedDoc(5, 1, "owned"))
	orch.FullSync(ctx)
	require.Equal(t, []int{5}, store.docIDs())

	// Still listed, so not an orphan, even though it is now skipped.
	src.set(dms.Document{ID: 5, Content: "owned"})
	report := orch.FullSync(ctx)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.OrphansRemoved)
	assert.Equal(t, []int{5}, store.docIDs())
}

func TestFullSync_EmptyListingSkipsReconcile(t *testing.T) {
	src := &fakeSource{}
	store := newMemStore()
	orch := newTestOrchestrator(src, store)
	ctx := context.Background()

	src.set(ownedDoc(1, 1, "one"))
	orch.FullSync(ctx)

	src.set()
	report := orch.FullSync(ctx)
	assert.True(t, report.ReconcileSkipped)
	assert.Equal(t, []int{1}, store.docIDs())
}

func TestFullSync_ScrollFailureSkipsCleanup(t *testing.T) {
	src := new(MockSource)
	store := new(MockVectorStore)
	emb := new(MockEmbedder)
	orch := worker.NewOrchestrator(src, emb, store, worker.DefaultOptions(), nil)

	snap := dms.NewSnapshot()
	snap.Documents = []dms.Document{ownedDoc(1, 1, "one")}
	src.On("RefreshCache", mock.Anything).Return(snap, nil)
	emb.On("EmbedBatch", mock.Anything, []string{"one"}).Return([][]float32{{1}}, nil)
	store.On("DeleteByFilter", mock.Anything, vector.DocumentFilter("paperless", 1)).Return(nil).Once()
	store.On("Write", mock.Anything, mock.Anything).Return(nil)
	store.On("Scroll", mock.Anything, vector.EngineFilter("paperless"), 1000, "").Return(nil, errors.New("store down"))

	report := orch.FullSync(context.Background())
	require.NotNil(t, report)
	assert.True(t, report.ReconcileSkipped)
	assert.Equal(t, 1, report.Synced)
	store.AssertNumberOfCalls(t, "DeleteByFilter", 1)
}

func TestFullSync_OrphanDeleteFailureContinues(t *testing.T) {
	src := &fakeSource{}
	store := newMemStore()
	orch := newTestOrchestrator(src, store)
	ctx := context.Background()

	src.set(ownedDoc(1, 1, "a"), ownedDoc(2, 1, "b"), ownedDoc(3, 1, "c"))
	orch.FullSync(ctx)

	store.failDocs = map[int]error{2: errors.New("locked")}
	src.set(ownedDoc(1, 1, "a"))
	report := orch.FullSync(ctx)

	assert.Equal(t, 1, report.OrphansRemoved)
	assert.Equal(t, []int{1, 2}, store.docIDs())
}

func TestFullSync_ScrollsAllPages(t *testing.T) {
	src := &fakeSource{}
	store := newMemStore()
	opts := worker.DefaultOptions()
	opts.ScrollLimit = 2
	orch := worker.NewOrchestrator(src, &constEmbedder{}, store, opts, nil)
	ctx := context.Background()

	var docs []dms.Document
	for id := 1; id <= 7; id++ {
		docs = append(docs, ownedDoc(id, 1, strings.Repeat("x", 1500)))
	}
	src.set(docs...)
	orch.FullSync(ctx)

	src.set(docs[0])
	report := orch.FullSync(ctx)
	assert.Equal(t, 6, report.OrphansRemoved)
	assert.Equal(t, []int{1}, store.docIDs())
}

func TestFullSync_RecordsFailures(t *testing.T) {
	src := new(MockSource)
	emb := new(MockEmbedder)
	store := newMemStore()
	rec := new(MockFailureRecorder)
	orch := worker.NewOrchestrator(src, emb, store, worker.DefaultOptions(), nil).WithFailureRecorder(rec)

	snap := dms.NewSnapshot()
	snap.Documents = []dms.Document{ownedDoc(1, 1, "ok"), ownedDoc(2, 1, "bad")}
	src.On("RefreshCache", mock.Anything).Return(snap, nil)
	emb.On("EmbedBatch", mock.Anything, []string{"ok"}).Return([][]float32{{1}}, nil)
	emb.On("EmbedBatch", mock.Anything, []string{"bad"}).Return(nil, errors.New("boom"))
	rec.On("RecordFailure", mock.Anything, "paperless", 2, mock.Anything).Return(nil)
	rec.On("ResolveFailure", mock.Anything, "paperless", 1).Return(nil)

	report := orch.FullSync(context.Background())
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []int{1}, store.docIDs())
	rec.AssertExpectations(t)
}

func TestFullSync_RefreshFailureAborts(t *testing.T) {
	src := new(MockSource)
	store := new(MockVectorStore)
	orch := worker.NewOrchestrator(src, new(MockEmbedder), store, worker.DefaultOptions(), nil)

	src.On("RefreshCache", mock.Anything).Return(nil, errors.New("dms unreachable"))

	report := orch.FullSync(context.Background())
	require.NotNil(t, report)
	assert.Equal(t, "dms unreachable", report.Error)
	assert.True(t, report.ReconcileSkipped)
	store.AssertNotCalled(t, "Scroll", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIncrementalSync(t *testing.T) {
	src := &fakeSource{}
	store := newMemStore()
	orch := newTestOrchestrator(src, store)
	ctx := context.Background()

	src.set(ownedDoc(1, 1, "one"), ownedDoc(2, 1, "two"))
	outcome, err := orch.IncrementalSync(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeSynced, outcome)
	assert.Equal(t, []int{2}, store.docIDs())
}

func TestIncrementalSync_NeverReconciles(t *testing.T) {
	src := &fakeSource{}
	store := newMemStore()
	orch := newTestOrchestrator(src, store)
	ctx := context.Background()

	src.set(ownedDoc(1, 1, "one"), ownedDoc(2, 1, "two"))
	orch.FullSync(ctx)

	src.set(ownedDoc(2, 1, "two changed"))
	_, err := orch.IncrementalSync(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, store.docIDs())
}

func TestIncrementalSync_NotFound(t *testing.T) {
	src := new(MockSource)
	rec := new(MockFailureRecorder)
	orch := worker.NewOrchestrator(src, new(MockEmbedder), new(MockVectorStore), worker.DefaultOptions(), nil).WithFailureRecorder(rec)

	src.On("GetDocument", mock.Anything, 99).Return(nil, dms.ErrNotFound)

	outcome, err := orch.IncrementalSync(context.Background(), 99)
	assert.NoError(t, err)
	assert.Equal(t, worker.OutcomeSkipped, outcome)
	rec.AssertNotCalled(t, "RecordFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIncrementalSync_FetchFailureRecorded(t *testing.T) {
	src := new(MockSource)
	rec := new(MockFailureRecorder)
	orch := worker.NewOrchestrator(src, new(MockEmbedder), new(MockVectorStore), worker.DefaultOptions(), nil).WithFailureRecorder(rec)

	src.On("GetDocument", mock.Anything, 5).Return(nil, errors.New("timeout"))
	rec.On("RecordFailure", mock.Anything, "paperless", 5, mock.Anything).Return(nil)

	_, err := orch.IncrementalSync(context.Background(), 5)
	assert.ErrorContains(t, err, "timeout")
	rec.AssertExpectations(t)
}

func TestLastReport_NilBeforeFirstRun(t *testing.T) {
	orch := newTestOrchestrator(&fakeSource{}, newMemStore())
	assert.Nil(t, orch.LastReport())
}

func TestFullSync_BoundsConcurrency(t *testing.T) {
	src := &fakeSource{}
	store := newMemStore()
	emb := &slowEmbedder{fail: map[string]bool{"doc 1": true}}
	orch := worker.NewOrchestrator(src, emb, store, worker.DefaultOptions(), nil)

	var docs []dms.Document
	for id := 1; id <= 15; id++ {
		docs = append(docs, ownedDoc(id, 1, fmt.Sprintf("doc %d", id)))
	}
	src.set(docs...)

	report := orch.FullSync(context.Background())
	require.NotNil(t, report)

	assert.LessOrEqual(t, emb.peak.Load(), int32(worker.DefaultOptions().Concurrency))
	assert.Greater(t, emb.peak.Load(), int32(1))

	// one failing document does not stop its siblings
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 14, report.Synced)
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, store.docIDs())
}

func TestFullSync_ResolvesRecoveredFailures(t *testing.T) {
	src := &fakeSource{}
	rec := new(MockFailureRecorder)
	orch := newTestOrchestrator(src, newMemStore()).WithFailureRecorder(rec)

	src.set(ownedDoc(1, 1, "one"), ownedDoc(2, 1, ""))
	// a journal error is logged, never fails the sync
	rec.On("ResolveFailure", mock.Anything, "paperless", 1).Return(errors.New("db down"))

	report := orch.FullSync(context.Background())
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, report.Skipped)
	rec.AssertExpectations(t)
	rec.AssertNotCalled(t, "ResolveFailure", mock.Anything, "paperless", 2)
	rec.AssertNotCalled(t, "RecordFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIncrementalSync_ResolvesFailure(t *testing.T) {
	src := &fakeSource{}
	rec := new(MockFailureRecorder)
	orch := newTestOrchestrator(src, newMemStore()).WithFailureRecorder(rec)
	ctx := context.Background()

	src.set(ownedDoc(4, 1, "four"), dms.Document{ID: 5, Content: "ownerless"})
	rec.On("ResolveFailure", mock.Anything, "paperless", 4).Return(nil).Once()

	outcome, err := orch.IncrementalSync(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeSynced, outcome)

	outcome, err = orch.IncrementalSync(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, worker.OutcomeSkipped, outcome)

	rec.AssertExpectations(t)
	rec.AssertNumberOfCalls(t, "ResolveFailure", 1)
}
