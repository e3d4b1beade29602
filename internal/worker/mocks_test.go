package worker_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"ragbridge/internal/dms"
	"ragbridge/internal/vector"
)

// Mocks

type MockSource struct{ mock.Mock }

func (m *MockSource) Engine() string { return "paperless" }

func (m *MockSource) RefreshCache(ctx context.Context) (*dms.Snapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dms.Snapshot), args.Error(1)
}

func (m *MockSource) GetDocument(ctx context.Context, id int) (*dms.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dms.Document), args.Error(1)
}

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) Write(ctx context.Context, records []vector.Record) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockVectorStore) Scroll(ctx context.Context, filter vector.Filter, limit int, offset string) (*vector.ScrollPage, error) {
	args := m.Called(ctx, filter, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vector.ScrollPage), args.Error(1)
}

func (m *MockVectorStore) DeleteByFilter(ctx context.Context, filter vector.Filter) error {
	args := m.Called(ctx, filter)
	return args.Error(0)
}

func (m *MockVectorStore) CollectionExists(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockVectorStore) CreateCollection(ctx context.Context, size int, distance vector.Distance) error {
	args := m.Called(ctx, size, distance)
	return args.Error(0)
}

type MockFailureRecorder struct{ mock.Mock }

func (m *MockFailureRecorder) RecordFailure(ctx context.Context, engine string, documentID int, cause error) error {
	args := m.Called(ctx, engine, documentID, cause)
	return args.Error(0)
}

func (m *MockFailureRecorder) ResolveFailure(ctx context.Context, engine string, documentID int) error {
	args := m.Called(ctx, engine, documentID)
	return args.Error(0)
}

type MockSyncer struct{ mock.Mock }

func (m *MockSyncer) RunFullSync(ctx context.Context) { m.Called(ctx) }

func (m *MockSyncer) RunIncrementalSync(ctx context.Context, documentID int) {
	m.Called(ctx, documentID)
}

// Fakes

// constEmbedder returns a 3-dimensional vector per text.
type constEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *constEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, float32(len(texts[i]))}
	}
	return out, nil
}

// slowEmbedder holds every call for a while and tracks the peak number of
// calls in flight. Texts listed in fail return an error.
type slowEmbedder struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     map[string]bool
}

func (e *slowEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)

	if e.fail[texts[0]] {
		return nil, errors.New("embedder unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

// memStore is an in-memory VectorStore honoring exact-match filters.
type memStore struct {
	mu       sync.Mutex
	records  map[string]vector.Record
	writes   []int
	deletes  int
	failDocs map[int]error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]vector.Record)}
}

func (s *memStore) Write(_ context.Context, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, len(records))
	for _, r := range records {
		s.records[r.ID] = r
	}
	return nil
}

func (s *memStore) Scroll(_ context.Context, filter vector.Filter, limit int, offset string) (*vector.ScrollPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for id, r := range s.records {
		if matches(r.Payload, filter) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	start := 0
	if offset != "" {
		start, _ = slices.BinarySearch(ids, offset)
	}
	end := min(start+limit, len(ids))
	page := &vector.ScrollPage{}
	for _, id := range ids[start:end] {
		page.Records = append(page.Records, vector.StoredRecord{ID: id, DocID: s.records[id].Payload.DocID})
	}
	if end < len(ids) {
		page.NextOffset = ids[end]
	}
	return page, nil
}

func (s *memStore) DeleteByFilter(_ context.Context, filter vector.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	for _, c := range filter.Must {
		if c.Key == vector.FieldDocID {
			if err, ok := s.failDocs[c.Value.(int)]; ok {
				return err
			}
		}
	}
	for id, r := range s.records {
		if matches(r.Payload, filter) {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *memStore) CollectionExists(context.Context) (bool, error)                 { return true, nil }
func (s *memStore) CreateCollection(context.Context, int, vector.Distance) error { return nil }

func (s *memStore) snapshot() map[string]vector.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]vector.Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

func (s *memStore) docIDs() []int {
	seen := map[int]struct{}{}
	for _, r := range s.snapshot() {
		seen[r.Payload.DocID] = struct{}{}
	}
	var ids []int
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func matches(p vector.Payload, f vector.Filter) bool {
	for _, c := range f.Must {
		var got any
		switch c.Key {
		case vector.FieldEngine:
			got = p.Engine
		case vector.FieldDocID:
			got = p.DocID
		case vector.FieldOwnerID:
			got = p.OwnerID
		default:
			panic(fmt.Sprintf("memStore: unsupported filter key %q", c.Key))
		}
		if got != c.Value {
			return false
		}
	}
	return true
}

// fakeSource serves a fixed document list.
type fakeSource struct {
	mu   sync.Mutex
	docs []dms.Document
}

func (s *fakeSource) Engine() string { return "paperless" }

func (s *fakeSource) set(docs ...dms.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = docs
}

func (s *fakeSource) RefreshCache(context.Context) (*dms.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := dms.NewSnapshot()
	snap.Version = 1
	snap.Documents = slices.Clone(s.docs)
	return snap, nil
}

func (s *fakeSource) GetDocument(_ context.Context, id int) (*dms.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, dms.ErrNotFound
}

func ptr[T any](v T) *T { return &v }

func ownedDoc(id, owner int, content string) dms.Document {
	return dms.Document{Engine: "paperless", ID: id, Title: fmt.Sprintf("Doc %d", id), Content: content, OwnerID: ptr(owner)}
}
