package app

import (
	"context"
	"sync"

	"ragbridge/internal/dms"
	"ragbridge/internal/vector"
)

type fakeSource struct{}

func (fakeSource) Engine() string { return "paperless" }
func (fakeSource) RefreshCache(context.Context) (*dms.Snapshot, error) {
	return dms.NewSnapshot(), nil
}
func (fakeSource) GetDocument(context.Context, int) (*dms.Document, error) {
	return nil, dms.ErrNotFound
}

type fakeEmbedder struct{ dims int }

func (e fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, e.dims)
	}
	return out, nil
}
func (e fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, e.dims), nil
}
func (e fakeEmbedder) Dimensions(context.Context) (int, error) { return e.dims, nil }

type fakeStore struct {
	mu          sync.Mutex
	exists      bool
	existsErrs  int
	created     []int
	distance    vector.Distance
	count       int
	existsCalls int
}

func (s *fakeStore) Write(context.Context, []vector.Record) error { return nil }
func (s *fakeStore) Scroll(context.Context, vector.Filter, int, string) (*vector.ScrollPage, error) {
	return &vector.ScrollPage{}, nil
}
func (s *fakeStore) DeleteByFilter(context.Context, vector.Filter) error { return nil }
func (s *fakeStore) CollectionExists(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existsCalls++
	if s.existsErrs > 0 {
		s.existsErrs--
		return false, errStoreDown
	}
	return s.exists, nil
}
func (s *fakeStore) CreateCollection(_ context.Context, size int, d vector.Distance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, size)
	s.distance = d
	s.exists = true
	return nil
}
func (s *fakeStore) Search(context.Context, []float32, vector.Filter, int) ([]vector.ScoredRecord, error) {
	return nil, nil
}
func (s *fakeStore) Count(context.Context) (int, error) { return s.count, nil }

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
}

func (p *recordingPublisher) Publish(topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}
