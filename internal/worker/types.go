package worker

import (
	"context"

	"ragbridge/internal/dms"
	"ragbridge/internal/vector"
)

// DocumentSource is the DMS the index mirrors.
type DocumentSource interface {
	Engine() string
	RefreshCache(ctx context.Context) (*dms.Snapshot, error)
	GetDocument(ctx context.Context, id int) (*dms.Document, error)
}

type Embedder interface {
	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorStore interface {
	Write(ctx context.Context, records []vector.Record) error
	Scroll(ctx context.Context, filter vector.Filter, limit int, offset string) (*vector.ScrollPage, error)
	DeleteByFilter(ctx context.Context, filter vector.Filter) error
	CollectionExists(ctx context.Context) (bool, error)
	CreateCollection(ctx context.Context, vectorSize int, distance vector.Distance) error
}

// FailureRecorder keeps failed document syncs for later inspection and retry.
// ResolveFailure is called after a document syncs successfully.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, engine string, documentID int, cause error) error
	ResolveFailure(ctx context.Context, engine string, documentID int) error
}

// Syncer is what the queue consumers drive.
type Syncer interface {
	RunFullSync(ctx context.Context)
	RunIncrementalSync(ctx context.Context, documentID int)
}
