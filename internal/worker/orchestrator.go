package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ragbridge/internal/dms"
	"ragbridge/internal/text"
	"ragbridge/internal/vector"
)

type Options struct {
	ChunkSize      int
	ChunkOverlap   int
	WriteBatchSize int
	Concurrency    int
	ScrollLimit    int
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:      1000,
		ChunkOverlap:   100,
		WriteBatchSize: 100,
		Concurrency:    5,
		ScrollLimit:    1000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = 0
	}
	if o.WriteBatchSize <= 0 {
		o.WriteBatchSize = d.WriteBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.ScrollLimit <= 0 {
		o.ScrollLimit = d.ScrollLimit
	}
	return o
}

// Outcome of a single document sync that did not fail.
type Outcome int

const (
	OutcomeSynced Outcome = iota
	OutcomeSkipped
)

func (o Outcome) String() string {
	if o == OutcomeSkipped {
		return "skipped"
	}
	return "synced"
}

// FullSyncReport summarizes one full sync pass.
type FullSyncReport struct {
	Engine           string        `json:"dms_engine"`
	SnapshotVersion  uint64        `json:"snapshot_version"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration_ns"`
	Documents        int           `json:"documents"`
	Synced           int           `json:"synced"`
	Skipped          int           `json:"skipped"`
	Failed           int           `json:"failed"`
	OrphansRemoved   int           `json:"orphans_removed"`
	ReconcileSkipped bool          `json:"reconcile_skipped"`
	Error            string        `json:"error,omitempty"`
}

// Orchestrator keeps the vector index in line with the DMS.
type Orchestrator struct {
	source   DocumentSource
	embedder Embedder
	store    VectorStore
	failures FailureRecorder
	opts     Options
	logger   *slog.Logger

	running atomic.Bool
	mu      sync.Mutex
	last    *FullSyncReport
}

func NewOrchestrator(source DocumentSource, embedder Embedder, store VectorStore, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		source:   source,
		embedder: embedder,
		store:    store,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// WithFailureRecorder journals every failed document sync to r and clears
// the entry once the document syncs again.
func (o *Orchestrator) WithFailureRecorder(r FailureRecorder) *Orchestrator {
	o.failures = r
	return o
}

// LastReport returns the report of the most recent full sync, or nil.
func (o *Orchestrator) LastReport() *FullSyncReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	r := *o.last
	return &r
}

// RunFullSync syncs every listed document, then removes records of documents
// the DMS no longer lists. Per-document failures are counted, never raised.
func (o *Orchestrator) RunFullSync(ctx context.Context) {
	o.FullSync(ctx)
}

// FullSync is RunFullSync returning its report. A pass started while another
// is running is skipped and returns nil.
func (o *Orchestrator) FullSync(ctx context.Context) *FullSyncReport {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.WarnContext(ctx, "full sync already running, skipping")
		return nil
	}
	defer o.running.Store(false)

	engine := o.source.Engine()
	report := &FullSyncReport{Engine: engine, StartedAt: time.Now()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		o.mu.Lock()
		o.last = report
		o.mu.Unlock()
	}()

	o.logger.InfoContext(ctx, "full sync started", "dms_engine", engine)

	snap, err := o.source.RefreshCache(ctx)
	if err != nil {
		o.logger.ErrorContext(ctx, "full sync aborted: cache refresh failed", "dms_engine", engine, "error", err)
		report.Error = err.Error()
		report.ReconcileSkipped = true
		return report
	}
	report.SnapshotVersion = snap.Version
	report.Documents = len(snap.Documents)
	if len(snap.Partial) > 0 {
		o.logger.WarnContext(ctx, "snapshot is missing reference data", "dms_engine", engine, "missing", snap.Partial)
	}

	if len(snap.Documents) == 0 {
		o.logger.WarnContext(ctx, "dms listed no documents, skipping reconcile", "dms_engine", engine)
		report.ReconcileSkipped = true
		return report
	}

	var synced, skipped, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Concurrency)
	for _, doc := range snap.Documents {
		g.Go(func() error {
			outcome, err := o.SyncDocument(ctx, doc)
			switch {
			case err != nil:
				failed.Add(1)
				o.logger.ErrorContext(ctx, "document sync failed", "dms_engine", engine, "document_id", doc.ID, "error", err)
				o.recordFailure(ctx, engine, doc.ID, err)
			case outcome == OutcomeSkipped:
				skipped.Add(1)
			default:
				synced.Add(1)
				o.resolveFailure(ctx, engine, doc.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Synced = int(synced.Load())
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())

	if err := ctx.Err(); err != nil {
		o.logger.WarnContext(ctx, "full sync cancelled, skipping reconcile", "dms_engine", engine, "error", err)
		report.Error = err.Error()
		report.ReconcileSkipped = true
		return report
	}

	removed, err := o.reconcile(ctx, engine, snap.DocumentIDs())
	if err != nil {
		o.logger.ErrorContext(ctx, "orphan cleanup skipped", "dms_engine", engine, "error", err)
		report.ReconcileSkipped = true
	}
	report.OrphansRemoved = removed

	o.logger.InfoContext(ctx, "full sync finished",
		"dms_engine", engine,
		"documents", report.Documents,
		"synced", report.Synced,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"orphans_removed", report.OrphansRemoved,
	)
	return report
}

// RunIncrementalSync fetches one document fresh from the DMS and syncs it.
// It never reconciles.
func (o *Orchestrator) RunIncrementalSync(ctx context.Context, documentID int) {
	_, _ = o.IncrementalSync(ctx, documentID)
}

// IncrementalSync is RunIncrementalSync returning the outcome. Failures are
// logged and journaled before they are returned.
func (o *Orchestrator) IncrementalSync(ctx context.Context, documentID int) (Outcome, error) {
	engine := o.source.Engine()

	doc, err := o.source.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, dms.ErrNotFound) {
			o.logger.WarnContext(ctx, "document not found in dms, leaving cleanup to full sync", "dms_engine", engine, "document_id", documentID)
			return OutcomeSkipped, nil
		}
		o.logger.ErrorContext(ctx, "fetch document failed", "dms_engine", engine, "document_id", documentID, "error", err)
		o.recordFailure(ctx, engine, documentID, err)
		return OutcomeSkipped, fmt.Errorf("fetch document %d: %w", documentID, err)
	}

	outcome, err := o.SyncDocument(ctx, *doc)
	if err != nil {
		o.logger.ErrorContext(ctx, "document sync failed", "dms_engine", engine, "document_id", documentID, "error", err)
		o.recordFailure(ctx, engine, documentID, err)
		return outcome, err
	}
	if outcome == OutcomeSynced {
		o.resolveFailure(ctx, engine, documentID)
	}
	return outcome, nil
}

// SyncDocument replaces all records of doc with freshly embedded chunks.
// Documents without an owner or without text are skipped untouched.
func (o *Orchestrator) SyncDocument(ctx context.Context, doc dms.Document) (Outcome, error) {
	engine := o.source.Engine()
	log := o.logger.With("dms_engine", engine, "document_id", doc.ID)

	if doc.OwnerID == nil {
		log.WarnContext(ctx, "skipping document without owner")
		return OutcomeSkipped, nil
	}

	chunks := text.Split(doc.Content, o.opts.ChunkSize, o.opts.ChunkOverlap)
	if len(chunks) == 0 {
		log.InfoContext(ctx, "skipping document without content")
		return OutcomeSkipped, nil
	}

	vectors, err := o.embedder.EmbedBatch(ctx, text.Texts(chunks))
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("embed document %d: %w", doc.ID, err)
	}

	records, err := BuildRecords(engine, doc, chunks, vectors)
	if err != nil {
		return OutcomeSkipped, err
	}

	if err := o.store.DeleteByFilter(ctx, vector.DocumentFilter(engine, doc.ID)); err != nil {
		return OutcomeSkipped, fmt.Errorf("delete records of document %d: %w", doc.ID, err)
	}

	for batch := range slices.Chunk(records, o.opts.WriteBatchSize) {
		if err := o.store.Write(ctx, batch); err != nil {
			return OutcomeSkipped, fmt.Errorf("write records of document %d: %w", doc.ID, err)
		}
	}

	log.InfoContext(ctx, "document synced", "chunks", len(records))
	return OutcomeSynced, nil
}

// reconcile deletes records of documents missing from current. A scroll
// failure aborts before anything is deleted. Per-document delete failures are
// logged and left for the next pass.
func (o *Orchestrator) reconcile(ctx context.Context, engine string, current map[int]struct{}) (int, error) {
	stored := make(map[int]struct{})
	offset := ""
	for {
		page, err := o.store.Scroll(ctx, vector.EngineFilter(engine), o.opts.ScrollLimit, offset)
		if err != nil {
			return 0, fmt.Errorf("scroll stored records: %w", err)
		}
		for _, r := range page.Records {
			stored[r.DocID] = struct{}{}
		}
		if page.NextOffset == "" || len(page.Records) == 0 {
			break
		}
		offset = page.NextOffset
	}

	var orphans []int
	for id := range stored {
		if _, ok := current[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	slices.Sort(orphans)
	if len(orphans) == 0 {
		return 0, nil
	}
	o.logger.InfoContext(ctx, "removing orphaned documents", "dms_engine", engine, "count", len(orphans))

	removed := 0
	for _, id := range orphans {
		if err := o.store.DeleteByFilter(ctx, vector.DocumentFilter(engine, id)); err != nil {
			o.logger.ErrorContext(ctx, "orphan delete failed", "dms_engine", engine, "document_id", id, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, engine string, documentID int, cause error) {
	if o.failures == nil {
		return
	}
	if err := o.failures.RecordFailure(ctx, engine, documentID, cause); err != nil {
		o.logger.ErrorContext(ctx, "failed to record sync failure", "dms_engine", engine, "document_id", documentID, "error", err)
	}
}

func (o *Orchestrator) resolveFailure(ctx context.Context, engine string, documentID int) {
	if o.failures == nil {
		return
	}
	if err := o.failures.ResolveFailure(ctx, engine, documentID); err != nil {
		o.logger.ErrorContext(ctx, "failed to resolve sync failure", "dms_engine", engine, "document_id", documentID, "error", err)
	}
}
