package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"

	"ragbridge/internal/config"
	"ragbridge/internal/vector"
	"ragbridge/internal/worker"
)

// TaskPublisher is the write side of the task queue.
type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type Dependencies struct {
	// DB is nil when the failed-sync journal is disabled.
	DB       *sql.DB
	Source   Source
	Embedder Embedder
	Store    Store
	// Producer is nil unless the queue was requested.
	Producer *nsq.Producer
}

// BootstrapOptions selects the infrastructure a command needs.
type BootstrapOptions struct {
	Queue bool
}

func Bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts BootstrapOptions) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	deps := &Dependencies{}

	// Database
	if cfg.JournalEnabled {
		db, err := openDatabase(ctx, cfg, logger, retryDelay)
		if err != nil {
			return nil, err
		}
		deps.DB = db
	}

	// Engines
	var err error
	if deps.Source, err = NewSource(cfg, logger); err != nil {
		deps.Close()
		return nil, fmt.Errorf("dms source: %w", err)
	}
	if deps.Embedder, err = NewEmbedder(ctx, cfg); err != nil {
		deps.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	if deps.Store, err = NewStore(cfg); err != nil {
		deps.Close()
		return nil, fmt.Errorf("vector store: %w", err)
	}
	checkHealth(ctx, logger, deps)

	// Collection
	distance, err := vector.ParseDistance(cfg.VectorDistance)
	if err != nil {
		deps.Close()
		return nil, err
	}
	size := cfg.VectorSize
	if err := EnsureCollectionWithRetry(ctx, deps.Store, func(ctx context.Context) (int, error) {
		if size > 0 {
			return size, nil
		}
		return deps.Embedder.Dimensions(ctx)
	}, distance, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		deps.Close()
		return nil, fmt.Errorf("vector collection error: %w", err)
	}

	// NSQ Producer
	if opts.Queue {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.Producer = producer
		createTopics(cfg.NSQDHTTP)
	}

	return deps, nil
}

// Close releases what Bootstrap opened.
func (d *Dependencies) Close() {
	if d.Producer != nil {
		d.Producer.Stop()
	}
	if c, ok := d.Embedder.(io.Closer); ok {
		_ = c.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger, retryDelay time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Retry loop
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		logger.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	logger.Info("migrations applied successfully")
	return db, nil
}

// checkHealth logs unreachable engines. Sync passes report their own
// failures, so startup continues.
func checkHealth(ctx context.Context, logger *slog.Logger, deps *Dependencies) {
	for name, c := range map[string]any{"source": deps.Source, "embedder": deps.Embedder, "store": deps.Store} {
		p, ok := c.(pinger)
		if !ok {
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := p.Ping(pingCtx); err != nil {
			logger.Warn("engine not reachable at startup", "component", name, "error", err)
		}
		cancel()
	}
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicSyncDocument)
		create(config.TopicSyncFull)
	}()
}

// EnsureCollection creates the collection when it does not exist yet. size is
// only consulted when a collection has to be created.
func EnsureCollection(ctx context.Context, store worker.VectorStore, size func(context.Context) (int, error), distance vector.Distance) error {
	exists, err := store.CollectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	n, err := size(ctx)
	if err != nil {
		return fmt.Errorf("resolve vector size: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("%w: vector size %d", config.ErrInvalid, n)
	}
	slog.InfoContext(ctx, "creating vector collection", "size", n, "distance", distance)
	return store.CreateCollection(ctx, n, distance)
}

// EnsureCollectionWithRetry retries EnsureCollection while the store starts up.
func EnsureCollectionWithRetry(ctx context.Context, store worker.VectorStore, size func(context.Context) (int, error), distance vector.Distance, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < max(attempts, 1); i++ {
		if err = EnsureCollection(ctx, store, size, distance); err == nil {
			return nil
		}
		slog.Warn("failed to ensure vector collection, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
