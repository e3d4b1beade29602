package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"golang.org/x/sync/errgroup"

	"ragbridge/features/job"
	"ragbridge/features/query"
	"ragbridge/features/stats"
	"ragbridge/features/webhook"
	"ragbridge/internal/config"
	"ragbridge/internal/middleware"
	"ragbridge/internal/retrieval"
	"ragbridge/internal/worker"
)

const syncChannel = "ragbridge"

type App struct {
	Handler      http.Handler
	Orchestrator *worker.Orchestrator
	Consumer     *worker.SyncConsumer
	Scheduler    *Scheduler

	cfg    *config.Config
	logger *slog.Logger
}

// NewOrchestrator wires the sync pipeline. jobs may be nil.
func NewOrchestrator(cfg *config.Config, deps *Dependencies, jobs worker.FailureRecorder, logger *slog.Logger) *worker.Orchestrator {
	orch := worker.NewOrchestrator(deps.Source, deps.Embedder, deps.Store, worker.Options{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		WriteBatchSize: cfg.WriteBatchSize,
		Concurrency:    cfg.Concurrency,
		ScrollLimit:    cfg.ScrollLimit,
	}, logger)
	if jobs != nil {
		orch.WithFailureRecorder(jobs)
	}
	return orch
}

// NewJobService returns the failed-sync journal, or nil when it is disabled.
func NewJobService(deps *Dependencies, pub TaskPublisher, logger *slog.Logger) *job.Service {
	if deps.DB == nil {
		return nil
	}
	return job.NewService(job.NewPostgresRepo(deps.DB), pub, logger)
}

func New(cfg *config.Config, deps *Dependencies, pub TaskPublisher, logger *slog.Logger) (*App, error) {
	if pub == nil {
		return nil, errors.New("app: task publisher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Feature: Job
	var jobRepo stats.JobRepo
	var recorder worker.FailureRecorder
	jobService := NewJobService(deps, pub, logger)
	if jobService != nil {
		jobRepo = jobService
		recorder = jobService
	}

	orch := NewOrchestrator(cfg, deps, recorder, logger)

	// Feature: Webhook
	webhookHandler := webhook.NewHandler(pub)

	// Feature: Query
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(deps.Embedder, deps.Store, queryLogger)
	queryHandler := query.NewHandler(retrievalService)

	// Feature: Stats
	statsHandler := stats.NewHandler(deps.Source.Engine(), cfg.RAGEngine, jobRepo, deps.Store, orch)

	// Middleware: CORS
	enableCORS := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.APIKeyHeader)

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	protected := func(h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(enableCORS(middleware.APIKey(cfg.APIKey, h)))
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /webhook/document", protected(webhookHandler.Document))
	mux.Handle("POST /sync", protected(webhookHandler.FullSync))
	mux.Handle("POST /query", protected(queryHandler.Query))
	mux.Handle("GET /stats", protected(statsHandler.GetStats))

	if jobService != nil {
		jobHandler := job.NewHandler(jobService)
		mux.Handle("GET /failed-syncs", protected(jobHandler.List))
		mux.Handle("POST /failed-syncs/{id}/retry", protected(jobHandler.Retry))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:      mux,
		Orchestrator: orch,
		Consumer:     worker.NewSyncConsumer(orch),
		Scheduler:    NewScheduler(pub, cfg.SyncInterval, logger),
		cfg:          cfg,
		logger:       logger,
	}, nil
}

// Run serves HTTP and, when enabled, consumes sync tasks and schedules full
// syncs. It returns after ctx is cancelled and everything has stopped.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.EnableSyncWorker {
		stop, err := a.startConsumers()
		if err != nil {
			return err
		}
		defer stop()

		g.Go(func() error {
			a.Scheduler.Run(ctx)
			return nil
		})
		if a.cfg.SyncOnStartup {
			a.Scheduler.Trigger("startup")
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("server starting", "port", a.cfg.ServerPort)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}

func (a *App) startConsumers() (func(), error) {
	docCfg := nsq.NewConfig()
	docCfg.MaxInFlight = a.cfg.Concurrency

	docConsumer, err := nsq.NewConsumer(config.TopicSyncDocument, syncChannel, docCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	docConsumer.AddConcurrentHandlers(nsq.HandlerFunc(a.Consumer.HandleDocumentMessage), a.cfg.Concurrency)

	// One full sync at a time; the handler touches the message while it runs.
	fullCfg := nsq.NewConfig()
	fullCfg.MaxInFlight = 1

	fullConsumer, err := nsq.NewConsumer(config.TopicSyncFull, syncChannel, fullCfg)
	if err != nil {
		docConsumer.Stop()
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	fullConsumer.AddHandler(nsq.HandlerFunc(a.Consumer.HandleFullSyncMessage))

	for _, c := range []*nsq.Consumer{docConsumer, fullConsumer} {
		if err := c.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
			a.logger.Error("failed to connect to NSQLookupd", "error", err)
		}
	}
	a.logger.Info("sync consumers connected", "lookupd", a.cfg.NSQLookupd)

	return func() {
		docConsumer.Stop()
		fullConsumer.Stop()
		<-docConsumer.StopChan
		<-fullConsumer.StopChan
	}, nil
}
