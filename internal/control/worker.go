// Package control owns the worker's lifecycle: it wires the stores, the
// resilience layer and the request orchestrator, and manages startup and
// graceful shutdown.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pressly/goose/v3"

	"github.com/falconml/inferd/internal/api"
	"github.com/falconml/inferd/internal/core/config"
	"github.com/falconml/inferd/internal/infra/postgres"
	redisclient "github.com/falconml/inferd/internal/infra/redis"
	"github.com/falconml/inferd/internal/infra/store"
	"github.com/falconml/inferd/internal/infra/store/memory"
	"github.com/falconml/inferd/internal/resilience"
	"github.com/falconml/inferd/internal/serving/cache"
	"github.com/falconml/inferd/internal/serving/idempotency"
	"github.com/falconml/inferd/internal/serving/inference"
	"github.com/falconml/inferd/internal/serving/logbuffer"
	"github.com/falconml/inferd/internal/serving/orchestrator"
)

// Worker is the assembled inference worker.
type Worker struct {
	cfg         *config.AppConfig
	server      *api.Server
	logBuffer   *logbuffer.Buffer
	redisClient *redisclient.Client
	db          *postgres.DB
	log         *slog.Logger
}

// NewWorker creates a Worker with all dependencies initialized. Missing redis
// or database configuration degrades to in-memory stores so the worker can
// run standalone.
func NewWorker(cfg *config.AppConfig) (*Worker, error) {
	log := slog.Default()

	// 1. Stores
	var cacheStore store.CacheStore
	var logStore store.LogStore
	var redisClient *redisclient.Client
	var db *postgres.DB

	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		cacheStore = redisClient
		log.Info("Using Redis cache store")
	} else {
		cacheStore = memory.NewCacheStore()
		log.Info("Using in-memory cache store")
	}

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		logStore = postgres.NewLogRepo(db)
		log.Info("Using PostgreSQL log store")
	} else {
		logStore = memory.NewLogStore()
		log.Info("Using in-memory log store")
	}

	// 2. Resilience layer: one breaker per dependency, shared retry policy.
	breakers := resilience.NewRegistry(cfg.Breaker)
	executor := resilience.NewExecutor(breakers)

	// 3. Serving components
	responseCache := cache.New(cacheStore, executor, cfg.Retry, cfg.Cache)
	guard := idempotency.New(cacheStore, executor, cfg.Retry, cfg.Idempotency)
	logBuffer := logbuffer.New(logStore, executor, cfg.Retry, cfg.LogBuffer)
	classifier := inference.NewLexiconClassifier()

	orch := orchestrator.New(cfg.Worker, guard, responseCache, classifier, logBuffer)

	server := api.NewServer(cfg.Server.Port, cfg.Worker.WorkerID, orch, classifier, cacheStore, logStore)

	return &Worker{
		cfg:         cfg,
		server:      server,
		logBuffer:   logBuffer,
		redisClient: redisClient,
		db:          db,
		log:         log,
	}, nil
}

// Start starts the worker and all its background tasks.
func (w *Worker) Start(ctx context.Context) error {
	w.logBuffer.Start()

	if w.db != nil {
		w.db.StartMetricsCollector(ctx)
	}

	go func() {
		w.log.Info("API server listening", "port", w.cfg.Server.Port)
		if err := w.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("API server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the worker down: the API stops taking requests, the log buffer
// gets a final best-effort flush, and store connections are closed.
func (w *Worker) Stop(ctx context.Context) error {
	w.log.Info("Stopping worker...")

	if err := w.server.Stop(ctx); err != nil {
		w.log.Warn("Failed to stop API server", "error", err)
	}

	w.logBuffer.Stop(ctx)

	if w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.log.Warn("Failed to close database", "error", err)
		}
	}

	return nil
}
