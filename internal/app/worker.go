package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"rag-backend/internal/config"
	"rag-backend/internal/logger"
	"rag-backend/internal/queue"
	"rag-backend/services"
)

// Worker runs indexing jobs off the queue together with the stale sweep.
// cmd/worker runs one standalone; the API server embeds one when the vector
// backend lives in its own memory.
type Worker struct {
	cfg     *config.Config
	server  *asynq.Server
	mux     *asynq.ServeMux
	sweeper *services.StaleSweeper
}

func NewWorker(cfg *config.Config, redisOpt asynq.RedisConnOpt, indexer queue.DocumentIndexer, documents services.StaleMarker) *Worker {
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues:      map[string]int{cfg.QueueName: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("task failed", "task_type", task.Type(), "retried", retried, "max_retry", maxRetry, "error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	queue.NewTaskProcessor(indexer).Register(mux)

	// Jobs killed by a crash or timeout never report back, so documents
	// stuck in processing past twice the job timeout are failed.
	sweeper := services.NewStaleSweeper(documents, cfg.StaleSweepInterval, 2*cfg.JobTimeout)

	return &Worker{cfg: cfg, server: server, mux: mux, sweeper: sweeper}
}

// Handler exposes the task routing, mostly for tests.
func (w *Worker) Handler() asynq.Handler {
	return w.mux
}

func (w *Worker) Start() error {
	if err := w.sweeper.Start(); err != nil {
		logger.Warn("stale sweep disabled", "error", err)
	}
	if err := w.server.Start(w.mux); err != nil {
		w.sweeper.Stop()
		return fmt.Errorf("start worker: %w", err)
	}
	logger.Info("worker started", "queue", w.cfg.QueueName, "concurrency", w.cfg.WorkerConcurrency,
		"vector_backend", w.cfg.VectorBackend, "collection", w.cfg.CollectionName)
	return nil
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.sweeper.Stop()
}

// RequireSharedIndex fails for backends that only exist inside the API
// server, where a separate process would read or write a different index.
func RequireSharedIndex(cfg *config.Config) error {
	if cfg.EmbeddedIndexing() {
		return fmt.Errorf("VECTOR_BACKEND=%s keeps vectors inside the API server process; it indexes there and cannot be reached from here", cfg.VectorBackend)
	}
	return nil
}
