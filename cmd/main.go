package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"rag-backend/internal/app"
	"rag-backend/internal/chunker"
	"rag-backend/internal/config"
	"rag-backend/internal/crawler"
	"rag-backend/internal/database"
	"rag-backend/internal/logger"
	"rag-backend/internal/queue"
	"rag-backend/internal/telemetry"
	"rag-backend/internal/websearch"
	"rag-backend/routes"
	"rag-backend/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if err := logger.InitLogger(cfg); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	shutdownTracer, err := telemetry.InitTracer(cfg)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		shutdownTracer = func() {}
	}
	defer shutdownTracer()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
		metrics = nil
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		logger.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	store := database.NewStore(mongoClient, cfg.DBName)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store.Close(ctx)
	}()

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	ctx := context.Background()
	providers, err := app.NewProviders(ctx, cfg, metrics)
	if err != nil {
		logger.Error("failed to initialize providers", "error", err)
		os.Exit(1)
	}
	defer providers.Close()

	collection, err := app.NewCollection(cfg, rdb, metrics)
	if err != nil {
		logger.Error("failed to open vector collection", "error", err)
		os.Exit(1)
	}

	chunks, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		logger.Error("invalid chunker settings", "error", err)
		os.Exit(1)
	}

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		logger.Error("invalid queue connection", "error", err)
		os.Exit(1)
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if cfg.EmbeddedIndexing() {
		// The memory index lives in this process, so its indexing jobs run here too.
		worker := app.NewWorker(cfg, redisOpt, services.NewIndexer(providers, collection, store.Documents, metrics), store.Documents)
		if err := worker.Start(); err != nil {
			logger.Error("failed to start embedded worker", "error", err)
			os.Exit(1)
		}
		defer worker.Shutdown()
	}

	answerer := services.NewAnswerer(providers, collection, websearch.New(cfg), store.ChatLogs, metrics,
		services.AnswererConfig{TopK: cfg.SearchTopK, AllowUnscoped: cfg.AllowUnscopedSearch})

	sites := crawler.New(crawler.Options{
		Timeout:       cfg.CrawlTimeout,
		Delay:         cfg.CrawlDelay,
		MaxPages:      cfg.CrawlMaxPages,
		AllowRenderJS: cfg.CrawlAllowRenderJS,
	})

	router := routes.SetupRouter(routes.Dependencies{
		Config:      cfg,
		Documents:   store.Documents,
		ChatLogs:    store.ChatLogs,
		Jobs:        queue.NewDispatcher(queueClient, queue.OptionsFromConfig(cfg)),
		JobStatus:   queue.NewStatusReader(inspector, cfg.QueueName),
		Answerer:    answerer,
		Extractor:   services.NewExtractor(cfg.UploadDir),
		Crawler:     sites,
		Chunker:     chunks,
		Providers:   providers,
		Metrics:     metrics,
		RateLimiter: rdb,
		ReadinessChecks: map[string]func(ctx context.Context) error{
			"mongo": store.Ping,
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "vector_backend", cfg.VectorBackend, "collection", cfg.CollectionName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server exited")
}
