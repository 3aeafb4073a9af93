package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rag-backend/internal/app"
	"rag-backend/internal/config"
	"rag-backend/internal/database"
	"rag-backend/internal/logger"
	"rag-backend/internal/telemetry"
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

	if err := app.RequireSharedIndex(cfg); err != nil {
		log.Fatal("Standalone worker unavailable: ", err)
	}

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
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	store := database.NewStore(mongoClient, cfg.DBName)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store.Close(ctx)
	}()

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	providers, err := app.NewProviders(context.Background(), cfg, metrics)
	if err != nil {
		log.Fatal("Failed to initialize providers:", err)
	}
	defer providers.Close()

	collection, err := app.NewCollection(cfg, rdb, metrics)
	if err != nil {
		log.Fatal("Failed to open vector collection:", err)
	}

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Invalid queue connection:", err)
	}

	worker := app.NewWorker(cfg, redisOpt, services.NewIndexer(providers, collection, store.Documents, metrics), store.Documents)
	if err := worker.Start(); err != nil {
		log.Fatal("Failed to start worker:", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	worker.Shutdown()
}
