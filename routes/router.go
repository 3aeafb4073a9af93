// Package routes exposes the knowledge, query and output endpoints over gin.
package routes

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rag-backend/internal/chunker"
	"rag-backend/internal/config"
	"rag-backend/internal/crawler"
	"rag-backend/internal/queue"
	"rag-backend/internal/telemetry"
	"rag-backend/middleware"
	"rag-backend/models"
	"rag-backend/services"
)

// DocumentStore is the document side of the metadata store.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	MarkProcessing(ctx context.Context, id, jobID, provider, model string, chunks int) error
}

// ChatLogReader serves the output endpoints.
type ChatLogReader interface {
	Get(ctx context.Context, chatID string) (*models.ChatLog, error)
	ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]models.ChatLog, error)
	CountByDocument(ctx context.Context, documentID string) (int64, error)
	Stats(ctx context.Context, documentID string) (*models.DocumentStats, error)
}

// JobQueue accepts indexing work.
type JobQueue interface {
	EnqueueIndex(ctx context.Context, req services.IndexRequest) (string, error)
}

// JobStatusReader reports on queued indexing work.
type JobStatusReader interface {
	JobStatus(ctx context.Context, jobID string) (*queue.JobStatus, error)
}

// PageCrawler fetches web pages for ingestion.
type PageCrawler interface {
	Crawl(ctx context.Context, req crawler.Request) (*crawler.Result, error)
}

// QueryAnswerer runs the retrieval-and-answer pipeline.
type QueryAnswerer interface {
	Answer(ctx context.Context, req services.QueryRequest) (*services.Answer, error)
}

// Dependencies carries everything the handlers touch. Providers, Metrics and
// Crawler are optional; ReadinessChecks are run by /ready.
type Dependencies struct {
	Config    *config.Config
	Documents DocumentStore
	ChatLogs  ChatLogReader
	Jobs      JobQueue
	JobStatus JobStatusReader
	Answerer  QueryAnswerer
	Extractor *services.Extractor
	Crawler   PageCrawler
	Chunker   *chunker.Chunker
	Providers services.EmbedderResolver
	Metrics   *telemetry.Metrics
	// RateLimiter backs the per-IP limit on query endpoints. nil disables it.
	RateLimiter     middleware.Counter
	ReadinessChecks map[string]func(ctx context.Context) error
}

// SetupRouter builds the engine with the middleware chain and all routes.
func SetupRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	gin.SetMode(cfg.GinMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddlewareWithOrigins(parseOrigins(cfg.CORSOrigins)))
	if cfg.OTelEnabled {
		router.Use(middleware.TracingMiddleware(cfg.ServiceName))
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.MetricsMiddleware(deps.Metrics))

	limiter := middleware.RateLimitMiddleware(deps.RateLimiter, cfg.RateLimitReqs,
		time.Duration(cfg.RateLimitWindow)*time.Second)

	SetupHealthRoutes(router, deps)
	SetupKnowledgeRoutes(router, deps)
	SetupLLMRoutes(router, deps, limiter)
	SetupOutputRoutes(router, deps, limiter)

	return router
}

func parseOrigins(raw []string) []string {
	var origins []string
	for _, o := range raw {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
