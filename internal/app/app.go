// Package app builds the shared clients used by the API server, the worker
// and the operational CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"rag-backend/internal/ai"
	"rag-backend/internal/config"
	"rag-backend/internal/telemetry"
	"rag-backend/internal/vectorindex"
)

// NewProviders builds every configured embedding/LLM provider. The guard logs
// breaker transitions; this only records them when metrics is set.
func NewProviders(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*ai.Registry, error) {
	return ai.NewRegistryFromConfig(ctx, ai.Options{
		OpenAIAPIKey:      cfg.OpenAIAPIKey,
		OpenAIBaseURL:     cfg.OpenAIBaseURL,
		GeminiAPIKey:      cfg.GeminiAPIKey,
		RequestsPerMinute: cfg.LLMRateLimit,
		RequiredProviders: cfg.RequiredProviders,
		OnBreakerChange:   recordBreakerChange(metrics),
	})
}

func recordBreakerChange(metrics *telemetry.Metrics) func(name string, from, to gobreaker.State) {
	return func(name string, _, to gobreaker.State) {
		if metrics != nil {
			metrics.RecordCircuitBreakerState(name, to.String())
		}
	}
}

// NewCollection opens the configured vector collection. Recreation is
// serialized across processes through rdb; a nil rdb falls back to an
// in-process lock, which only suits single-process runs.
func NewCollection(cfg *config.Config, rdb redis.UniversalClient, metrics *telemetry.Metrics) (*vectorindex.Collection, error) {
	var store vectorindex.Store
	switch cfg.VectorBackend {
	case "qdrant":
		store = vectorindex.NewQdrantStore(vectorindex.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.CollectionName,
			Timeout:    30 * time.Second,
		})
	case "memory":
		store = vectorindex.NewMemoryStore(cfg.CollectionName)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}

	var locker vectorindex.Locker
	if rdb != nil {
		locker = vectorindex.NewRedisLocker(rdb, cfg.CollectionLockTTL)
	} else {
		locker = vectorindex.NewLocalLocker()
	}

	collection := vectorindex.NewCollection(store, locker)
	collection.OnRecreate(func(from, to int) {
		if metrics != nil {
			metrics.RecordCollectionRecreation(cfg.CollectionName, from, to)
		}
	})
	return collection, nil
}
