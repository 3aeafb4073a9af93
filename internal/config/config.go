package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	Port        string
	GinMode     string
	CORSOrigins []string

	// MongoDB
	MongoURI string
	DBName   string

	// Redis (queue, locks, rate limiting)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Providers
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
	LLMRateLimit  int // requests per minute per provider

	// RequiredProviders must have credentials or startup fails.
	RequiredProviders []string

	// Vector index
	VectorBackend       string // "qdrant" or "memory"
	QdrantURL           string
	QdrantAPIKey        string
	CollectionName      string
	CollectionLockTTL   time.Duration
	SearchTopK          int
	AllowUnscopedSearch bool
	QueryTimeout        time.Duration

	// Chunking and uploads
	ChunkSize    int
	ChunkOverlap int
	UploadDir    string
	MaxFileSize  int64

	// Job queue
	QueueName          string
	JobTimeout         time.Duration
	JobMaxRetry        int
	JobRetention       time.Duration
	WorkerConcurrency  int
	StaleSweepInterval time.Duration

	// Web page ingestion
	CrawlTimeout       time.Duration
	CrawlMaxPages      int
	CrawlDelay         time.Duration
	CrawlAllowRenderJS bool

	// Web search fallback
	WebSearchProvider string // "serpapi", "duckduckgo" or "none"
	SerpAPIKey        string

	// HTTP rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Telemetry
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "rag-backend"),
		Port:        getEnv("PORT", "8000"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:   getEnv("DB_NAME", "rag_backend"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		LLMRateLimit:  getEnvInt("LLM_RATE_LIMIT_RPM", 60),

		RequiredProviders: splitList(getEnv("REQUIRED_PROVIDERS", "")),

		VectorBackend:       strings.ToLower(getEnv("VECTOR_BACKEND", "qdrant")),
		QdrantURL:           getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:        getEnv("QDRANT_API_KEY", ""),
		CollectionName:      getEnv("QDRANT_COLLECTION", "rag_collection"),
		CollectionLockTTL:   getEnvDuration("COLLECTION_LOCK_TTL", 30*time.Second),
		SearchTopK:          getEnvInt("SEARCH_TOP_K", 5),
		AllowUnscopedSearch: getEnvBool("ALLOW_UNSCOPED_SEARCH", false),
		QueryTimeout:        getEnvDuration("QUERY_TIMEOUT", 2*time.Minute),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),
		UploadDir:    getEnv("UPLOAD_DIR", "data/uploads"),
		MaxFileSize:  getEnvInt64("MAX_FILE_SIZE", 50<<20),

		QueueName:          getEnv("QUEUE_NAME", "indexing"),
		JobTimeout:         getEnvDuration("JOB_TIMEOUT", 10*time.Minute),
		JobMaxRetry:        getEnvInt("JOB_MAX_RETRY", 3),
		JobRetention:       getEnvDuration("JOB_RETENTION", 24*time.Hour),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 10),
		StaleSweepInterval: getEnvDuration("STALE_SWEEP_INTERVAL", 5*time.Minute),

		CrawlTimeout:       getEnvDuration("CRAWL_TIMEOUT", 60*time.Second),
		CrawlMaxPages:      getEnvInt("CRAWL_MAX_PAGES", 20),
		CrawlDelay:         getEnvDuration("CRAWL_DELAY", time.Second),
		CrawlAllowRenderJS: getEnvBool("CRAWL_ALLOW_RENDER_JS", false),

		WebSearchProvider: strings.ToLower(getEnv("WEB_SEARCH_PROVIDER", "serpapi")),
		SerpAPIKey:        getEnv("SERPAPI_API_KEY", ""),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvFloat64("OTEL_SAMPLE_RATIO", 0.1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipelines cannot run with.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d with CHUNK_SIZE %d", c.ChunkOverlap, c.ChunkSize)
	}
	if c.SearchTopK <= 0 {
		return fmt.Errorf("SEARCH_TOP_K must be positive, got %d", c.SearchTopK)
	}
	switch c.VectorBackend {
	case "qdrant", "memory":
	default:
		return fmt.Errorf("VECTOR_BACKEND %q is not supported - use qdrant or memory", c.VectorBackend)
	}
	switch c.WebSearchProvider {
	case "serpapi", "duckduckgo", "none":
	default:
		return fmt.Errorf("WEB_SEARCH_PROVIDER %q is not supported - use serpapi, duckduckgo or none", c.WebSearchProvider)
	}
	if c.CollectionName == "" {
		return fmt.Errorf("QDRANT_COLLECTION is required - set it in .env file")
	}
	return nil
}

// EmbeddedIndexing reports whether indexing jobs run inside the API process.
// The memory backend lives in process memory, so a separate worker would
// write vectors the API never sees.
func (c *Config) EmbeddedIndexing() bool {
	return c.VectorBackend == "memory"
}

// splitList parses a comma-separated setting, dropping empty items.
func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
