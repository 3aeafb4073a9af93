package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter        metric.Int64Counter
	RequestDuration       metric.Float64Histogram
	QueryCounter          metric.Int64Counter
	QueryDuration         metric.Float64Histogram
	RetrievedHits         metric.Int64Histogram
	WebSearchFallbacks    metric.Int64Counter
	LLMCalls              metric.Int64Counter
	TokensUsed            metric.Int64Counter
	IndexJobs             metric.Int64Counter
	IndexJobDuration      metric.Float64Histogram
	ChunksIndexed         metric.Int64Counter
	CircuitBreakerState   metric.Int64Counter
	CollectionRecreations metric.Int64Counter
}

type instrument struct {
	name, description, unit string
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("rag-backend")
	m := &Metrics{}

	counters := []struct {
		dst *metric.Int64Counter
		instrument
	}{
		{&m.RequestCounter, instrument{"http.requests.total", "Total HTTP requests", ""}},
		{&m.QueryCounter, instrument{"rag.queries.total", "Answered queries by provider and outcome", ""}},
		{&m.WebSearchFallbacks, instrument{"rag.web_search.fallbacks", "Queries that fell back to web search", ""}},
		{&m.LLMCalls, instrument{"llm.calls.total", "LLM generation calls", ""}},
		{&m.TokensUsed, instrument{"llm.tokens.used", "Tokens reported by LLM providers", ""}},
		{&m.IndexJobs, instrument{"rag.index.jobs.total", "Indexing jobs by outcome", ""}},
		{&m.ChunksIndexed, instrument{"rag.index.chunks.total", "Chunks written to the vector index", ""}},
		{&m.CircuitBreakerState, instrument{"circuit_breaker.state_changes", "Circuit breaker state changes", ""}},
		{&m.CollectionRecreations, instrument{"vectorindex.recreations.total", "Destructive collection recreations", ""}},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.description))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	histograms := []struct {
		dst *metric.Float64Histogram
		instrument
	}{
		{&m.RequestDuration, instrument{"http.request.duration", "HTTP request duration in seconds", "s"}},
		{&m.QueryDuration, instrument{"rag.query.duration", "Answer pipeline duration in seconds", "s"}},
		{&m.IndexJobDuration, instrument{"rag.index.duration", "Indexing job duration in seconds", "s"}},
	}
	for _, h := range histograms {
		hist, err := meter.Float64Histogram(h.name, metric.WithDescription(h.description), metric.WithUnit(h.unit))
		if err != nil {
			return nil, err
		}
		*h.dst = hist
	}

	hits, err := meter.Int64Histogram(
		"rag.retrieval.hits",
		metric.WithDescription("Knowledge base hits per query"),
	)
	if err != nil {
		return nil, err
	}
	m.RetrievedHits = hits

	return m, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	)
	m.RequestCounter.Add(context.Background(), 1, attrs)
	m.RequestDuration.Record(context.Background(), duration, attrs)
}

// RecordQuery records one run of the answer pipeline. Outcome is one of
// answered, no_context or error.
func (m *Metrics) RecordQuery(provider, outcome string, hits int, webFallback bool, duration float64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
	m.QueryCounter.Add(ctx, 1, attrs)
	m.QueryDuration.Record(ctx, duration, attrs)
	m.RetrievedHits.Record(ctx, int64(hits), metric.WithAttributes(attribute.String("provider", provider)))
	if webFallback {
		m.WebSearchFallbacks.Add(ctx, 1)
	}
}

// RecordLLMCall records a generation call and the tokens it consumed.
func (m *Metrics) RecordLLMCall(provider, model string, tokens int, success bool) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	}
	m.LLMCalls.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.Bool("success", success))...))
	if tokens > 0 {
		m.TokensUsed.Add(ctx, int64(tokens), metric.WithAttributes(attrs...))
	}
}

// RecordIndexJob records an indexing job outcome.
func (m *Metrics) RecordIndexJob(provider, status string, chunks int, duration float64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("embedding.provider", provider),
		attribute.String("status", status),
	)
	m.IndexJobs.Add(ctx, 1, attrs)
	m.IndexJobDuration.Record(ctx, duration, attrs)
	if chunks > 0 {
		m.ChunksIndexed.Add(ctx, int64(chunks), metric.WithAttributes(attribute.String("embedding.provider", provider)))
	}
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}

// RecordCollectionRecreation records a destructive collection rebuild.
func (m *Metrics) RecordCollectionRecreation(collection string, from, to int) {
	m.CollectionRecreations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("from_dimension", from),
		attribute.Int("to_dimension", to),
	))
}
