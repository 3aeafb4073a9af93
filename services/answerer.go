package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"rag-backend/internal/ai"
	"rag-backend/internal/logger"
	"rag-backend/internal/telemetry"
	"rag-backend/internal/vectorindex"
	"rag-backend/internal/websearch"
	"rag-backend/models"
	"rag-backend/utils"
)

const (
	// NoContextAnswer is returned when neither the index nor the web had
	// anything to ground an answer in.
	NoContextAnswer = "I don't know."

	// DefaultTemperature applies when a query omits temperature.
	DefaultTemperature = 0.7

	DefaultSystemPrompt = "You are a helpful AI Assistant who answers user queries based only on the available context retrieved from a PDF file. Make sure to reference the page number for navigation."

	knowledgeBaseHeader = "KNOWLEDGE BASE CONTEXT:\n"
	webSearchHeader     = "WEB SEARCH CONTEXT:\n"
	historyHeader       = "PREVIOUS CONVERSATION:\n"
	contextSeparator    = "\n\n---\n\n"
)

// ProviderRegistry resolves embedding and generation providers by key.
type ProviderRegistry interface {
	Embedder(name string) (ai.Embedder, error)
	LLM(name string) (ai.LLM, error)
}

// SearchableCollection is the read side of the vector index.
type SearchableCollection interface {
	Search(ctx context.Context, vector []float32, k int, filter vectorindex.Filter) ([]vectorindex.Result, error)
}

// ChatLogWriter persists answered queries.
type ChatLogWriter interface {
	Create(ctx context.Context, log *models.ChatLog) error
}

// Turn is one earlier exchange shown to the model as conversation history.
type Turn struct {
	Query  string
	Answer string
}

type QueryRequest struct {
	Query           string   `json:"query"`
	Provider        string   `json:"provider"`
	Model           string   `json:"model"`
	DocumentID      string   `json:"document_id"`
	LLMProvider     string   `json:"llm_provider,omitempty"`
	LLMModel        string   `json:"llmModel"`
	CustomPrompt    string   `json:"custom_prompt,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	EnableWebSearch bool     `json:"enable_web_search"`
	// Unscoped searches the whole collection instead of one document.
	Unscoped bool `json:"unscoped,omitempty"`

	History      []Turn `json:"-"`
	ParentChatID string `json:"-"`
}

// PersistResult tells callers whether the chat log was written and, if
// not, why.
type PersistResult struct {
	Persisted bool
	Reason    string
}

type Answer struct {
	Answer      string   `json:"answer"`
	Sources     int      `json:"sources"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	ChatID      string   `json:"chat_id,omitempty"`

	WebSearchUsed bool          `json:"-"`
	Persist       PersistResult `json:"-"`
}

type AnswererConfig struct {
	TopK          int
	AllowUnscoped bool
}

// Answerer runs retrieval-augmented generation for a single query.
type Answerer struct {
	providers  ProviderRegistry
	collection SearchableCollection
	web        websearch.Searcher
	chats      ChatLogWriter
	metrics    *telemetry.Metrics
	cfg        AnswererConfig
}

// NewAnswerer wires the pipeline. web, chats and metrics may be nil.
func NewAnswerer(providers ProviderRegistry, collection SearchableCollection, web websearch.Searcher, chats ChatLogWriter, metrics *telemetry.Metrics, cfg AnswererConfig) *Answerer {
	if web == nil {
		web = websearch.Disabled{}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = vectorindex.DefaultTopK
	}
	return &Answerer{
		providers:  providers,
		collection: collection,
		web:        web,
		chats:      chats,
		metrics:    metrics,
		cfg:        cfg,
	}
}

func (a *Answerer) Answer(ctx context.Context, req QueryRequest) (*Answer, error) {
	start := time.Now()
	embedProvider := ai.NormalizeProvider(req.Provider)
	llmProvider := ai.NormalizeProvider(req.LLMProvider)
	if llmProvider == "" {
		llmProvider = embedProvider
	}

	ctx, span := otel.Tracer("rag-backend/services").Start(ctx, "rag.answer")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", req.DocumentID),
		attribute.String("embedding.provider", embedProvider),
		attribute.String("llm.provider", llmProvider),
		attribute.Bool("web_search.enabled", req.EnableWebSearch),
	)

	answer, hits, err := a.answer(ctx, req, embedProvider, llmProvider)
	outcome := "answered"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer failed")
	case answer.ChatID == "":
		outcome = "no_context"
	}
	span.SetAttributes(attribute.String("outcome", outcome), attribute.Int("hits", hits))

	if a.metrics != nil {
		webUsed := answer != nil && answer.WebSearchUsed
		a.metrics.RecordQuery(llmProvider, outcome, hits, webUsed, time.Since(start).Seconds())
	}
	return answer, err
}

func (a *Answerer) answer(ctx context.Context, req QueryRequest, embedProvider, llmProvider string) (*Answer, int, error) {
	temperature, err := validateQuery(req, a.cfg.AllowUnscoped)
	if err != nil {
		return nil, 0, err
	}

	// Both providers resolve before any network call.
	embedder, err := a.providers.Embedder(embedProvider)
	if err != nil {
		return nil, 0, err
	}
	llm, err := a.providers.LLM(llmProvider)
	if err != nil {
		return nil, 0, err
	}

	vectors, err := embedder.Embed(ctx, []string{req.Query}, req.Model)
	if err != nil {
		return nil, 0, err
	}
	if len(vectors) != 1 {
		return nil, 0, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	filter := vectorindex.Filter{DocumentID: req.DocumentID}
	if req.Unscoped {
		filter = vectorindex.Filter{}
	}
	results, err := a.collection.Search(ctx, vectors[0], a.cfg.TopK, filter)
	if err != nil {
		return nil, 0, err
	}

	var blocks []string
	if len(results) > 0 {
		blocks = append(blocks, knowledgeBaseHeader+formatResults(results))
	}

	webUsed := false
	if len(results) == 0 && req.EnableWebSearch {
		snippets, err := a.web.Search(ctx, req.Query)
		if err != nil {
			logger.Warn("web search failed, continuing without it", "error", err)
		}
		if strings.TrimSpace(snippets) != "" {
			blocks = append(blocks, webSearchHeader+snippets)
			webUsed = true
		}
	}

	if len(blocks) == 0 {
		logger.Info("no context found for query", "document_id", req.DocumentID)
		return &Answer{
			Answer:  NoContextAnswer,
			Sources: 0,
			Persist: PersistResult{Reason: "no context"},
		}, 0, nil
	}

	generation, err := llm.Generate(ctx, ai.GenerateRequest{
		Model:        req.LLMModel,
		SystemPrompt: BuildSystemPrompt(req.CustomPrompt, req.History, blocks),
		Query:        req.Query,
		Temperature:  temperature,
	})
	if a.metrics != nil {
		tokens := 0
		if generation != nil {
			tokens = generation.TokensUsed
		}
		a.metrics.RecordLLMCall(llmProvider, req.LLMModel, tokens, err == nil)
	}
	if err != nil {
		return nil, len(results), err
	}

	ans := &Answer{
		Answer:        generation.Text,
		Sources:       len(results),
		Model:         req.LLMModel,
		Temperature:   &temperature,
		Provider:      req.Provider,
		ChatID:        uuid.NewString(),
		WebSearchUsed: webUsed,
	}
	ans.Persist = a.persist(ctx, req, ans, temperature)
	return ans, len(results), nil
}

func (a *Answerer) persist(ctx context.Context, req QueryRequest, ans *Answer, temperature float64) PersistResult {
	if a.chats == nil {
		return PersistResult{Reason: "chat log store not configured"}
	}

	ctx, cancel := utils.Detached(ctx, utils.DefaultTimeout)
	defer cancel()

	err := a.chats.Create(ctx, &models.ChatLog{
		ChatID:         ans.ChatID,
		DocumentID:     req.DocumentID,
		Query:          req.Query,
		Answer:         ans.Answer,
		Sources:        ans.Sources,
		Model:          req.LLMModel,
		Temperature:    temperature,
		Provider:       req.Provider,
		EmbeddingModel: req.Model,
		WebSearchUsed:  ans.WebSearchUsed,
		CustomPrompt:   req.CustomPrompt != "",
		ParentChatID:   req.ParentChatID,
	})
	if err != nil {
		logger.Warn("could not log chat", "chat_id", ans.ChatID, "error", err)
		return PersistResult{Reason: err.Error()}
	}
	return PersistResult{Persisted: true}
}

func validateQuery(req QueryRequest, allowUnscoped bool) (float64, error) {
	if strings.TrimSpace(req.Query) == "" {
		return 0, &ValidationError{Field: "query", Message: "is required"}
	}
	if strings.TrimSpace(req.LLMModel) == "" {
		return 0, &ValidationError{Field: "llmModel", Message: "is required"}
	}
	if req.Unscoped {
		if !allowUnscoped {
			return 0, &ValidationError{Field: "unscoped", Message: "unscoped search is disabled"}
		}
	} else if strings.TrimSpace(req.DocumentID) == "" {
		return 0, &ValidationError{Field: "document_id", Message: "is required"}
	}

	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature < 0 || temperature > 1 {
		return 0, &ValidationError{Field: "temperature", Message: "must be between 0.0 and 1.0"}
	}
	return temperature, nil
}

// formatResults renders hits in descending-score order, one block each.
func formatResults(results []vectorindex.Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("Page Content:\n%s\nPage Number: %s\nSource: %s",
			r.Text, r.Metadata.PageLabel, r.Metadata.Source)
	}
	return strings.Join(parts, "\n\n")
}

// BuildSystemPrompt assembles the base instruction, optional history and
// the context blocks.
func BuildSystemPrompt(customPrompt string, history []Turn, blocks []string) string {
	base := strings.TrimSpace(customPrompt)
	if base == "" {
		base = DefaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	if len(history) > 0 {
		b.WriteString("\n\n")
		b.WriteString(historyHeader)
		for _, t := range history {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.Query, t.Answer)
		}
	}
	b.WriteString("\nContext:\n")
	b.WriteString(strings.Join(blocks, contextSeparator))
	return b.String()
}
