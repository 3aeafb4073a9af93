package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-backend/internal/ai"
)

func ptr(f float64) *float64 { return &f }

func indexDoc(t *testing.T, p *pipeline, documentID string, texts ...string) {
	t.Helper()
	_, err := p.indexer.Index(context.Background(), IndexRequest{
		DocumentID:        documentID,
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
		Chunks:            textChunks(texts...),
	})
	require.NoError(t, err)
}

func skyQuery(documentID string) QueryRequest {
	return QueryRequest{
		Query:       "What color is the sky?",
		Provider:    "openai",
		Model:       "text-embedding-3-small",
		DocumentID:  documentID,
		LLMModel:    "gpt-4o-mini",
		Temperature: ptr(0),
	}
}

func TestAnswerRanksRelevantChunkFirst(t *testing.T) {
	p := newPipeline()
	indexDoc(t, p, "doc-1", "The sky is blue.", "Grass is green.")

	ans, err := p.answerer.Answer(context.Background(), skyQuery("doc-1"))
	require.NoError(t, err)

	assert.Equal(t, 2, ans.Sources)
	assert.Equal(t, "gpt-4o-mini", ans.Model)
	assert.Equal(t, "openai", ans.Provider)
	require.NotNil(t, ans.Temperature)
	assert.Equal(t, 0.0, *ans.Temperature)
	assert.NotEmpty(t, ans.ChatID)
	assert.False(t, ans.WebSearchUsed)

	require.Equal(t, 1, p.llm.calls())
	prompt := p.llm.requests[0].SystemPrompt
	assert.True(t, strings.HasPrefix(prompt, DefaultSystemPrompt+"\nContext:\nKNOWLEDGE BASE CONTEXT:\n"))
	sky := strings.Index(prompt, "The sky is blue.")
	grass := strings.Index(prompt, "Grass is green.")
	require.True(t, sky >= 0 && grass >= 0)
	assert.Less(t, sky, grass)
	assert.Contains(t, prompt, "Page Content:\nThe sky is blue.\nPage Number: \nSource: doc-1")
	assert.NotContains(t, prompt, "WEB SEARCH CONTEXT")

	// The echoed answer is grounded only in what retrieval supplied.
	assert.Contains(t, ans.Answer, "The sky is blue.")
	assert.Equal(t, "What color is the sky?", p.llm.requests[0].Query)
	assert.Equal(t, "gpt-4o-mini", p.llm.requests[0].Model)

	require.True(t, ans.Persist.Persisted)
	require.Len(t, p.chats.logs, 1)
	log := p.chats.logs[0]
	assert.Equal(t, ans.ChatID, log.ChatID)
	assert.Equal(t, "doc-1", log.DocumentID)
	assert.Equal(t, 2, log.Sources)
	assert.Equal(t, "text-embedding-3-small", log.EmbeddingModel)
}

func TestAnswerWithoutContextSkipsLLM(t *testing.T) {
	p := newPipeline()
	indexDoc(t, p, "other-doc", "The sky is blue.")

	ans, err := p.answerer.Answer(context.Background(), skyQuery("empty-doc"))
	require.NoError(t, err)

	assert.Equal(t, NoContextAnswer, ans.Answer)
	assert.Zero(t, ans.Sources)
	assert.Zero(t, p.llm.calls())
	assert.Zero(t, p.web.calls)
	assert.False(t, ans.Persist.Persisted)
	assert.Empty(t, p.chats.logs)

	body, err := json.Marshal(ans)
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"I don't know.","sources":0}`, string(body))
}

func TestAnswerOnMissingCollection(t *testing.T) {
	p := newPipeline()

	ans, err := p.answerer.Answer(context.Background(), skyQuery("doc-1"))
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, ans.Answer)
	assert.Zero(t, p.llm.calls())
}

func TestAnswerFallsBackToWebSearch(t *testing.T) {
	p := newPipeline()
	p.web.result = "Sky\nThe sky appears blue due to Rayleigh scattering.\nSource: https://example.com"

	req := skyQuery("empty-doc")
	req.EnableWebSearch = true
	ans, err := p.answerer.Answer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, p.web.calls)
	require.Equal(t, 1, p.llm.calls())
	assert.Contains(t, p.llm.requests[0].SystemPrompt, "WEB SEARCH CONTEXT")
	assert.Contains(t, p.llm.requests[0].SystemPrompt, "Rayleigh scattering")
	assert.Zero(t, ans.Sources)
	assert.True(t, ans.WebSearchUsed)
	assert.True(t, p.chats.logs[0].WebSearchUsed)
}

func TestAnswerWebSearchNotUsedWhenIndexHasHits(t *testing.T) {
	p := newPipeline()
	p.web.result = "should not be used"
	indexDoc(t, p, "doc-1", "The sky is blue.")

	req := skyQuery("doc-1")
	req.EnableWebSearch = true
	_, err := p.answerer.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, p.web.calls)
}

func TestAnswerWebSearchFailureIsNotFatal(t *testing.T) {
	p := newPipeline()
	p.web.err = errBoom

	req := skyQuery("empty-doc")
	req.EnableWebSearch = true
	ans, err := p.answerer.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, ans.Answer)
	assert.Zero(t, p.llm.calls())
}

func TestAnswerUnsupportedProvidersFailBeforeNetwork(t *testing.T) {
	p := newPipeline()
	indexDoc(t, p, "doc-1", "The sky is blue.")
	embedCalls := p.embedder.calls

	req := skyQuery("doc-1")
	req.Provider = "anthropic"
	_, err := p.answerer.Answer(context.Background(), req)
	var unsupported *ai.UnsupportedProviderError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "embedding", unsupported.Kind)

	req = skyQuery("doc-1")
	req.LLMProvider = "anthropic"
	_, err = p.answerer.Answer(context.Background(), req)
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "llm", unsupported.Kind)

	assert.Equal(t, embedCalls, p.embedder.calls)
	assert.Zero(t, p.llm.calls())
}

func TestAnswerTemperature(t *testing.T) {
	p := newPipeline()
	indexDoc(t, p, "doc-1", "The sky is blue.")

	for _, bad := range []float64{-0.1, 1.01} {
		req := skyQuery("doc-1")
		req.Temperature = ptr(bad)
		_, err := p.answerer.Answer(context.Background(), req)
		var invalid *ValidationError
		require.True(t, errors.As(err, &invalid), "temperature %v", bad)
		assert.Equal(t, "temperature", invalid.Field)
	}

	req := skyQuery("doc-1")
	req.Temperature = nil
	ans, err := p.answerer.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DefaultTemperature, *ans.Temperature)
	assert.Equal(t, DefaultTemperature, p.llm.requests[0].Temperature)
}

func TestAnswerIsScopedToDocument(t *testing.T) {
	p := newPipeline()
	indexDoc(t, p, "doc-a", "The sky is blue.")
	indexDoc(t, p, "doc-b", "Grass is green.")

	ans, err := p.answerer.Answer(context.Background(), skyQuery("doc-b"))
	require.NoError(t, err)
	assert.Equal(t, 1, ans.Sources)
	prompt := p.llm.requests[0].SystemPrompt
	assert.Contains(t, prompt, "Grass is green.")
	assert.NotContains(t, prompt, "The sky is blue.")
}

func TestAnswerUnscopedSearchIsGated(t *testing.T) {
	p := newPipeline()
	indexDoc(t, p, "doc-a", "The sky is blue.")
	indexDoc(t, p, "doc-b", "Grass is green.")

	req := skyQuery("")
	req.Unscoped = true
	_, err := p.answerer.Answer(context.Background(), req)
	var invalid *ValidationError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "unscoped", invalid.Field)

	open := NewAnswerer(p.registry, p.collection, nil, nil, nil, AnswererConfig{AllowUnscoped: true})
	ans, err := open.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, ans.Sources)
	assert.Equal(t, "chat log store not configured", ans.Persist.Reason)
}

func TestAnswerPersistFailureDoesNotFailRequest(t *testing.T) {
	p := newPipeline()
	p.chats.err = errBoom
	indexDoc(t, p, "doc-1", "The sky is blue.")

	ans, err := p.answerer.Answer(context.Background(), skyQuery("doc-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, ans.ChatID)
	assert.False(t, ans.Persist.Persisted)
	assert.Equal(t, "boom", ans.Persist.Reason)
}

func TestAnswerPropagatesLLMFailure(t *testing.T) {
	p := newPipeline()
	indexDoc(t, p, "doc-1", "The sky is blue.")
	p.llm.err = &ai.LLMCallError{Provider: "openai", Model: "gpt-4o-mini", Err: errBoom}

	_, err := p.answerer.Answer(context.Background(), skyQuery("doc-1"))
	var llmErr *ai.LLMCallError
	require.True(t, errors.As(err, &llmErr))
	assert.Empty(t, p.chats.logs)
}

func TestAnswerRequiresFields(t *testing.T) {
	p := newPipeline()
	cases := map[string]func(*QueryRequest){
		"query":       func(r *QueryRequest) { r.Query = " " },
		"llmModel":    func(r *QueryRequest) { r.LLMModel = "" },
		"document_id": func(r *QueryRequest) { r.DocumentID = "" },
	}
	for field, mutate := range cases {
		req := skyQuery("doc-1")
		mutate(&req)
		_, err := p.answerer.Answer(context.Background(), req)
		var invalid *ValidationError
		require.True(t, errors.As(err, &invalid), field)
		assert.Equal(t, field, invalid.Field)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt("  Answer like a pirate.  ", []Turn{{Query: "Hi?", Answer: "Ahoy."}}, []string{"A", "B"})
	assert.Equal(t, "Answer like a pirate.\n\nPREVIOUS CONVERSATION:\nUser: Hi?\nAssistant: Ahoy.\n\nContext:\nA\n\n---\n\nB", prompt)

	assert.Equal(t, DefaultSystemPrompt+"\nContext:\nX", BuildSystemPrompt("", nil, []string{"X"}))
}
