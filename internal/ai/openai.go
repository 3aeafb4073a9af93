package ai

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OpenAIProvider serves embeddings and chat completions from the OpenAI API
// or any compatible endpoint.
type OpenAIProvider struct {
	client     *openai.Client
	embedGuard *guard
	chatGuard  *guard
}

func NewOpenAIProvider(opts Options) (*OpenAIProvider, error) {
	if opts.OpenAIAPIKey == "" {
		return nil, &MissingCredentialError{Provider: ProviderOpenAI, EnvVar: credentialEnv[ProviderOpenAI]}
	}

	clientCfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		clientCfg.BaseURL = opts.OpenAIBaseURL
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		embedGuard: newGuard("openai-embeddings", 0, opts.OnBreakerChange),
		chatGuard:  newGuard("openai-chat", opts.RequestsPerMinute, opts.OnBreakerChange),
	}, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := otel.Tracer("rag-backend/ai").Start(ctx, "embedding.embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.provider", ProviderOpenAI),
		attribute.String("embedding.model", model),
		attribute.Int("embedding.batch_size", len(texts)),
	)

	res, err := p.embedGuard.do(ctx, func() (interface{}, error) {
		return p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(model),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, &EmbeddingCallError{Provider: ProviderOpenAI, Model: model, Err: err}
	}

	resp := res.(openai.EmbeddingResponse)
	if len(resp.Data) != len(texts) {
		err := fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
		return nil, &EmbeddingCallError{Provider: ProviderOpenAI, Model: model, Err: err}
	}

	vectors := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(vectors) {
			idx = i
		}
		vectors[idx] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			err := fmt.Errorf("missing embedding for input %d", i)
			return nil, &EmbeddingCallError{Provider: ProviderOpenAI, Model: model, Err: err}
		}
	}
	return vectors, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	ctx, span := otel.Tracer("rag-backend/ai").Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", ProviderOpenAI),
		attribute.String("llm.model", req.Model),
		attribute.Float64("llm.temperature", req.Temperature),
	)

	// A zero temperature is dropped by omitempty in the request encoding.
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	res, err := p.chatGuard.do(ctx, func() (interface{}, error) {
		return p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       req.Model,
			Temperature: temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: req.Query},
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, &LLMCallError{Provider: ProviderOpenAI, Model: req.Model, Err: err}
	}

	resp := res.(openai.ChatCompletionResponse)
	if len(resp.Choices) == 0 {
		return nil, &LLMCallError{Provider: ProviderOpenAI, Model: req.Model, Err: errors.New("completion returned no choices")}
	}

	span.SetAttributes(attribute.Int("llm.tokens_used", resp.Usage.TotalTokens))
	return &Generation{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
