package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/api/option"
)

// geminiBatchLimit is the most texts BatchEmbedContents accepts per call.
const geminiBatchLimit = 100

// GeminiProvider serves embeddings and generation from Google Gemini.
type GeminiProvider struct {
	client     *genai.Client
	embedGuard *guard
	chatGuard  *guard
}

func NewGeminiProvider(ctx context.Context, opts Options) (*GeminiProvider, error) {
	if opts.GeminiAPIKey == "" {
		return nil, &MissingCredentialError{Provider: ProviderGemini, EnvVar: credentialEnv[ProviderGemini]}
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{
		client:     client,
		embedGuard: newGuard("gemini-embeddings", 0, opts.OnBreakerChange),
		chatGuard:  newGuard("gemini-generate", opts.RequestsPerMinute, opts.OnBreakerChange),
	}, nil
}

func (p *GeminiProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := otel.Tracer("rag-backend/ai").Start(ctx, "embedding.embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.provider", ProviderGemini),
		attribute.String("embedding.model", model),
		attribute.Int("embedding.batch_size", len(texts)),
	)

	em := p.client.EmbeddingModel(model)
	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += geminiBatchLimit {
		end := start + geminiBatchLimit
		if end > len(texts) {
			end = len(texts)
		}

		batch := em.NewBatch()
		for _, text := range texts[start:end] {
			batch.AddContent(genai.Text(text))
		}

		res, err := p.embedGuard.do(ctx, func() (interface{}, error) {
			return em.BatchEmbedContents(ctx, batch)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
			return nil, &EmbeddingCallError{Provider: ProviderGemini, Model: model, Err: err}
		}

		resp := res.(*genai.BatchEmbedContentsResponse)
		if len(resp.Embeddings) != end-start {
			err := fmt.Errorf("expected %d embeddings, got %d", end-start, len(resp.Embeddings))
			return nil, &EmbeddingCallError{Provider: ProviderGemini, Model: model, Err: err}
		}
		for _, e := range resp.Embeddings {
			if e == nil || len(e.Values) == 0 {
				return nil, &EmbeddingCallError{Provider: ProviderGemini, Model: model, Err: errors.New("empty embedding returned")}
			}
			vectors = append(vectors, e.Values)
		}
	}

	return vectors, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	ctx, span := otel.Tracer("rag-backend/ai").Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", ProviderGemini),
		attribute.String("llm.model", req.Model),
		attribute.Float64("llm.temperature", req.Temperature),
	)

	res, err := p.chatGuard.do(ctx, func() (interface{}, error) {
		model := p.client.GenerativeModel(req.Model)
		model.SetTemperature(float32(req.Temperature))
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemPrompt)},
		}
		return model.GenerateContent(ctx, genai.Text(req.Query))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, &LLMCallError{Provider: ProviderGemini, Model: req.Model, Err: err}
	}

	resp := res.(*genai.GenerateContentResponse)
	text := responseText(resp)
	if text == "" {
		return nil, &LLMCallError{Provider: ProviderGemini, Model: req.Model, Err: errors.New("response contained no text")}
	}

	tokens := extractTokenUsage(resp)
	span.SetAttributes(attribute.Int("llm.tokens_used", tokens))
	return &Generation{Text: text, TokensUsed: tokens}, nil
}

// Close the client
func (p *GeminiProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		// First candidate with content wins.
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}

// extractTokenUsage prefers reported usage and falls back to ~4 characters per token.
func extractTokenUsage(resp *genai.GenerateContentResponse) int {
	if resp.UsageMetadata != nil {
		return int(resp.UsageMetadata.TotalTokenCount)
	}
	estimated := len(responseText(resp)) / 4
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}
