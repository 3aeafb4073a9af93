package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sony/gobreaker"

	"rag-backend/internal/logger"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// credentialEnv maps each built-in provider to the variable holding its key.
var credentialEnv = map[string]string{
	ProviderOpenAI: "OPENAI_API_KEY",
	ProviderGemini: "GEMINI_API_KEY",
}

// Embedder turns a batch of texts into vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// GenerateRequest is a single-turn grounded completion.
type GenerateRequest struct {
	Model        string
	SystemPrompt string
	Query        string
	Temperature  float64
}

// Generation is the text an LLM produced plus reported token usage.
type Generation struct {
	Text       string
	TokensUsed int
}

// LLM answers a query under a system prompt.
type LLM interface {
	Generate(ctx context.Context, req GenerateRequest) (*Generation, error)
}

// Options configures the built-in providers.
type Options struct {
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	GeminiAPIKey      string
	RequestsPerMinute int
	// RequiredProviders fail construction when their key is missing.
	RequiredProviders []string
	// OnBreakerChange is called when a provider circuit breaker changes state.
	OnBreakerChange func(name string, from, to gobreaker.State)
}

// NormalizeProvider canonicalizes a caller-supplied provider key.
func NormalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Registry resolves provider keys to constructed clients. Clients are built
// once at startup and shared by concurrent requests.
type Registry struct {
	mu        sync.RWMutex
	embedders map[string]Embedder
	llms      map[string]LLM
	closers   []io.Closer
}

func NewRegistry() *Registry {
	return &Registry{
		embedders: make(map[string]Embedder),
		llms:      make(map[string]LLM),
	}
}

// NewRegistryFromConfig builds every built-in provider that has a key.
// Providers without a key stay unregistered and resolve to
// MissingCredentialError, unless listed in RequiredProviders, in which case
// construction fails.
func NewRegistryFromConfig(ctx context.Context, opts Options) (*Registry, error) {
	r := NewRegistry()

	openaiProvider, err := NewOpenAIProvider(opts)
	switch {
	case err == nil:
		r.Register(ProviderOpenAI, openaiProvider, openaiProvider)
	case isMissingCredential(err):
		logger.Warn("provider disabled", "provider", ProviderOpenAI, "error", err)
	default:
		return nil, err
	}

	geminiProvider, err := NewGeminiProvider(ctx, opts)
	switch {
	case err == nil:
		r.Register(ProviderGemini, geminiProvider, geminiProvider)
		r.closers = append(r.closers, geminiProvider)
	case isMissingCredential(err):
		logger.Warn("provider disabled", "provider", ProviderGemini, "error", err)
	default:
		r.Close()
		return nil, err
	}

	for _, name := range opts.RequiredProviders {
		if _, err := r.Embedder(name); err != nil {
			r.Close()
			return nil, fmt.Errorf("required provider unavailable: %w", err)
		}
	}

	return r, nil
}

func isMissingCredential(err error) bool {
	var mc *MissingCredentialError
	return errors.As(err, &mc)
}

// Register installs an embedder and/or LLM under a provider key. Either may
// be nil.
func (r *Registry) Register(name string, e Embedder, l LLM) {
	key := NormalizeProvider(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if e != nil {
		r.embedders[key] = e
	}
	if l != nil {
		r.llms[key] = l
	}
}

// Embedder resolves an embedding provider without touching the network.
func (r *Registry) Embedder(name string) (Embedder, error) {
	key := NormalizeProvider(name)
	r.mu.RLock()
	e, ok := r.embedders[key]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}
	return nil, r.resolveError(name, key, "embedding")
}

// LLM resolves a generation provider without touching the network.
func (r *Registry) LLM(name string) (LLM, error) {
	key := NormalizeProvider(name)
	r.mu.RLock()
	l, ok := r.llms[key]
	r.mu.RUnlock()
	if ok {
		return l, nil
	}
	return nil, r.resolveError(name, key, "llm")
}

func (r *Registry) resolveError(name, key, kind string) error {
	if env, known := credentialEnv[key]; known {
		return &MissingCredentialError{Provider: key, EnvVar: env}
	}
	return &UnsupportedProviderError{Provider: name, Kind: kind}
}

// Close releases provider clients that hold connections.
func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
