package ai

import "fmt"

// UnsupportedProviderError is returned when a provider key names no known
// backend. It is a caller fault and is raised before any network call.
type UnsupportedProviderError struct {
	Provider string
	Kind     string // "embedding" or "llm"
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported %s provider %q", e.Kind, e.Provider)
}

// MissingCredentialError is returned when a provider is known but its API
// key is not configured.
type MissingCredentialError struct {
	Provider string
	EnvVar   string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("provider %q is not configured: %s is not set", e.Provider, e.EnvVar)
}

// EmbeddingCallError wraps a failed embedding request.
type EmbeddingCallError struct {
	Provider string
	Model    string
	Err      error
}

func (e *EmbeddingCallError) Error() string {
	return fmt.Sprintf("%s embedding with model %q failed: %v", e.Provider, e.Model, e.Err)
}

func (e *EmbeddingCallError) Unwrap() error { return e.Err }

// LLMCallError wraps a failed generation request.
type LLMCallError struct {
	Provider string
	Model    string
	Err      error
}

func (e *LLMCallError) Error() string {
	return fmt.Sprintf("%s generation with model %q failed: %v", e.Provider, e.Model, e.Err)
}

func (e *LLMCallError) Unwrap() error { return e.Err }
