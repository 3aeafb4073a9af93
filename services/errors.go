package services

import (
	"errors"

	"rag-backend/internal/ai"
	"rag-backend/internal/vectorindex"
)

// ErrNoContent is returned when an indexing request carries no usable text.
var ErrNoContent = errors.New("no content to index")

// ValidationError reports a request field the pipelines refuse to run with.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// IsTerminal reports whether retrying the same request can never succeed.
func IsTerminal(err error) bool {
	var (
		unsupported *ai.UnsupportedProviderError
		missing     *ai.MissingCredentialError
		invalid     *ValidationError
	)
	return errors.Is(err, ErrNoContent) ||
		errors.Is(err, vectorindex.ErrUnsupportedVectorLayout) ||
		errors.As(err, &unsupported) ||
		errors.As(err, &missing) ||
		errors.As(err, &invalid)
}
