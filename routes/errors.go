package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-backend/internal/ai"
	"rag-backend/internal/crawler"
	"rag-backend/internal/database"
	"rag-backend/internal/logger"
	"rag-backend/internal/queue"
	"rag-backend/internal/vectorindex"
	"rag-backend/services"
	"rag-backend/utils"
)

// respondWithDomainError maps pipeline and store errors onto the HTTP error
// envelope.
func respondWithDomainError(c *gin.Context, err error) {
	var (
		invalid     *services.ValidationError
		unsupported *ai.UnsupportedProviderError
		missing     *ai.MissingCredentialError
		unavailable *vectorindex.UnavailableError
		llmErr      *ai.LLMCallError
		embedErr    *ai.EmbeddingCallError
		fetchErr    *crawler.FetchError
	)

	switch {
	case errors.As(err, &invalid):
		utils.RespondWithError(c, http.StatusBadRequest, "invalid_input", invalid.Error(), gin.H{"field": invalid.Field})
	case errors.As(err, &unsupported):
		utils.RespondWithError(c, http.StatusBadRequest, "unsupported_provider", unsupported.Error(),
			gin.H{"provider": unsupported.Provider, "kind": unsupported.Kind})
	case errors.Is(err, services.ErrNoContent), errors.Is(err, crawler.ErrNoPages):
		utils.RespondWithError(c, http.StatusBadRequest, "no_content", err.Error(), nil)
	case errors.Is(err, services.ErrUnsupportedFileType):
		utils.RespondWithError(c, http.StatusBadRequest, "unsupported_file_type", err.Error(),
			gin.H{"supported": services.SupportedExtensions})
	case errors.As(err, &missing):
		utils.RespondWithServiceUnavailable(c, "provider_not_configured", missing.Error())
	case errors.As(err, &unavailable):
		logger.Error("vector index unavailable", "op", unavailable.Op, "error", unavailable.Err)
		utils.RespondWithServiceUnavailable(c, "vector_index_unavailable", "Vector index is unavailable")
	case errors.As(err, &llmErr):
		logger.Error("llm call failed", "provider", llmErr.Provider, "model", llmErr.Model, "error", llmErr.Err)
		utils.RespondWithBadGateway(c, "llm_call_failed", llmErr.Error())
	case errors.As(err, &embedErr):
		logger.Error("embedding call failed", "provider", embedErr.Provider, "model", embedErr.Model, "error", embedErr.Err)
		utils.RespondWithBadGateway(c, "embedding_call_failed", embedErr.Error())
	case errors.As(err, &fetchErr):
		logger.Warn("crawl failed", "url", fetchErr.URL, "status", fetchErr.StatusCode, "error", fetchErr.Err)
		utils.RespondWithBadGateway(c, "crawl_failed", fetchErr.Error())
	case errors.Is(err, database.ErrNotFound), errors.Is(err, queue.ErrJobNotFound):
		utils.RespondWithNotFound(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		utils.RespondWithError(c, http.StatusGatewayTimeout, "timeout", "The request timed out", nil)
	default:
		logger.Error("request failed", "path", c.FullPath(), "error", err)
		utils.RespondWithInternalError(c, "Internal server error", nil)
	}
}
