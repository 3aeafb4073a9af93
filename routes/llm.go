package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rag-backend/internal/config"
	"rag-backend/internal/logger"
	"rag-backend/services"
	"rag-backend/utils"
)

const defaultQueryTimeout = 2 * time.Minute

func SetupLLMRoutes(router *gin.Engine, deps Dependencies, limiter gin.HandlerFunc) {
	llm := router.Group("/llm")
	llm.Use(limiter)

	llm.POST("/process", func(c *gin.Context) {
		var req services.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := queryContext(c, deps.Config)
		defer cancel()

		answer, err := deps.Answerer.Answer(ctx, req)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}
		logPersist(answer)
		c.JSON(http.StatusOK, answer)
	})
}

func logPersist(answer *services.Answer) {
	if answer.Persist.Persisted || answer.Persist.Reason == "" {
		return
	}
	logger.Debug("chat log not written", "reason", answer.Persist.Reason)
}

// queryContext keeps the request's values but not its cancellation: a client
// that disconnects mid-answer does not abort embedding or generation.
func queryContext(c *gin.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	timeout := defaultQueryTimeout
	if cfg != nil && cfg.QueryTimeout > 0 {
		timeout = cfg.QueryTimeout
	}
	return utils.Detached(c.Request.Context(), timeout)
}
