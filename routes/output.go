package routes

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"rag-backend/internal/database"
	"rag-backend/internal/logger"
	"rag-backend/models"
	"rag-backend/services"
	"rag-backend/utils"
)

const (
	historyLimit    = 10
	maxHistoryLimit = 100
	// maxExportRows caps a single chat history export.
	maxExportRows = 10000
)

type chatView struct {
	ChatID         string  `json:"chat_id"`
	Query          string  `json:"query"`
	Answer         string  `json:"answer"`
	Sources        int     `json:"sources"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	Provider       string  `json:"provider"`
	EmbeddingModel string  `json:"embedding_model"`
	CreatedAt      string  `json:"created_at"`
	IsFollowUp     bool    `json:"is_follow_up"`
	ParentChatID   string  `json:"parent_chat_id,omitempty"`
}

func newChatView(log models.ChatLog) chatView {
	return chatView{
		ChatID:         log.ChatID,
		Query:          log.Query,
		Answer:         log.Answer,
		Sources:        log.Sources,
		Model:          log.Model,
		Temperature:    log.Temperature,
		Provider:       log.Provider,
		EmbeddingModel: log.EmbeddingModel,
		CreatedAt:      log.CreatedAt.Format(time.RFC3339),
		IsFollowUp:     log.ParentChatID != "",
		ParentChatID:   log.ParentChatID,
	}
}

func newChatViews(logs []models.ChatLog) []chatView {
	views := make([]chatView, 0, len(logs))
	for _, l := range logs {
		views = append(views, newChatView(l))
	}
	return views
}

type chatHistoryRequest struct {
	DocumentID string `json:"document_id"`
	Limit      *int   `json:"limit"`
	Offset     int    `json:"offset"`
}

type followUpRequest struct {
	ChatID          string   `json:"chat_id"`
	FollowUpQuery   string   `json:"follow_up_query"`
	DocumentID      string   `json:"document_id"`
	LLMProvider     string   `json:"llm_provider"`
	LLMModel        string   `json:"llm_model"`
	Temperature     *float64 `json:"temperature"`
	Provider        string   `json:"provider"`
	EmbeddingModel  string   `json:"embedding_model"`
	EnableWebSearch bool     `json:"enable_web_search"`
}

type followUpResponse struct {
	*services.Answer
	OriginalChatID string `json:"original_chat_id"`
	FollowUpQuery  string `json:"follow_up_query"`
}

type statsResponse struct {
	*models.DocumentStats
	Document gin.H `json:"document_stats"`
}

func SetupOutputRoutes(router *gin.Engine, deps Dependencies, limiter gin.HandlerFunc) {
	output := router.Group("/output")

	getChat := func(c *gin.Context) {
		ctx := c.Request.Context()
		chat, err := deps.ChatLogs.Get(ctx, c.Param("chat_id"))
		if err != nil {
			respondWithDomainError(c, err)
			return
		}

		result := gin.H{"chat": newChatView(*chat), "status": "success"}
		if include, _ := strconv.ParseBool(c.Query("include_history")); include {
			history, err := deps.ChatLogs.ListByDocument(ctx, chat.DocumentID, historyLimit, 0)
			if err != nil {
				respondWithDomainError(c, err)
				return
			}
			result["history"] = newChatViews(history)
		}
		c.JSON(http.StatusOK, result)
	}
	// Existing frontends fetch a chat with an empty POST body.
	output.GET("/chat/:chat_id", getChat)
	output.POST("/chat/:chat_id", getChat)

	output.POST("/chat-history", func(c *gin.Context) {
		var req chatHistoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		limit := historyLimit
		if req.Limit != nil {
			limit = *req.Limit
		}
		switch {
		case req.DocumentID == "":
			respondWithDomainError(c, &services.ValidationError{Field: "document_id", Message: "is required"})
			return
		case limit < 1 || limit > maxHistoryLimit:
			respondWithDomainError(c, &services.ValidationError{Field: "limit", Message: "must be between 1 and 100"})
			return
		case req.Offset < 0:
			respondWithDomainError(c, &services.ValidationError{Field: "offset", Message: "must not be negative"})
			return
		}

		ctx := c.Request.Context()
		doc, err := deps.Documents.Get(ctx, req.DocumentID)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}
		total, err := deps.ChatLogs.CountByDocument(ctx, req.DocumentID)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}
		chats, err := deps.ChatLogs.ListByDocument(ctx, req.DocumentID, limit, req.Offset)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"document_id": req.DocumentID,
			"total_chats": total,
			"chats":       newChatViews(chats),
			"document_info": gin.H{
				"filename":        doc.Filename,
				"chunks_count":    doc.ChunksCount,
				"embedding_model": doc.EmbeddingModel,
				"status":          doc.Status,
			},
		})
	})

	output.POST("/follow-up", limiter, func(c *gin.Context) {
		var req followUpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		if req.ChatID == "" {
			respondWithDomainError(c, &services.ValidationError{Field: "chat_id", Message: "is required"})
			return
		}
		if req.Provider == "" {
			req.Provider = "openai"
		}
		if req.EmbeddingModel == "" {
			req.EmbeddingModel = "text-embedding-3-small"
		}

		ctx, cancel := queryContext(c, deps.Config)
		defer cancel()

		query := services.QueryRequest{
			Query:           req.FollowUpQuery,
			Provider:        req.Provider,
			Model:           req.EmbeddingModel,
			DocumentID:      req.DocumentID,
			LLMProvider:     req.LLMProvider,
			LLMModel:        req.LLMModel,
			Temperature:     req.Temperature,
			EnableWebSearch: req.EnableWebSearch,
			ParentChatID:    req.ChatID,
		}

		// A missing original turn still gets an answer, just without history.
		original, err := deps.ChatLogs.Get(ctx, req.ChatID)
		switch {
		case err == nil:
			query.History = []services.Turn{{Query: original.Query, Answer: original.Answer}}
		case errors.Is(err, database.ErrNotFound):
			logger.Warn("follow-up on unknown chat", "chat_id", req.ChatID)
		default:
			logger.Warn("could not load original chat, continuing without history", "chat_id", req.ChatID, "error", err)
		}

		answer, err := deps.Answerer.Answer(ctx, query)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}
		logPersist(answer)
		c.JSON(http.StatusOK, followUpResponse{
			Answer:         answer,
			OriginalChatID: req.ChatID,
			FollowUpQuery:  req.FollowUpQuery,
		})
	})

	output.GET("/document/:document_id/stats", func(c *gin.Context) {
		ctx := c.Request.Context()
		documentID := c.Param("document_id")
		doc, err := deps.Documents.Get(ctx, documentID)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}
		stats, err := deps.ChatLogs.Stats(ctx, documentID)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}
		stats.Filename = doc.Filename
		stats.AverageSourcesPerQuery = math.Round(stats.AverageSourcesPerQuery*100) / 100

		c.JSON(http.StatusOK, statsResponse{
			DocumentStats: stats,
			Document: gin.H{
				"chunks_count":       doc.ChunksCount,
				"embedding_provider": doc.EmbeddingProvider,
				"status":             doc.Status,
				"created_at":         doc.CreatedAt.Format(time.RFC3339),
			},
		})
	})

	output.GET("/document/:document_id/export", func(c *gin.Context) {
		ctx := c.Request.Context()
		documentID := c.Param("document_id")
		doc, err := deps.Documents.Get(ctx, documentID)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}
		chats, err := deps.ChatLogs.ListByDocument(ctx, documentID, maxExportRows, 0)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}
		stats, err := deps.ChatLogs.Stats(ctx, documentID)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}
		stats.Filename = doc.Filename
		stats.AverageSourcesPerQuery = math.Round(stats.AverageSourcesPerQuery*100) / 100

		file, err := services.RenderChatExport(&services.ChatExport{
			DocumentID:   documentID,
			Filename:     doc.Filename,
			ExportedAt:   time.Now().UTC(),
			TotalRecords: len(chats),
			Summary:      stats,
			Chats:        chats,
		}, c.DefaultQuery("format", services.ExportFormatJSON))
		if err != nil {
			if errors.Is(err, services.ErrUnsupportedExportFormat) {
				err = &services.ValidationError{Field: "format", Message: err.Error()}
			}
			respondWithDomainError(c, err)
			return
		}

		logger.Info("chat history exported", "document_id", documentID, "records", len(chats), "bytes", len(file.Data))
		c.Header("Content-Disposition", "attachment; filename="+file.Filename)
		c.Data(http.StatusOK, file.ContentType, file.Data)
	})
}
