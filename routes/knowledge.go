package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"rag-backend/internal/crawler"
	"rag-backend/internal/database"
	"rag-backend/internal/logger"
	"rag-backend/middleware"
	"rag-backend/models"
	"rag-backend/services"
	"rag-backend/utils"
)

type crawlRequest struct {
	URL          string `json:"url" binding:"required"`
	MaxPages     int    `json:"max_pages"`
	FollowLinks  bool   `json:"follow_links"`
	RenderJS     bool   `json:"render_js"`
	WaitSelector string `json:"wait_selector"`
}

type processRequest struct {
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
}

func SetupKnowledgeRoutes(router *gin.Engine, deps Dependencies) {
	knowledge := router.Group("/knowledge")
	cfg := deps.Config

	knowledge.POST("/upload", middleware.RequestSizeLimit(cfg.MaxFileSize+1<<20), func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "A file is required in the 'file' form field", gin.H{"error": err.Error()})
			return
		}
		if header.Size > cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large",
				"File exceeds maximum size", gin.H{"max_size": cfg.MaxFileSize, "received": header.Size})
			return
		}

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !services.IsSupported(ext) {
			respondWithDomainError(c, fmt.Errorf("%w: %q", services.ErrUnsupportedFileType, ext))
			return
		}

		documentID := uuid.NewString() + ext
		path := deps.Extractor.Path(documentID)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			respondWithDomainError(c, fmt.Errorf("create upload dir: %w", err))
			return
		}
		if err := c.SaveUploadedFile(header, path); err != nil {
			respondWithDomainError(c, fmt.Errorf("save upload: %w", err))
			return
		}

		doc, err := describeUpload(deps, documentID, header.Filename, header.Size)
		if err != nil {
			_ = os.Remove(path)
			respondWithDomainError(c, err)
			return
		}

		if err := deps.Documents.Create(c.Request.Context(), doc); err != nil {
			_ = os.Remove(path)
			respondWithDomainError(c, err)
			return
		}

		logger.Info("document uploaded", "document_id", documentID, "filename", header.Filename,
			"pages", doc.Pages, "chunks", doc.ChunksCount)
		c.JSON(http.StatusOK, models.UploadResponse{
			DocumentID:  documentID,
			Filename:    header.Filename,
			Pages:       doc.Pages,
			ChunksCount: doc.ChunksCount,
		})
	})

	if deps.Crawler != nil {
		knowledge.POST("/crawl", func(c *gin.Context) {
			var req crawlRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
				return
			}

			res, err := deps.Crawler.Crawl(c.Request.Context(), crawler.Request{
				URL:          req.URL,
				MaxPages:     req.MaxPages,
				FollowLinks:  req.FollowLinks,
				RenderJS:     req.RenderJS,
				WaitSelector: req.WaitSelector,
			})
			if err != nil {
				if errors.Is(err, crawler.ErrInvalidURL) {
					err = &services.ValidationError{Field: "url", Message: err.Error()}
				}
				respondWithDomainError(c, err)
				return
			}

			// Crawled sites are stored as a page list so /process reads them
			// like any other upload.
			content, err := json.Marshal(res.Pages)
			if err != nil {
				respondWithDomainError(c, fmt.Errorf("encode crawled pages: %w", err))
				return
			}
			documentID := uuid.NewString() + ".json"
			path := deps.Extractor.Path(documentID)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				respondWithDomainError(c, fmt.Errorf("create upload dir: %w", err))
				return
			}
			if err := os.WriteFile(path, content, 0o644); err != nil {
				respondWithDomainError(c, fmt.Errorf("store crawled pages: %w", err))
				return
			}

			doc, err := describeUpload(deps, documentID, res.URL, int64(len(content)))
			if err == nil {
				err = deps.Documents.Create(c.Request.Context(), doc)
			}
			if err != nil {
				_ = os.Remove(path)
				respondWithDomainError(c, err)
				return
			}

			logger.Info("site crawled", "document_id", documentID, "url", res.URL,
				"pages", doc.Pages, "chunks", doc.ChunksCount)
			c.JSON(http.StatusOK, models.UploadResponse{
				DocumentID:  documentID,
				Filename:    res.URL,
				Pages:       doc.Pages,
				ChunksCount: doc.ChunksCount,
			})
		})
	}

	knowledge.POST("/process/:document_id", func(c *gin.Context) {
		documentID := c.Param("document_id")
		var req processRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		if err := checkEmbedder(deps, req.EmbeddingProvider, req.EmbeddingModel); err != nil {
			respondWithDomainError(c, err)
			return
		}

		ctx := c.Request.Context()
		if _, err := deps.Documents.Get(ctx, documentID); err != nil {
			respondWithDomainError(c, err)
			return
		}

		pages, err := deps.Extractor.Extract(documentID)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}
		chunks := deps.Chunker.Chunk(pages)
		if len(chunks) == 0 {
			respondWithDomainError(c, services.ErrNoContent)
			return
		}

		inputs := make([]models.ChunkInput, len(chunks))
		for i, ch := range chunks {
			inputs[i] = ch.Input()
		}

		jobID, err := deps.Jobs.EnqueueIndex(ctx, services.IndexRequest{
			DocumentID:        documentID,
			EmbeddingProvider: req.EmbeddingProvider,
			EmbeddingModel:    req.EmbeddingModel,
			Chunks:            inputs,
		})
		if err != nil {
			respondWithDomainError(c, err)
			return
		}

		if err := deps.Documents.MarkProcessing(ctx, documentID, jobID, req.EmbeddingProvider, req.EmbeddingModel, len(chunks)); err != nil {
			logger.Warn("failed to mark document processing", "document_id", documentID, "job_id", jobID, "error", err)
		}

		c.JSON(http.StatusAccepted, gin.H{
			"job_id":       jobID,
			"status":       "queued",
			"document_id":  documentID,
			"chunks_count": len(chunks),
		})
	})

	knowledge.POST("/index", func(c *gin.Context) {
		var req services.IndexRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		if req.DocumentID == "" {
			respondWithDomainError(c, &services.ValidationError{Field: "document_id", Message: "is required"})
			return
		}
		if err := checkEmbedder(deps, req.EmbeddingProvider, req.EmbeddingModel); err != nil {
			respondWithDomainError(c, err)
			return
		}
		if len(services.NormalizeChunks(req.DocumentID, req.Chunks)) == 0 {
			respondWithDomainError(c, services.ErrNoContent)
			return
		}

		ctx := c.Request.Context()
		jobID, err := deps.Jobs.EnqueueIndex(ctx, req)
		if err != nil {
			respondWithDomainError(c, err)
			return
		}

		// Chunks may be submitted for ids that were never uploaded.
		err = deps.Documents.MarkProcessing(ctx, req.DocumentID, jobID, req.EmbeddingProvider, req.EmbeddingModel, len(req.Chunks))
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			logger.Warn("failed to mark document processing", "document_id", req.DocumentID, "job_id", jobID, "error", err)
		}

		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "queued"})
	})

	knowledge.GET("/jobs/:job_id", func(c *gin.Context) {
		status, err := deps.JobStatus.JobStatus(c.Request.Context(), c.Param("job_id"))
		if err != nil {
			respondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	knowledge.GET("/documents/:document_id", func(c *gin.Context) {
		doc, err := deps.Documents.Get(c.Request.Context(), c.Param("document_id"))
		if err != nil {
			respondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	})
}

// describeUpload extracts the stored file and builds its document record.
// Unreadable files are the caller's fault.
func describeUpload(deps Dependencies, documentID, filename string, size int64) (*models.Document, error) {
	path := deps.Extractor.Path(documentID)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	checksum, err := utils.Checksum(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("checksum upload: %w", err)
	}

	pages, err := deps.Extractor.Extract(documentID)
	if err != nil {
		if errors.Is(err, services.ErrUnsupportedFileType) {
			return nil, err
		}
		return nil, &services.ValidationError{Field: "file", Message: "could not extract text: " + err.Error()}
	}

	now := time.Now().UTC()
	return &models.Document{
		ID:          documentID,
		Filename:    filename,
		Size:        size,
		Checksum:    checksum,
		Pages:       len(pages),
		ChunksCount: len(deps.Chunker.Chunk(pages)),
		Status:      models.DocumentUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// checkEmbedder rejects unknown or unconfigured providers before any job is
// queued.
func checkEmbedder(deps Dependencies, provider, model string) error {
	if provider == "" {
		return &services.ValidationError{Field: "embedding_provider", Message: "is required"}
	}
	if model == "" {
		return &services.ValidationError{Field: "embedding_model", Message: "is required"}
	}
	if deps.Providers == nil {
		return nil
	}
	_, err := deps.Providers.Embedder(provider)
	return err
}
