package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"rag-backend/internal/ai"
	"rag-backend/internal/logger"
	"rag-backend/internal/telemetry"
	"rag-backend/internal/vectorindex"
	"rag-backend/models"
	"rag-backend/utils"
)

// embedBatchSize bounds the texts sent per embedding request.
const embedBatchSize = 64

const (
	IndexStatusIndexed = "indexed"
	IndexStatusFailed  = "failed"
)

// EmbedderResolver looks up an embedding provider by key.
type EmbedderResolver interface {
	Embedder(name string) (ai.Embedder, error)
}

// WritableCollection is the part of the vector index the indexer writes to.
type WritableCollection interface {
	EnsureForWrite(ctx context.Context, dimension int) (vectorindex.EnsureResult, error)
	Recreate(ctx context.Context, dimension int) error
	Insert(ctx context.Context, entries []vectorindex.Entry) (int, error)
}

// DocumentStatusStore records indexing outcomes on the document.
type DocumentStatusStore interface {
	UpdateIndexStatus(ctx context.Context, id string, status models.DocumentStatus, chunks int, provider, model, errMsg string) error
}

type IndexRequest struct {
	DocumentID        string              `json:"document_id"`
	EmbeddingProvider string              `json:"embedding_provider"`
	EmbeddingModel    string              `json:"embedding_model"`
	Chunks            []models.ChunkInput `json:"chunks"`
}

// IndexResult is stored as the job result and returned by status polling.
type IndexResult struct {
	DocumentID          string `json:"document_id"`
	Status              string `json:"status"`
	ChunksIndexed       int    `json:"chunks_indexed"`
	EmbeddingProvider   string `json:"embedding_provider,omitempty"`
	EmbeddingModel      string `json:"embedding_model,omitempty"`
	CollectionRecreated bool   `json:"collection_recreated,omitempty"`
	Message             string `json:"message,omitempty"`
	Error               string `json:"error,omitempty"`
}

type Indexer struct {
	providers  EmbedderResolver
	collection WritableCollection
	documents  DocumentStatusStore
	metrics    *telemetry.Metrics
}

// NewIndexer wires the pipeline. documents and metrics may be nil.
func NewIndexer(providers EmbedderResolver, collection WritableCollection, documents DocumentStatusStore, metrics *telemetry.Metrics) *Indexer {
	return &Indexer{
		providers:  providers,
		collection: collection,
		documents:  documents,
		metrics:    metrics,
	}
}

// Index embeds the request's chunks and appends them to the collection. A
// collection built for another embedding size is recreated. On failure the
// returned result carries status "failed" alongside the error.
func (ix *Indexer) Index(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	start := time.Now()
	provider := ai.NormalizeProvider(req.EmbeddingProvider)

	ctx, span := otel.Tracer("rag-backend/services").Start(ctx, "rag.index")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", req.DocumentID),
		attribute.String("embedding.provider", provider),
		attribute.String("embedding.model", req.EmbeddingModel),
		attribute.Int("chunks.submitted", len(req.Chunks)),
	)

	result, err := ix.index(ctx, req, provider)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "indexing failed")
		result = &IndexResult{
			DocumentID: req.DocumentID,
			Status:     IndexStatusFailed,
			Error:      err.Error(),
		}
		ix.recordStatus(ctx, req, models.DocumentFailed, 0, err.Error())
	} else {
		ix.recordStatus(ctx, req, models.DocumentIndexed, result.ChunksIndexed, "")
	}

	if ix.metrics != nil {
		ix.metrics.RecordIndexJob(provider, result.Status, result.ChunksIndexed, time.Since(start).Seconds())
	}
	return result, err
}

func (ix *Indexer) index(ctx context.Context, req IndexRequest, provider string) (*IndexResult, error) {
	if strings.TrimSpace(req.DocumentID) == "" {
		return nil, &ValidationError{Field: "document_id", Message: "is required"}
	}
	if strings.TrimSpace(req.EmbeddingModel) == "" {
		return nil, &ValidationError{Field: "embedding_model", Message: "is required"}
	}

	chunks := NormalizeChunks(req.DocumentID, req.Chunks)
	if len(chunks) == 0 {
		return nil, ErrNoContent
	}

	embedder, err := ix.providers.Embedder(provider)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedAll(ctx, embedder, texts, req.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	dimension := len(vectors[0])
	entries := make([]vectorindex.Entry, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) != dimension {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(vectors[i]), dimension)
		}
		entries[i] = vectorindex.Entry{
			Vector: vectors[i],
			Text:   c.Text,
			Metadata: vectorindex.Metadata{
				DocumentID: req.DocumentID,
				ChunkIndex: c.Index,
				PageLabel:  c.PageLabel,
				Source:     c.Source,
			},
		}
	}

	ensured, err := ix.collection.EnsureForWrite(ctx, dimension)
	if err != nil {
		return nil, err
	}

	inserted, err := ix.collection.Insert(ctx, entries)
	var mismatch *vectorindex.DimensionMismatchError
	if errors.As(err, &mismatch) {
		// Another writer changed the collection between ensure and insert.
		logger.Warn("collection dimension changed during indexing, recreating",
			"document_id", req.DocumentID, "existing", mismatch.Existing, "requested", mismatch.Requested)
		if err := ix.collection.Recreate(ctx, dimension); err != nil {
			return nil, err
		}
		ensured.Recreated = true
		inserted, err = ix.collection.Insert(ctx, entries)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("document indexed",
		"document_id", req.DocumentID,
		"chunks", inserted,
		"provider", provider,
		"model", req.EmbeddingModel,
		"collection_recreated", ensured.Recreated,
	)

	return &IndexResult{
		DocumentID:          req.DocumentID,
		Status:              IndexStatusIndexed,
		ChunksIndexed:       inserted,
		EmbeddingProvider:   provider,
		EmbeddingModel:      req.EmbeddingModel,
		CollectionRecreated: ensured.Recreated,
		Message:             fmt.Sprintf("Successfully indexed %d chunks", inserted),
	}, nil
}

// recordStatus updates the document without letting a store failure mask
// the indexing outcome. It runs detached so a timed-out job is still marked.
func (ix *Indexer) recordStatus(ctx context.Context, req IndexRequest, status models.DocumentStatus, chunks int, errMsg string) {
	if ix.documents == nil {
		return
	}
	ctx, cancel := utils.Detached(ctx, utils.DefaultTimeout)
	defer cancel()

	err := ix.documents.UpdateIndexStatus(ctx, req.DocumentID, status, chunks,
		ai.NormalizeProvider(req.EmbeddingProvider), req.EmbeddingModel, errMsg)
	if err != nil {
		logger.Warn("failed to record document index status",
			"document_id", req.DocumentID, "status", status, "error", err)
	}
}

// NormalizeChunks drops blank inputs and fills in document metadata. Chunks
// without an explicit index are numbered by their position.
func NormalizeChunks(documentID string, inputs []models.ChunkInput) []models.Chunk {
	chunks := make([]models.Chunk, 0, len(inputs))
	for _, in := range inputs {
		if strings.TrimSpace(in.Text) == "" {
			continue
		}
		c := models.Chunk{
			Text:       in.Text,
			DocumentID: documentID,
			Index:      len(chunks),
			PageLabel:  in.Metadata.PageLabel,
			Source:     in.Metadata.Source,
		}
		if in.Metadata.ChunkIndex != nil {
			c.Index = *in.Metadata.ChunkIndex
		}
		if c.Source == "" {
			c.Source = documentID
		}
		chunks = append(chunks, c)
	}
	return chunks
}

func embedAll(ctx context.Context, embedder ai.Embedder, texts []string, model string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := embedder.Embed(ctx, texts[start:end], model)
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}
