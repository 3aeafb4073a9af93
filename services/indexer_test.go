package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-backend/internal/ai"
	"rag-backend/internal/vectorindex"
	"rag-backend/models"
)

func TestIndexWritesChunksAndMarksDocument(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	res, err := p.indexer.Index(ctx, IndexRequest{
		DocumentID:        "doc-1",
		EmbeddingProvider: "OpenAI",
		EmbeddingModel:    "text-embedding-3-small",
		Chunks:            textChunks("The sky is blue.", "Grass is green."),
	})
	require.NoError(t, err)
	assert.Equal(t, IndexStatusIndexed, res.Status)
	assert.Equal(t, 2, res.ChunksIndexed)
	assert.Equal(t, "openai", res.EmbeddingProvider)
	assert.False(t, res.CollectionRecreated)

	info, err := p.store.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Points)

	update := p.documents.last()
	assert.Equal(t, statusUpdate{
		ID:       "doc-1",
		Status:   models.DocumentIndexed,
		Chunks:   2,
		Provider: "openai",
		Model:    "text-embedding-3-small",
	}, update)
}

func TestIndexRejectsEmptyContent(t *testing.T) {
	for name, chunks := range map[string][]models.ChunkInput{
		"nil":   nil,
		"blank": textChunks("", "   ", "\n\t"),
	} {
		t.Run(name, func(t *testing.T) {
			p := newPipeline()
			res, err := p.indexer.Index(context.Background(), IndexRequest{
				DocumentID:        "doc-1",
				EmbeddingProvider: "openai",
				EmbeddingModel:    "text-embedding-3-small",
				Chunks:            chunks,
			})
			assert.ErrorIs(t, err, ErrNoContent)
			assert.True(t, IsTerminal(err))
			assert.Equal(t, IndexStatusFailed, res.Status)
			assert.Zero(t, res.ChunksIndexed)
			assert.Zero(t, p.embedder.calls)
			assert.Equal(t, models.DocumentFailed, p.documents.last().Status)
		})
	}
}

func TestIndexUnsupportedProviderIsTerminal(t *testing.T) {
	p := newPipeline()

	res, err := p.indexer.Index(context.Background(), IndexRequest{
		DocumentID:        "doc-1",
		EmbeddingProvider: "anthropic",
		EmbeddingModel:    "claude",
		Chunks:            textChunks("text"),
	})
	var unsupported *ai.UnsupportedProviderError
	require.True(t, errors.As(err, &unsupported))
	assert.True(t, IsTerminal(err))
	assert.Equal(t, IndexStatusFailed, res.Status)
	assert.Zero(t, p.embedder.calls)

	_, err = p.indexer.Index(context.Background(), IndexRequest{
		DocumentID:        "doc-1",
		EmbeddingProvider: "gemini",
		EmbeddingModel:    "text-embedding-004",
		Chunks:            textChunks("text"),
	})
	var missing *ai.MissingCredentialError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "GEMINI_API_KEY", missing.EnvVar)
}

func TestReindexWithNewDimensionReplacesCollection(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	_, err := p.indexer.Index(ctx, IndexRequest{
		DocumentID:        "old-doc",
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
		Chunks:            textChunks("The sky is blue.", "Grass is green.", "The sun is yellow."),
	})
	require.NoError(t, err)

	res, err := p.indexer.Index(ctx, IndexRequest{
		DocumentID:        "new-doc",
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-large",
		Chunks:            textChunks("The sky is blue."),
	})
	require.NoError(t, err)
	assert.True(t, res.CollectionRecreated)

	info, err := p.store.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(vocabulary)+2, info.Dimension)
	assert.Equal(t, 1, info.Points)

	query, err := p.embedder.Embed(ctx, []string{"sky"}, "text-embedding-3-large")
	require.NoError(t, err)
	hits, err := p.collection.Search(ctx, query[0], 10, vectorindex.Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new-doc", hits[0].Metadata.DocumentID)
}

func TestIndexRecreatesWhenInsertRaces(t *testing.T) {
	p := newPipeline()
	racing := &racingCollection{Collection: p.collection}
	indexer := NewIndexer(p.registry, racing, nil, nil)

	res, err := indexer.Index(context.Background(), IndexRequest{
		DocumentID:        "doc-1",
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
		Chunks:            textChunks("The sky is blue."),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, racing.recreates)
	assert.True(t, res.CollectionRecreated)
	assert.Equal(t, 1, res.ChunksIndexed)
}

func TestIndexEmbedsInBatches(t *testing.T) {
	p := newPipeline()
	texts := make([]string, 130)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d is green", i)
	}

	res, err := p.indexer.Index(context.Background(), IndexRequest{
		DocumentID:        "doc-1",
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
		Chunks:            textChunks(texts...),
	})
	require.NoError(t, err)
	assert.Equal(t, 130, res.ChunksIndexed)
	assert.Equal(t, []int{64, 64, 2}, p.embedder.batches)
}

func TestIndexStatusFailureDoesNotMaskOutcome(t *testing.T) {
	p := newPipeline()
	p.documents.err = errBoom

	res, err := p.indexer.Index(context.Background(), IndexRequest{
		DocumentID:        "doc-1",
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
		Chunks:            textChunks("The sky is blue."),
	})
	require.NoError(t, err)
	assert.Equal(t, IndexStatusIndexed, res.Status)

	_, err = p.indexer.Index(context.Background(), IndexRequest{
		DocumentID:        "doc-1",
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
	})
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestNormalizeChunks(t *testing.T) {
	three := 3
	chunks := NormalizeChunks("doc.pdf", []models.ChunkInput{
		{Text: "first"},
		{Text: "  "},
		{Text: "second", Metadata: models.ChunkMetadata{PageLabel: "2", Source: "report.pdf"}},
		{Text: "third", Metadata: models.ChunkMetadata{ChunkIndex: &three}},
	})

	require.Len(t, chunks, 3)
	assert.Equal(t, models.Chunk{Text: "first", DocumentID: "doc.pdf", Index: 0, Source: "doc.pdf"}, chunks[0])
	assert.Equal(t, models.Chunk{Text: "second", DocumentID: "doc.pdf", Index: 1, PageLabel: "2", Source: "report.pdf"}, chunks[1])
	assert.Equal(t, 3, chunks[2].Index)
}

func TestIndexRequiresDocumentID(t *testing.T) {
	p := newPipeline()
	_, err := p.indexer.Index(context.Background(), IndexRequest{
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
		Chunks:            textChunks("x"),
	})
	var invalid *ValidationError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "document_id", invalid.Field)
}
