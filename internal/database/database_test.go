package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rag-backend/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	dbName := "rag_test_" + uuid.NewString()[:8]
	t.Cleanup(func() {
		_ = client.Database(dbName).Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return NewStore(client, dbName)
}

func TestDocumentLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	doc := &models.Document{ID: "a.pdf", Filename: "report.pdf", Size: 1024, Pages: 3}
	require.NoError(t, store.Documents.Create(ctx, doc))

	got, err := store.Documents.Get(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentUploaded, got.Status)

	require.NoError(t, store.Documents.MarkProcessing(ctx, "a.pdf", "job-1", "openai", "text-embedding-3-small", 12))
	require.NoError(t, store.Documents.UpdateIndexStatus(ctx, "a.pdf", models.DocumentIndexed, 12, "openai", "text-embedding-3-small", ""))

	got, err = store.Documents.Get(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentIndexed, got.Status)
	assert.Equal(t, 12, got.ChunksCount)
	assert.Equal(t, "job-1", got.JobID)

	_, err = store.Documents.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Documents.UpdateIndexStatus(ctx, "missing", models.DocumentFailed, 0, "", "", "x"), ErrNotFound)
}

func TestMarkStale(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Documents.Create(ctx, &models.Document{ID: "stuck", Status: models.DocumentProcessing}))
	require.NoError(t, store.Documents.Create(ctx, &models.Document{ID: "fresh", Status: models.DocumentProcessing}))

	n, err := store.Documents.MarkStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.Documents.MarkStale(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := store.Documents.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentFailed, got.Status)
}

func TestChatLogsHistoryAndStats(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	logs := []models.ChatLog{
		{ChatID: "c1", DocumentID: "d", Sources: 2, Model: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small", CreatedAt: base},
		{ChatID: "c2", DocumentID: "d", Sources: 4, Model: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small", CreatedAt: base.Add(time.Minute)},
		{ChatID: "c3", DocumentID: "d", Sources: 0, Model: "gemini-1.5-flash", EmbeddingModel: "text-embedding-004", CreatedAt: base.Add(2 * time.Minute)},
		{ChatID: "c4", DocumentID: "other", Sources: 5, Model: "gpt-4o", CreatedAt: base},
	}
	for i := range logs {
		require.NoError(t, store.ChatLogs.Create(ctx, &logs[i]))
	}

	got, err := store.ChatLogs.Get(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Sources)
	_, err = store.ChatLogs.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	page, err := store.ChatLogs.ListByDocument(ctx, "d", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c3", page[0].ChatID)
	assert.Equal(t, "c2", page[1].ChatID)

	total, err := store.ChatLogs.CountByDocument(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	stats, err := store.ChatLogs.Stats(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalQueries)
	assert.InDelta(t, 2.0, stats.AverageSourcesPerQuery, 1e-9)
	require.Len(t, stats.ModelsUsed, 2)
	assert.Equal(t, models.ModelUsage{Model: "gpt-4o-mini", Count: 2}, stats.ModelsUsed[0])
	assert.Len(t, stats.EmbeddingModelsUsed, 2)

	empty, err := store.ChatLogs.Stats(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalQueries)
	assert.Empty(t, empty.ModelsUsed)
}
