package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollection() (*Collection, *MemoryStore) {
	store := NewMemoryStore("rag_collection")
	return NewCollection(store, NewLocalLocker()), store
}

func entry(doc string, idx int, vec ...float32) Entry {
	return Entry{
		Vector:   vec,
		Text:     fmt.Sprintf("%s-%d", doc, idx),
		Metadata: Metadata{DocumentID: doc, ChunkIndex: idx, PageLabel: "1", Source: doc + ".pdf"},
	}
}

func TestSearchOnMissingOrEmptyCollection(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCollection()

	results, err := c.Search(ctx, []float32{1, 0}, 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = c.Ensure(ctx, 2)
	require.NoError(t, err)

	results, err = c.Search(ctx, []float32{1, 0}, 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestInsertEmptyIsNoop(t *testing.T) {
	c, _ := newTestCollection()

	n, err := c.Insert(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSearchReturnsAllInsertedOrderedByScore(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCollection()
	_, err := c.Ensure(ctx, 2)
	require.NoError(t, err)

	entries := []Entry{
		entry("d", 0, 0, 1),
		entry("d", 1, 1, 0),
		entry("d", 2, 1, 1),
		entry("d", 3, -1, 0),
	}
	n, err := c.Insert(ctx, entries)
	require.NoError(t, err)
	require.Equal(t, len(entries), n)

	results, err := c.Search(ctx, []float32{1, 0.1}, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, results, len(entries))
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.Equal(t, "d-1", results[0].Text)
	assert.Equal(t, "d-3", results[len(results)-1].Text)
}

func TestSearchDefaultsKAndScopesByDocument(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCollection()
	_, err := c.Ensure(ctx, 2)
	require.NoError(t, err)

	var entries []Entry
	for i := 0; i < 8; i++ {
		entries = append(entries, entry("a", i, 1, float32(i)))
	}
	entries = append(entries, entry("b", 0, 1, 0))
	_, err = c.Insert(ctx, entries)
	require.NoError(t, err)

	results, err := c.Search(ctx, []float32{1, 0}, 0, Filter{})
	require.NoError(t, err)
	assert.Len(t, results, DefaultTopK)

	scoped, err := c.Search(ctx, []float32{1, 0}, 20, Filter{DocumentID: "b"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "b", scoped[0].Metadata.DocumentID)
}

func TestEnsureReportsMismatchWithoutDestroying(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCollection()

	res, err := c.Ensure(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Ready, res.Status)
	assert.True(t, res.Created)

	_, err = c.Insert(ctx, []Entry{entry("d", 0, 1, 0)})
	require.NoError(t, err)

	res, err = c.Ensure(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Ready, res.Status)
	assert.False(t, res.Created)

	res, err = c.Ensure(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, DimensionMismatch, res.Status)
	assert.Equal(t, 2, res.Existing)
	assert.Equal(t, 3, res.Requested)

	info, err := store.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Points)
}

func TestRecreateReplacesOldEntries(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCollection()

	_, err := c.Ensure(ctx, 2)
	require.NoError(t, err)
	_, err = c.Insert(ctx, []Entry{entry("old", 0, 1, 0), entry("old", 1, 0, 1)})
	require.NoError(t, err)

	require.NoError(t, c.Recreate(ctx, 3))
	_, err = c.Insert(ctx, []Entry{entry("new", 0, 1, 0, 0)})
	require.NoError(t, err)

	results, err := c.Search(ctx, []float32{1, 0, 0}, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Metadata.DocumentID)

	// A query embedded with the old model finds nothing instead of failing.
	stale, err := c.Search(ctx, []float32{1, 0}, 10, Filter{})
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestConcurrentRecreateSettlesOnOneDimension(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCollection()
	_, err := c.Ensure(ctx, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Recreate(ctx, 4))
		}()
	}
	wg.Wait()

	info, err := store.Describe(ctx)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, 4, info.Dimension)
}

func TestMemoryStoreInsertRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("c")
	require.NoError(t, store.Create(ctx, 2))

	_, err := store.Insert(ctx, []Entry{entry("d", 0, 1, 0, 0)})
	var mismatch *DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 2, mismatch.Existing)
	assert.Equal(t, 3, mismatch.Requested)
}

func TestEnsureForWriteRecreatesOnMismatch(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCollection()

	var recreations [][2]int
	c.OnRecreate(func(from, to int) { recreations = append(recreations, [2]int{from, to}) })

	res, err := c.EnsureForWrite(ctx, 2)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Recreated)

	_, err = c.Insert(ctx, []Entry{entry("old", 0, 1, 0)})
	require.NoError(t, err)

	res, err = c.EnsureForWrite(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Ready, res.Status)
	assert.False(t, res.Recreated)

	res, err = c.EnsureForWrite(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, DimensionMismatch, res.Status)
	assert.True(t, res.Recreated)
	assert.Equal(t, 2, res.Existing)

	info, err := store.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, CollectionInfo{Exists: true, Dimension: 3, Points: 0}, info)
	assert.Equal(t, [][2]int{{2, 3}}, recreations)
}
