// Package vectorindex stores chunk embeddings in a single named collection
// and answers k-nearest-neighbour queries against it.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
)

// DefaultTopK bounds search results when the caller passes k <= 0.
const DefaultTopK = 5

// Metadata travels with every entry and comes back on search hits.
type Metadata struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	PageLabel  string `json:"page_label"`
	Source     string `json:"source"`
}

// Entry is one embedded chunk.
type Entry struct {
	Vector   []float32
	Text     string
	Metadata Metadata
}

// Result is a search hit. Higher scores are more similar.
type Result struct {
	Text     string
	Metadata Metadata
	Score    float32
}

// Filter scopes a search. The zero value matches every entry.
type Filter struct {
	DocumentID string
}

// CollectionInfo describes the backing collection.
type CollectionInfo struct {
	Exists    bool
	Dimension int
	Points    int
}

// Store is the backend primitive set. Implementations must be safe for
// concurrent use.
type Store interface {
	Name() string
	Describe(ctx context.Context) (CollectionInfo, error)
	Create(ctx context.Context, dimension int) error
	Drop(ctx context.Context) error
	Insert(ctx context.Context, entries []Entry) (int, error)
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error)
}

// ErrCollectionNotFound is returned by stores when the collection is absent.
var ErrCollectionNotFound = errors.New("vector collection not found")

// UnavailableError reports a transport or server failure of the backing store.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vector index unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// DimensionMismatchError reports vectors whose length differs from the
// collection's. It is resolved by recreation and not shown to API callers.
type DimensionMismatchError struct {
	Existing  int
	Requested int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: collection has %d, got %d", e.Existing, e.Requested)
}
