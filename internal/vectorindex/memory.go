package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process collection scored by cosine similarity.
type MemoryStore struct {
	name string

	mu        sync.RWMutex
	exists    bool
	dimension int
	entries   []Entry
}

func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name}
}

func (m *MemoryStore) Name() string { return m.name }

func (m *MemoryStore) Describe(ctx context.Context) (CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return CollectionInfo{Exists: m.exists, Dimension: m.dimension, Points: len(m.entries)}, nil
}

func (m *MemoryStore) Create(ctx context.Context, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = true
	m.dimension = dimension
	m.entries = nil
	return nil
}

func (m *MemoryStore) Drop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = false
	m.dimension = 0
	m.entries = nil
	return nil
}

func (m *MemoryStore) Insert(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return 0, ErrCollectionNotFound
	}
	for _, e := range entries {
		if len(e.Vector) != m.dimension {
			return 0, &DimensionMismatchError{Existing: m.dimension, Requested: len(e.Vector)}
		}
	}
	for _, e := range entries {
		stored := e
		stored.Vector = append([]float32(nil), e.Vector...)
		m.entries = append(m.entries, stored)
	}
	return len(entries), nil
}

func (m *MemoryStore) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.exists {
		return nil, ErrCollectionNotFound
	}
	if len(vector) != m.dimension {
		return nil, &DimensionMismatchError{Existing: m.dimension, Requested: len(vector)}
	}

	results := make([]Result, 0, len(m.entries))
	for _, e := range m.entries {
		if filter.DocumentID != "" && e.Metadata.DocumentID != filter.DocumentID {
			continue
		}
		results = append(results, Result{
			Text:     e.Text,
			Metadata: e.Metadata,
			Score:    cosine(vector, e.Vector),
		})
	}

	// Stable so equal scores keep insertion order.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
