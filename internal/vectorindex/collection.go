package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"rag-backend/internal/logger"
)

// EnsureStatus is the outcome of Collection.Ensure.
type EnsureStatus int

const (
	// Ready means the collection exists with the requested dimension.
	Ready EnsureStatus = iota
	// DimensionMismatch means the collection holds vectors of another size.
	DimensionMismatch
)

func (s EnsureStatus) String() string {
	if s == DimensionMismatch {
		return "dimension_mismatch"
	}
	return "ready"
}

// EnsureResult reports what Ensure found. Existing and Requested are only
// different when Status is DimensionMismatch.
type EnsureResult struct {
	Status    EnsureStatus
	Existing  int
	Requested int
	Created   bool
	Recreated bool
}

// Collection is the handle pipelines use. Creation and recreation run under
// a named lock so concurrent writers cannot interleave drop and create.
type Collection struct {
	store      Store
	locker     Locker
	lockKey    string
	onRecreate func(from, to int)
}

func NewCollection(store Store, locker Locker) *Collection {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Collection{
		store:   store,
		locker:  locker,
		lockKey: "lock:collection:" + store.Name(),
	}
}

func (c *Collection) Name() string { return c.store.Name() }

// OnRecreate registers a callback fired after every destructive recreation.
func (c *Collection) OnRecreate(fn func(from, to int)) {
	c.onRecreate = fn
}

// Ensure creates the collection when it is missing. An existing collection
// with another dimension is reported, never modified.
func (c *Collection) Ensure(ctx context.Context, dimension int) (EnsureResult, error) {
	if dimension <= 0 {
		return EnsureResult{}, fmt.Errorf("invalid vector dimension %d", dimension)
	}

	ctx, span := otel.Tracer("rag-backend/vectorindex").Start(ctx, "vectorindex.ensure")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.Name()), attribute.Int("dimension", dimension))

	info, err := c.store.Describe(ctx)
	if err != nil {
		return EnsureResult{}, err
	}
	if info.Exists {
		return classify(info.Dimension, dimension), nil
	}

	var result EnsureResult
	err = c.withLock(ctx, func() error {
		info, err := c.store.Describe(ctx)
		if err != nil {
			return err
		}
		if info.Exists {
			result = classify(info.Dimension, dimension)
			return nil
		}
		if err := c.store.Create(ctx, dimension); err != nil {
			return err
		}
		logger.Info("vector collection created", "collection", c.Name(), "dimension", dimension)
		result = EnsureResult{Status: Ready, Existing: dimension, Requested: dimension, Created: true}
		return nil
	})
	span.SetAttributes(attribute.String("ensure.status", result.Status.String()))
	return result, err
}

// EnsureForWrite prepares the collection for an insert of vectors with the
// given dimension. A missing collection is created; one holding another
// dimension is dropped and recreated empty. The returned result describes
// what was found before acting, with Recreated set when data was wiped.
func (c *Collection) EnsureForWrite(ctx context.Context, dimension int) (EnsureResult, error) {
	if dimension <= 0 {
		return EnsureResult{}, fmt.Errorf("invalid vector dimension %d", dimension)
	}

	ctx, span := otel.Tracer("rag-backend/vectorindex").Start(ctx, "vectorindex.ensure")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", c.Name()),
		attribute.Int("dimension", dimension),
		attribute.Bool("write", true),
	)

	var result EnsureResult
	err := c.withLock(ctx, func() error {
		var err error
		result, err = c.ensureLocked(ctx, dimension)
		return err
	})
	span.SetAttributes(
		attribute.String("ensure.status", result.Status.String()),
		attribute.Bool("ensure.recreated", result.Recreated),
	)
	return result, err
}

// Recreate drops the collection and creates it empty with the given
// dimension. If a concurrent writer already recreated it at that dimension
// the call is a no-op. All previously indexed entries are lost.
func (c *Collection) Recreate(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dimension)
	}
	return c.withLock(ctx, func() error {
		_, err := c.ensureLocked(ctx, dimension)
		return err
	})
}

func (c *Collection) ensureLocked(ctx context.Context, dimension int) (EnsureResult, error) {
	info, err := c.store.Describe(ctx)
	if err != nil {
		return EnsureResult{}, err
	}
	if info.Exists && info.Dimension == dimension {
		return classify(info.Dimension, dimension), nil
	}

	if info.Exists {
		if err := c.store.Drop(ctx); err != nil {
			return EnsureResult{}, err
		}
	}
	if err := c.store.Create(ctx, dimension); err != nil {
		return EnsureResult{}, err
	}

	if !info.Exists {
		logger.Info("vector collection created", "collection", c.Name(), "dimension", dimension)
		return EnsureResult{Status: Ready, Existing: dimension, Requested: dimension, Created: true}, nil
	}

	logger.Warn("vector collection recreated, previous entries dropped",
		"collection", c.Name(), "old_dimension", info.Dimension, "new_dimension", dimension)
	if c.onRecreate != nil {
		c.onRecreate(info.Dimension, dimension)
	}
	result := classify(info.Dimension, dimension)
	result.Recreated = true
	return result, nil
}

// Reset drops the collection entirely.
func (c *Collection) Reset(ctx context.Context) error {
	return c.withLock(ctx, func() error {
		return c.store.Drop(ctx)
	})
}

// Info describes the backing collection.
func (c *Collection) Info(ctx context.Context) (CollectionInfo, error) {
	return c.store.Describe(ctx)
}

// Insert appends entries. An empty batch is a no-op.
func (c *Collection) Insert(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	return c.store.Insert(ctx, entries)
}

// Search returns up to k hits ordered by descending score. A missing
// collection or one built for another embedding size yields no hits.
func (c *Collection) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	ctx, span := otel.Tracer("rag-backend/vectorindex").Start(ctx, "vectorindex.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", c.Name()),
		attribute.Int("k", k),
		attribute.Bool("scoped", filter.DocumentID != ""),
	)

	results, err := c.store.Search(ctx, vector, k, filter)
	var mismatch *DimensionMismatchError
	switch {
	case errors.Is(err, ErrCollectionNotFound):
		return nil, nil
	case errors.As(err, &mismatch):
		logger.Warn("query embedding does not match collection dimension",
			"collection", c.Name(), "existing", mismatch.Existing, "requested", mismatch.Requested)
		return nil, nil
	case err != nil:
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	span.SetAttributes(attribute.Int("hits", len(results)))
	return results, nil
}

func (c *Collection) withLock(ctx context.Context, fn func() error) error {
	release, err := c.locker.Acquire(ctx, c.lockKey)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release collection lock", "key", c.lockKey, "error", err)
		}
	}()
	return fn()
}

func classify(existing, requested int) EnsureResult {
	if existing == requested {
		return EnsureResult{Status: Ready, Existing: existing, Requested: requested}
	}
	return EnsureResult{Status: DimensionMismatch, Existing: existing, Requested: requested}
}
