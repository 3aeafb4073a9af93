package utils

import (
	"context"
	"time"
)

const (
	// DefaultTimeout is the default timeout for most database operations
	DefaultTimeout = 10 * time.Second

	// ShortTimeout is for quick operations (lock release, health checks)
	ShortTimeout = 2 * time.Second
)

// WithShortTimeout creates a context with short timeout for quick operations
func WithShortTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ShortTimeout)
}

// Detached keeps the parent's values but not its deadline or cancellation,
// bounded by its own timeout. Work that must outlive a disconnected or
// timed-out request uses it.
func Detached(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), d)
}
