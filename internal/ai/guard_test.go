package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"rag-backend/internal/logger"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	prev := logger.Logger
	logger.Logger = zap.New(core).Sugar()
	t.Cleanup(func() { logger.Logger = prev })
	return logs
}

func TestGuardTripReportsTransitionOnce(t *testing.T) {
	logs := observeLogs(t)

	var transitions []gobreaker.State
	g := newGuard("test-upstream", 0, func(_ string, _, to gobreaker.State) {
		transitions = append(transitions, to)
	})

	upstream := errors.New("upstream down")
	for i := 0; i < 3; i++ {
		_, err := g.do(context.Background(), func() (interface{}, error) { return nil, upstream })
		require.ErrorIs(t, err, upstream)
	}

	_, err := g.do(context.Background(), func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)
	assert.Equal(t, 1, logs.FilterMessage("circuit breaker state changed").Len())
}
