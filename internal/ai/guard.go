package ai

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"rag-backend/internal/logger"
)

// guard rate-limits and circuit-breaks calls to one upstream API.
type guard struct {
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func newGuard(name string, requestsPerMinute int, onChange func(string, gobreaker.State, gobreaker.State)) *guard {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if onChange != nil {
				onChange(name, from, to)
			}
		},
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if requestsPerMinute > 0 {
		burst := requestsPerMinute / 10
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}

	return &guard{breaker: breaker, limiter: limiter}
}

func (g *guard) do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return g.breaker.Execute(fn)
}
