package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"rag-backend/internal/logger"
)

// StaleMarker fails documents whose indexing job never reported back.
type StaleMarker interface {
	MarkStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StaleSweeper periodically fails documents stuck in processing, which
// happens when a worker dies mid-job and asynq exhausts its retries without
// the handler running.
type StaleSweeper struct {
	scheduler *gocron.Scheduler
	marker    StaleMarker
	interval  time.Duration
	olderThan time.Duration
}

func NewStaleSweeper(marker StaleMarker, interval, olderThan time.Duration) *StaleSweeper {
	return &StaleSweeper{
		scheduler: gocron.NewScheduler(time.UTC),
		marker:    marker,
		interval:  interval,
		olderThan: olderThan,
	}
}

func (s *StaleSweeper) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("stale sweep interval must be positive, got %s", s.interval)
	}
	if _, err := s.scheduler.Every(s.interval).Do(s.run); err != nil {
		return fmt.Errorf("schedule stale sweep: %w", err)
	}
	s.scheduler.StartAsync()
	logger.Info("stale document sweeper started", "interval", s.interval.String(), "older_than", s.olderThan.String())
	return nil
}

func (s *StaleSweeper) Stop() {
	s.scheduler.Stop()
}

// Sweep runs one pass and returns how many documents were failed.
func (s *StaleSweeper) Sweep(ctx context.Context) (int64, error) {
	return s.marker.MarkStale(ctx, s.olderThan)
}

func (s *StaleSweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.Sweep(ctx)
	if err != nil {
		logger.Error("stale document sweep failed", "error", err)
		return
	}
	if n > 0 {
		logger.Warn("marked stale documents as failed", "count", n)
	}
}
