package queue

import (
	"context"
	"sync"
	"time"

	"market-pulse/internal/models"

	"github.com/sirupsen/logrus"
)

// Scheduler enqueues one task per timeframe on its own ticker. Each timeframe
// is enqueued once immediately at start.
type Scheduler struct {
	queue       TaskQueue
	timeframes  []string
	intervalFor func(tf string) time.Duration
	logger      *logrus.Logger
}

func NewScheduler(queue TaskQueue, timeframes []string, intervalFor func(string) time.Duration, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		queue:       queue,
		timeframes:  timeframes,
		intervalFor: intervalFor,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, tf := range s.timeframes {
		wg.Add(1)
		go func(tf string) {
			defer wg.Done()
			s.loop(ctx, tf)
		}(tf)
	}
	wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, tf string) {
	interval := s.intervalFor(tf)
	s.logger.WithFields(logrus.Fields{
		"timeframe": tf,
		"interval":  interval.String(),
	}).Info("Scheduling timeframe")

	s.enqueue(ctx, tf)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.enqueue(ctx, tf)
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context, tf string) {
	if _, err := s.queue.Enqueue(ctx, models.Task{Timeframe: tf, Source: "scheduler"}); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).WithField("timeframe", tf).Error("Failed to schedule task")
	}
}
