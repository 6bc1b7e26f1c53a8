package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-pulse/internal/metrics"
	"market-pulse/internal/models"
	"market-pulse/internal/services/pipeline"

	"github.com/sirupsen/logrus"
)

type TaskQueue interface {
	Enqueue(ctx context.Context, task models.Task) (models.Task, error)
	Dequeue(ctx context.Context, timeout time.Duration) (*models.Task, error)
}

type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) (bool, error)
}

type Runner interface {
	Run(ctx context.Context, tf string) (*pipeline.Result, error)
}

// Worker drains the task queue and runs the pipeline under the global lock,
// so at most one aggregation cycle runs system-wide.
type Worker struct {
	queue          TaskQueue
	lock           Locker
	runner         Runner
	dequeueTimeout time.Duration
	retryDelay     time.Duration
	maxAttempts    int
	logger         *logrus.Logger
}

func NewWorker(queue TaskQueue, lock Locker, runner Runner, dequeueTimeout time.Duration, logger *logrus.Logger) *Worker {
	return &Worker{
		queue:          queue,
		lock:           lock,
		runner:         runner,
		dequeueTimeout: dequeueTimeout,
		retryDelay:     2 * time.Second,
		maxAttempts:    30,
		logger:         logger,
	}
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker stopped")
			return nil
		}

		task, err := w.queue.Dequeue(ctx, w.dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.WithError(err).Error("Failed to dequeue task")
			w.sleep(ctx, w.retryDelay)
			continue
		}
		if task == nil {
			continue
		}

		if err := w.Process(ctx, *task); err != nil && !errors.Is(err, ErrLockHeld) {
			w.logger.WithError(err).WithField("task_id", task.ID).Error("Task failed")
		}
	}
}

// Process runs a single task. When the lock is held the task goes back on the
// queue until it has been tried maxAttempts times.
func (w *Worker) Process(ctx context.Context, task models.Task) error {
	entry := w.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"timeframe": task.Timeframe,
		"attempt":   task.Attempts + 1,
	})

	if err := w.lock.Acquire(ctx); err != nil {
		if !errors.Is(err, ErrLockHeld) {
			return err
		}
		metrics.LockContention.Inc()
		return w.requeue(ctx, task, entry)
	}
	defer func() {
		if _, err := w.lock.Release(context.WithoutCancel(ctx)); err != nil {
			entry.WithError(err).Warn("Failed to release pipeline lock")
		}
	}()

	entry.Info("Running task")
	result, err := w.runner.Run(ctx, task.Timeframe)
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", task.Timeframe, err)
	}
	entry.WithField("duration", result.Duration.String()).Info("Task completed")
	return nil
}

func (w *Worker) requeue(ctx context.Context, task models.Task, entry *logrus.Entry) error {
	task.Attempts++
	if task.Attempts >= w.maxAttempts {
		entry.Warn("Dropping task, pipeline lock stayed busy")
		return ErrLockHeld
	}

	entry.Debug("Pipeline busy, re-queueing task")
	w.sleep(ctx, w.retryDelay)
	task.Source = "requeue"
	if _, err := w.queue.Enqueue(context.WithoutCancel(ctx), task); err != nil {
		return fmt.Errorf("failed to re-queue task: %w", err)
	}
	return ErrLockHeld
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
