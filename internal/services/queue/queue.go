package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"market-pulse/internal/metrics"
	"market-pulse/internal/models"
	"market-pulse/internal/timeframe"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PendingKey is the Redis list holding queued tasks. Producers LPUSH and the
// worker BRPOPs, so tasks run in FIFO order.
const PendingKey = "tasks:pending"

// Queue is a Redis list of collection tasks.
type Queue struct {
	client *redis.Client
	key    string
	logger *logrus.Logger
}

func NewQueue(client *redis.Client, logger *logrus.Logger) *Queue {
	return &Queue{
		client: client,
		key:    PendingKey,
		logger: logger,
	}
}

// Enqueue pushes task, filling in ID and EnqueuedAt when unset.
func (q *Queue) Enqueue(ctx context.Context, task models.Task) (models.Task, error) {
	if _, ok := timeframe.Lookup(task.Timeframe); !ok {
		return task, fmt.Errorf("unsupported timeframe %q", task.Timeframe)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	if task.Source == "" {
		task.Source = "unknown"
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return task, fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, string(payload)).Err(); err != nil {
		return task, fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.TasksEnqueued.WithLabelValues(task.Source).Inc()
	q.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"timeframe": task.Timeframe,
		"source":    task.Source,
	}).Debug("Task enqueued")
	return task, nil
}

// Dequeue blocks up to timeout for the next task. It returns nil, nil when
// the wait expires with an empty queue.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Task, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}

	var task models.Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// Len returns the number of pending tasks
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
