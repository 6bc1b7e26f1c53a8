package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"market-pulse/internal/models"
	"market-pulse/internal/services/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryQueue struct {
	mu    sync.Mutex
	tasks []models.Task
}

func (q *memoryQueue) Enqueue(ctx context.Context, task models.Task) (models.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return task, nil
}

func (q *memoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, nil
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return &task, nil
}

func (q *memoryQueue) Snapshot() []models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.Task(nil), q.tasks...)
}

type fakeLock struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLock) Acquire(ctx context.Context) error {
	if l.held {
		return ErrLockHeld
	}
	l.acquired++
	return nil
}

func (l *fakeLock) Release(ctx context.Context) (bool, error) {
	l.released++
	return true, nil
}

type fakeRunner struct {
	mu  sync.Mutex
	ran []string
	err error
}

func (r *fakeRunner) Run(ctx context.Context, tf string) (*pipeline.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, tf)
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.Result{Timeframe: tf}, nil
}

func (r *fakeRunner) Ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func newTestWorker(q *memoryQueue, lock *fakeLock, runner *fakeRunner) *Worker {
	w := NewWorker(q, lock, runner, time.Millisecond, quietLogger())
	w.retryDelay = 0
	w.maxAttempts = 3
	return w
}

func TestProcessRunsUnderLock(t *testing.T) {
	lock := &fakeLock{}
	runner := &fakeRunner{}
	w := newTestWorker(&memoryQueue{}, lock, runner)

	require.NoError(t, w.Process(context.Background(), models.Task{ID: "1", Timeframe: "4h"}))
	assert.Equal(t, []string{"4h"}, runner.Ran())
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestProcessReleasesOnFailure(t *testing.T) {
	lock := &fakeLock{}
	runner := &fakeRunner{err: errors.New("cache down")}
	w := newTestWorker(&memoryQueue{}, lock, runner)

	err := w.Process(context.Background(), models.Task{ID: "1", Timeframe: "1h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache down")
	assert.Equal(t, 1, lock.released)
}

func TestProcessRequeuesWhenLockHeld(t *testing.T) {
	q := &memoryQueue{}
	runner := &fakeRunner{}
	w := newTestWorker(q, &fakeLock{held: true}, runner)

	err := w.Process(context.Background(), models.Task{ID: "1", Timeframe: "1h", Source: "api"})
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Empty(t, runner.Ran())

	requeued := q.Snapshot()
	require.Len(t, requeued, 1)
	assert.Equal(t, 1, requeued[0].Attempts)
	assert.Equal(t, "requeue", requeued[0].Source)

	// the last allowed attempt is dropped instead of re-queued
	q.tasks = nil
	err = w.Process(context.Background(), models.Task{ID: "1", Timeframe: "1h", Attempts: 2})
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Empty(t, q.Snapshot())
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	q := &memoryQueue{tasks: []models.Task{{ID: "a", Timeframe: "1h"}, {ID: "b", Timeframe: "4h"}}}
	runner := &fakeRunner{}
	w := newTestWorker(q, &fakeLock{}, runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(runner.Ran()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, []string{"1h", "4h"}, runner.Ran())
}

func TestSchedulerEnqueuesImmediatelyAndOnTick(t *testing.T) {
	q := &memoryQueue{}
	s := NewScheduler(q, []string{"1h", "4h"}, func(tf string) time.Duration {
		if tf == "1h" {
			return 10 * time.Millisecond
		}
		return time.Hour
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	count := func(tf string) int {
		n := 0
		for _, task := range q.Snapshot() {
			if task.Timeframe == tf {
				assert.Equal(t, "scheduler", task.Source)
				n++
			}
		}
		return n
	}
	assert.Eventually(t, func() bool { return count("1h") >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-stopped

	assert.Equal(t, 1, count("4h"))
}
