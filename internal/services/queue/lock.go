package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// LockKey guards the aggregation pipeline across every process sharing Redis.
const LockKey = "lock:pipeline"

// ErrLockHeld is returned by Acquire when another holder owns the lock.
var ErrLockHeld = errors.New("pipeline lock held by another worker")

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// Lock is a single-flight lock built on SET NX with a random token. The TTL
// bounds how long a crashed holder can block others.
type Lock struct {
	client   *redis.Client
	key      string
	ttl      time.Duration
	newToken func() string

	mu    sync.Mutex
	token string
}

func NewLock(client *redis.Client, ttl time.Duration) *Lock {
	return &Lock{
		client:   client,
		key:      LockKey,
		ttl:      ttl,
		newToken: uuid.NewString,
	}
}

// Acquire takes the lock or returns ErrLockHeld.
func (l *Lock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	token := l.newToken()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	l.token = token
	return nil
}

// Release frees the lock if this instance still owns it. It reports whether
// the key was deleted; an expired lock taken over by someone else is left alone.
func (l *Lock) Release(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token == "" {
		return false, nil
	}
	token := l.token
	l.token = ""

	n, err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	return n == 1, nil
}
