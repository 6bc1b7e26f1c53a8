package fetcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ExchangeLimiter paces requests to one exchange and backs off after the
// exchange reports a rate limit.
type ExchangeLimiter struct {
	name    string
	limiter *rate.Limiter
	mu      sync.RWMutex

	requestCount     int64
	rateLimitHits    int64
	lastRateLimitHit time.Time

	backoffDuration   time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

func NewExchangeLimiter(name string, rps float64, burst int) *ExchangeLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ExchangeLimiter{
		name:              name,
		limiter:           rate.NewLimiter(rate.Limit(rps), burst),
		maxBackoff:        5 * time.Minute,
		backoffMultiplier: 1.5,
	}
}

// Wait blocks until a request may be sent
func (e *ExchangeLimiter) Wait(ctx context.Context) error {
	e.mu.RLock()
	backoff := e.backoffDuration
	lastHit := e.lastRateLimitHit
	e.mu.RUnlock()

	if remaining := backoff - time.Since(lastHit); backoff > 0 && remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return e.limiter.Wait(ctx)
}

// RecordRateLimitHit grows the backoff window
func (e *ExchangeLimiter) RecordRateLimitHit() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rateLimitHits++
	e.lastRateLimitHit = time.Now()

	if e.backoffDuration == 0 {
		e.backoffDuration = time.Second
	} else {
		e.backoffDuration = time.Duration(float64(e.backoffDuration) * e.backoffMultiplier)
		if e.backoffDuration > e.maxBackoff {
			e.backoffDuration = e.maxBackoff
		}
	}
}

// RecordSuccess shrinks the backoff window
func (e *ExchangeLimiter) RecordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.requestCount++
	if e.backoffDuration == 0 {
		return
	}
	if time.Since(e.lastRateLimitHit) > 5*time.Minute {
		e.backoffDuration = 0
		return
	}
	e.backoffDuration = time.Duration(float64(e.backoffDuration) * 0.9)
	if e.backoffDuration < time.Second {
		e.backoffDuration = 0
	}
}

// Backoff returns the current backoff window
func (e *ExchangeLimiter) Backoff() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backoffDuration
}

// GetStats returns limiter statistics
func (e *ExchangeLimiter) GetStats() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return map[string]interface{}{
		"name":               e.name,
		"request_count":      e.requestCount,
		"rate_limit_hits":    e.rateLimitHits,
		"last_rate_limit":    e.lastRateLimitHit,
		"current_backoff_ms": e.backoffDuration.Milliseconds(),
	}
}
