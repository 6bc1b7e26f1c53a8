package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-pulse/internal/metrics"
	"market-pulse/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// GuardSettings configures the limiter and circuit breaker around a Source.
type GuardSettings struct {
	RPS            float64
	Burst          int
	MaxFailures    uint32
	BreakerTimeout time.Duration
	RequestTimeout time.Duration
}

// GuardedSource wraps a Source with pacing, a circuit breaker, a per-request
// timeout and fetch metrics.
type GuardedSource struct {
	source  Source
	limiter *ExchangeLimiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *logrus.Logger
}

func NewGuardedSource(source Source, settings GuardSettings, logger *logrus.Logger) *GuardedSource {
	maxFailures := settings.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	g := &GuardedSource{
		source:  source,
		limiter: NewExchangeLimiter(source.Name(), settings.RPS, settings.Burst),
		timeout: settings.RequestTimeout,
		logger:  logger,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    source.Name(),
		Timeout: settings.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// unsupported requests say nothing about exchange health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnsupported)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"exchange": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Warn("Exchange circuit breaker changed state")
		},
	})
	return g
}

func (g *GuardedSource) Name() string {
	return g.source.Name()
}

// State reports the circuit breaker state
func (g *GuardedSource) State() gobreaker.State {
	return g.breaker.State()
}

func (g *GuardedSource) Klines(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.Candle, error) {
	out, err := g.do(ctx, "klines", func(ctx context.Context) (interface{}, error) {
		return g.source.Klines(ctx, inst, tf, limit)
	})
	if err != nil {
		return nil, err
	}
	return out.([]models.Candle), nil
}

func (g *GuardedSource) OpenInterest(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.OpenInterestPoint, error) {
	out, err := g.do(ctx, "oi", func(ctx context.Context) (interface{}, error) {
		return g.source.OpenInterest(ctx, inst, tf, limit)
	})
	if err != nil {
		return nil, err
	}
	return out.([]models.OpenInterestPoint), nil
}

func (g *GuardedSource) FundingRate(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.FundingRatePoint, error) {
	out, err := g.do(ctx, "fr", func(ctx context.Context) (interface{}, error) {
		return g.source.FundingRate(ctx, inst, tf, limit)
	})
	if err != nil {
		return nil, err
	}
	return out.([]models.FundingRatePoint), nil
}

func (g *GuardedSource) do(ctx context.Context, kind string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for %s rate limiter: %w", g.Name(), err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	metrics.TrackFetch(g.Name(), kind, start, err)

	switch {
	case err == nil:
		g.limiter.RecordSuccess()
	case errors.Is(err, ErrRateLimited):
		g.limiter.RecordRateLimitHit()
	}
	return out, err
}
