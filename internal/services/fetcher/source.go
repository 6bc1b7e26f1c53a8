package fetcher

import (
	"context"
	"errors"

	"market-pulse/internal/models"
)

var (
	// ErrUnsupported is returned when an exchange cannot serve a kind or timeframe.
	ErrUnsupported = errors.New("unsupported by exchange")
	// ErrRateLimited marks responses where the exchange asked us to slow down.
	ErrRateLimited = errors.New("rate limited by exchange")
)

// Source fetches the three raw series for one exchange. Results may be in any
// order; the merge step sorts them.
type Source interface {
	Name() string
	Klines(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.Candle, error)
	OpenInterest(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.OpenInterestPoint, error)
	FundingRate(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.FundingRatePoint, error)
}
