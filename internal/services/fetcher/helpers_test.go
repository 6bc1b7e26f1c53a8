package fetcher

import (
	"context"
	"io"
	"sync"

	"market-pulse/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	h4   int64 = 4 * 60 * 60 * 1000
	h8   int64 = 2 * h4
	base int64 = 1_700_006_400_000 // on the 8h grid
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var btc = models.Instrument{Symbol: "BTC/USDT:USDT", Exchanges: []string{"binance", "bybit"}}

// fakeSource serves canned series and counts calls per kind.
type fakeSource struct {
	name   string
	klines []models.Candle
	oi     []models.OpenInterestPoint
	fr     []models.FundingRatePoint
	err    error
	oiErr  error

	mu     sync.Mutex
	calls  map[string]int
	limits []int
}

func (f *fakeSource) count(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[kind]++
}

func (f *fakeSource) Calls(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Klines(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.Candle, error) {
	f.count("klines")
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.klines, nil
}

func (f *fakeSource) OpenInterest(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.OpenInterestPoint, error) {
	f.count("oi")
	if f.oiErr != nil {
		return nil, f.oiErr
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.oi, nil
}

func (f *fakeSource) FundingRate(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.FundingRatePoint, error) {
	f.count("fr")
	if f.err != nil {
		return nil, f.err
	}
	return f.fr, nil
}

func candleAt(open int64, price float64) models.Candle {
	return models.Candle{
		OpenTime:   open,
		CloseTime:  open + h4 - 1,
		OpenPrice:  models.Float(price),
		HighPrice:  models.Float(price + 1),
		LowPrice:   models.Float(price - 1),
		ClosePrice: models.Float(price),
		Volume:     models.Float(10),
	}
}
