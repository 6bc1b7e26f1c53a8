package aggregator

import (
	"io"

	"market-pulse/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	h1 = int64(60 * 60 * 1000)
	h4 = 4 * h1
	h8 = 8 * h1
)

func candle(open int64, o, h, l, c, v float64) models.Candle {
	return models.Candle{
		OpenTime:   open,
		CloseTime:  open + h4 - 1,
		OpenPrice:  models.Float(o),
		HighPrice:  models.Float(h),
		LowPrice:   models.Float(l),
		ClosePrice: models.Float(c),
		Volume:     models.Float(v),
	}
}

func withDelta(c models.Candle, d float64) models.Candle {
	c.VolumeDelta = models.Float(d)
	return c
}

// run4h returns n consecutive 4h candles starting at start with rising prices.
func run4h(start int64, n int) []models.Candle {
	out := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		p := 100 + float64(i)
		out = append(out, candle(start+int64(i)*h4, p, p+2, p-1, p+1, 10))
	}
	return out
}

func oiPoint(open int64, v float64) models.OpenInterestPoint {
	return models.OpenInterestPoint{OpenTime: open, CloseTime: open + h4 - 1, OpenInterest: models.Float(v)}
}

func frPoint(open int64, v float64) models.FundingRatePoint {
	return models.FundingRatePoint{OpenTime: open, CloseTime: open + h4 - 1, FundingRate: models.Float(v)}
}

func opens[T any](in []T, openOf func(T) int64) []int64 {
	out := make([]int64, 0, len(in))
	for _, v := range in {
		out = append(out, openOf(v))
	}
	return out
}

func candleOpens(in []models.Candle) []int64 {
	return opens(in, func(c models.Candle) int64 { return c.OpenTime })
}

func recordOpens(in []models.MergedRecord) []int64 {
	return opens(in, func(r models.MergedRecord) int64 { return r.OpenTime })
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
