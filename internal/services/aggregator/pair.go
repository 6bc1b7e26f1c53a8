package aggregator

import (
	"math"

	"github.com/shopspring/decimal"

	"market-pulse/internal/models"
)

// AggregateKlinePair folds two adjacent fine candles into one coarse candle.
// Open comes from the older candle, close from the newer, high/low are extremal
// and volumes are summed and rounded to 2 decimals. A missing or non-finite
// volume counts as zero. Fails when any OHLC value is missing on either side.
func AggregateKlinePair(older, newer models.Candle) (models.Candle, bool) {
	if !older.HasPrices() || !newer.HasPrices() {
		return models.Candle{}, false
	}

	high := *older.HighPrice
	if *newer.HighPrice > high {
		high = *newer.HighPrice
	}
	low := *older.LowPrice
	if *newer.LowPrice < low {
		low = *newer.LowPrice
	}

	return models.Candle{
		OpenTime:    older.OpenTime,
		CloseTime:   newer.CloseTime,
		OpenPrice:   models.Float(*older.OpenPrice),
		HighPrice:   models.Float(high),
		LowPrice:    models.Float(low),
		ClosePrice:  models.Float(*newer.ClosePrice),
		Volume:      models.Float(sumRounded(older.Volume, newer.Volume)),
		VolumeDelta: models.Float(sumRounded(older.VolumeDelta, newer.VolumeDelta)),
	}, true
}

// AggregateOIPair keeps the newer open interest: OI is a gauge, not a flow.
func AggregateOIPair(older, newer models.OpenInterestPoint) (models.OpenInterestPoint, bool) {
	if newer.OpenInterest == nil {
		return models.OpenInterestPoint{}, false
	}
	return models.OpenInterestPoint{
		OpenTime:     older.OpenTime,
		CloseTime:    newer.CloseTime,
		OpenInterest: models.Float(*newer.OpenInterest),
	}, true
}

// AggregateFRPair keeps the newer funding rate, falling back to the older one.
// Funding is sampled sparsely, so whichever sample exists wins.
func AggregateFRPair(older, newer models.FundingRatePoint) (models.FundingRatePoint, bool) {
	rate := newer.FundingRate
	if rate == nil {
		rate = older.FundingRate
	}
	if rate == nil {
		return models.FundingRatePoint{}, false
	}
	return models.FundingRatePoint{
		OpenTime:    older.OpenTime,
		CloseTime:   newer.CloseTime,
		FundingRate: models.Float(*rate),
	}, true
}

func sumRounded(a, b *float64) float64 {
	sum := decimal.Zero
	for _, v := range []*float64{a, b} {
		// decimal.NewFromFloat panics on NaN and Inf
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(*v))
	}
	return sum.Round(2).InexactFloat64()
}
