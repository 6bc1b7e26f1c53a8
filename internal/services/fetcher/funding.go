package fetcher

import (
	"sort"

	"market-pulse/internal/models"
	"market-pulse/internal/timeframe"
)

// fundingEvent is one settlement as reported by an exchange.
type fundingEvent struct {
	Time int64
	Rate float64
}

// alignFunding spreads sparse settlement events over the timeframe grid: every
// bucket from the first event's bucket up to the bucket containing untilMs gets
// the latest rate settled at or before the bucket's close. Only the newest
// limit buckets are kept.
func alignFunding(events []fundingEvent, tf string, untilMs int64, limit int) []models.FundingRatePoint {
	if len(events) == 0 {
		return nil
	}
	sorted := append([]fundingEvent(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	dur := timeframe.DurationMs(tf)
	first := timeframe.Floor(sorted[0].Time, dur)
	last := timeframe.Floor(untilMs, dur)
	if lastEvent := timeframe.Floor(sorted[len(sorted)-1].Time, dur); lastEvent > last {
		last = lastEvent
	}

	var points []models.FundingRatePoint
	idx := -1
	for open := first; open <= last; open += dur {
		closeTime := open + dur - 1
		for idx+1 < len(sorted) && sorted[idx+1].Time <= closeTime {
			idx++
		}
		points = append(points, models.FundingRatePoint{
			OpenTime:    open,
			CloseTime:   closeTime,
			FundingRate: models.Float(sorted[idx].Rate),
		})
	}

	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	return points
}
