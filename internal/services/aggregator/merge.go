package aggregator

import (
	"sort"

	"market-pulse/internal/models"
)

// Merge combines one instrument's klines, open interest and funding rate into a
// single ascending series. OI and FR values are carried forward from the latest
// point whose OpenTime is at or before the candle's OpenTime; nothing is
// interpolated. Inputs are not modified. Returns nil when there are no klines.
func Merge(bundle models.RawBundle) []models.MergedRecord {
	if bundle.Empty() {
		return nil
	}

	klines := sortedKlines(bundle.Klines)
	oi := append([]models.OpenInterestPoint(nil), bundle.OI...)
	sort.SliceStable(oi, func(i, j int) bool { return oi[i].OpenTime < oi[j].OpenTime })
	fr := append([]models.FundingRatePoint(nil), bundle.FR...)
	sort.SliceStable(fr, func(i, j int) bool { return fr[i].OpenTime < fr[j].OpenTime })

	merged := make([]models.MergedRecord, 0, len(klines))

	// -1 means no point has reached the candle yet.
	oiIdx, frIdx := -1, -1
	for _, k := range klines {
		for oiIdx+1 < len(oi) && oi[oiIdx+1].OpenTime <= k.OpenTime {
			oiIdx++
		}
		for frIdx+1 < len(fr) && fr[frIdx+1].OpenTime <= k.OpenTime {
			frIdx++
		}

		rec := models.MergedRecord{Candle: k.Clone()}
		if oiIdx >= 0 {
			rec.OpenInterest = cloneValue(oi[oiIdx].OpenInterest)
		}
		if frIdx >= 0 {
			rec.FundingRate = cloneValue(fr[frIdx].FundingRate)
		}
		merged = append(merged, rec)
	}

	return merged
}

// sortedKlines returns the klines ordered by OpenTime with duplicate open times
// collapsed to their last occurrence.
func sortedKlines(in []models.Candle) []models.Candle {
	klines := append([]models.Candle(nil), in...)
	sort.SliceStable(klines, func(i, j int) bool { return klines[i].OpenTime < klines[j].OpenTime })

	out := klines[:0]
	for _, k := range klines {
		if n := len(out); n > 0 && out[n-1].OpenTime == k.OpenTime {
			out[n-1] = k
			continue
		}
		out = append(out, k)
	}
	return out
}

func cloneValue(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
