package models

// Candle is one OHLCV bucket as delivered by an exchange, in canonical field names.
// Times are UTC milliseconds since epoch; CloseTime is inclusive (open + duration - 1).
// Value fields are pointers so that "not delivered" stays distinguishable from zero.
type Candle struct {
	OpenTime    int64    `json:"openTime"`
	CloseTime   int64    `json:"closeTime"`
	OpenPrice   *float64 `json:"openPrice"`
	HighPrice   *float64 `json:"highPrice"`
	LowPrice    *float64 `json:"lowPrice"`
	ClosePrice  *float64 `json:"closePrice"`
	Volume      *float64 `json:"volume"`
	VolumeDelta *float64 `json:"volumeDelta,omitempty"` // some exchanges don't provide it
}

// HasPrices reports whether all four OHLC values are present.
func (c Candle) HasPrices() bool {
	return c.OpenPrice != nil && c.HighPrice != nil && c.LowPrice != nil && c.ClosePrice != nil
}

// OpenInterestPoint is the open interest observed at/after OpenTime.
type OpenInterestPoint struct {
	OpenTime     int64    `json:"openTime"`
	CloseTime    int64    `json:"closeTime"`
	OpenInterest *float64 `json:"openInterest"`
}

// FundingRatePoint is the funding rate effective at/after OpenTime.
type FundingRatePoint struct {
	OpenTime    int64    `json:"openTime"`
	CloseTime   int64    `json:"closeTime"`
	FundingRate *float64 `json:"fundingRate"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Value dereferences p, returning 0 for nil.
func Value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone returns a deep copy of the candle.
func (c Candle) Clone() Candle {
	return Candle{
		OpenTime:    c.OpenTime,
		CloseTime:   c.CloseTime,
		OpenPrice:   cloneFloat(c.OpenPrice),
		HighPrice:   cloneFloat(c.HighPrice),
		LowPrice:    cloneFloat(c.LowPrice),
		ClosePrice:  cloneFloat(c.ClosePrice),
		Volume:      cloneFloat(c.Volume),
		VolumeDelta: cloneFloat(c.VolumeDelta),
	}
}
