package models

import "strings"

// MergedRecord is a candle extended with the open interest and funding rate
// carried forward from the latest point at or before the candle's OpenTime.
// Both extensions stay nil (and are omitted from JSON) until such a point exists.
type MergedRecord struct {
	Candle
	OpenInterest *float64          `json:"openInterest,omitempty"`
	FundingRate  *float64          `json:"fundingRate,omitempty"`
	Indicators   map[string]float64 `json:"indicators,omitempty"`
}

// RawBundle holds the three independently collected series for one instrument.
// Slices are unsorted and may differ in length; OI and FR may be empty.
type RawBundle struct {
	Symbol string              `json:"symbol"`
	Klines []Candle            `json:"klines"`
	OI     []OpenInterestPoint `json:"oi"`
	FR     []FundingRatePoint  `json:"fr"`
}

// Empty reports whether the bundle carries no candles.
func (b RawBundle) Empty() bool {
	return len(b.Klines) == 0
}

// Instrument is one catalog entry, e.g. {"BTC/USDT:USDT", ["binance", "bybit"]}.
type Instrument struct {
	Symbol    string   `json:"symbol" yaml:"symbol"`
	Exchanges []string `json:"exchanges" yaml:"exchanges"`
}

// Pair returns the traded pair without the settlement suffix ("BTC/USDT").
func (i Instrument) Pair() string {
	return strings.SplitN(i.Symbol, ":", 2)[0]
}

// ExchangeSymbol returns the pair in the concatenated exchange form ("BTCUSDT").
func (i Instrument) ExchangeSymbol() string {
	return strings.ReplaceAll(i.Pair(), "/", "")
}
