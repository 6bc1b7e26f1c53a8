package indicators

import (
	"fmt"

	"market-pulse/internal/models"

	"github.com/markcheno/go-talib"
	"github.com/sirupsen/logrus"
)

const (
	KeyRSI        = "rsi"
	KeyATR        = "atr"
	KeyMACD       = "macd"
	KeyMACDSignal = "macd_signal"
	KeyMACDHist   = "macd_hist"
)

// EMAKey returns the indicator key of the EMA over period records.
func EMAKey(period int) string {
	return fmt.Sprintf("ema_%d", period)
}

// Enricher attaches technical indicators to the records of a FinalStructure.
// An indicator is only written from the first record where its lookback is
// satisfied; earlier records and too-short series are left untouched.
type Enricher struct {
	EMAPeriods []int
	RSIPeriod  int
	ATRPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	logger     *logrus.Logger
}

func NewEnricher(logger *logrus.Logger) *Enricher {
	return &Enricher{
		EMAPeriods: []int{20, 50},
		RSIPeriod:  14,
		ATRPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		logger:     logger,
	}
}

// Enrich fills Indicators on every series of fs and returns how many series
// were enriched.
func (e *Enricher) Enrich(fs *models.FinalStructure) int {
	enriched := 0
	for i := range fs.Data {
		if e.EnrichSeries(fs.Data[i].Data) {
			enriched++
			continue
		}
		e.logger.WithFields(logrus.Fields{
			"symbol":    fs.Data[i].Symbol,
			"timeframe": fs.Timeframe,
			"records":   len(fs.Data[i].Data),
		}).Debug("Skipped indicators for series")
	}
	return enriched
}

// EnrichSeries computes indicators in place. It returns false when the series
// has a record without prices or is shorter than every lookback.
func (e *Enricher) EnrichSeries(records []models.MergedRecord) bool {
	n := len(records)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, r := range records {
		if !r.HasPrices() {
			return false
		}
		closes[i] = *r.ClosePrice
		highs[i] = *r.HighPrice
		lows[i] = *r.LowPrice
	}

	wrote := false
	for _, period := range e.EMAPeriods {
		if period > 1 && n >= period {
			wrote = set(records, EMAKey(period), talib.Ema(closes, period), period-1) || wrote
		}
	}
	if e.RSIPeriod > 1 && n > e.RSIPeriod {
		wrote = set(records, KeyRSI, talib.Rsi(closes, e.RSIPeriod), e.RSIPeriod) || wrote
	}
	if e.ATRPeriod > 0 && n > e.ATRPeriod {
		wrote = set(records, KeyATR, talib.Atr(highs, lows, closes, e.ATRPeriod), e.ATRPeriod) || wrote
	}
	if lookback := e.MACDSlow - 1 + e.MACDSignal - 1; e.MACDSlow > e.MACDFast && e.MACDFast > 1 && n > lookback {
		macd, signal, hist := talib.Macd(closes, e.MACDFast, e.MACDSlow, e.MACDSignal)
		set(records, KeyMACD, macd, lookback)
		set(records, KeyMACDSignal, signal, lookback)
		wrote = set(records, KeyMACDHist, hist, lookback) || wrote
	}
	return wrote
}

func set(records []models.MergedRecord, key string, values []float64, from int) bool {
	if len(values) != len(records) || from >= len(records) {
		return false
	}
	for i := from; i < len(records); i++ {
		if !models.Finite(values[i]) {
			continue
		}
		if records[i].Indicators == nil {
			records[i].Indicators = make(map[string]float64)
		}
		records[i].Indicators[key] = values[i]
	}
	return true
}
