package aggregator

import (
	"sort"

	"market-pulse/internal/models"
)

// DefaultMaxRecords is the per-instrument series length served to clients.
const DefaultMaxRecords = 399

// Formatter trims merged series into the cached FinalStructure.
type Formatter struct {
	MaxRecords int
}

// NewFormatter returns a Formatter keeping at most maxRecords per instrument;
// non-positive values fall back to DefaultMaxRecords.
func NewFormatter(maxRecords int) *Formatter {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Formatter{MaxRecords: maxRecords}
}

// Format builds the FinalStructure for one timeframe.
//
// The last record of every series is dropped because it may be a bucket that
// was still open at fetch time. Catalog symbols with no klines at all are
// reported in missing_klines; a symbol that only loses its single record to
// the trim disappears from data without being reported. The new last record of
// each kept series is audited for open interest and funding rate.
func (f *Formatter) Format(merged map[string][]models.MergedRecord, catalog []models.Instrument, tf string) models.FinalStructure {
	exchanges := make(map[string][]string, len(catalog))
	report := models.AuditReport{
		MissingKlines: []string{},
		MissingOI:     []string{},
		MissingFR:     []string{},
	}

	seen := make(map[string]bool, len(catalog))
	for _, inst := range catalog {
		if seen[inst.Symbol] {
			continue
		}
		seen[inst.Symbol] = true
		exchanges[inst.Symbol] = inst.Exchanges
		if len(merged[inst.Symbol]) == 0 {
			report.MissingKlines = append(report.MissingKlines, inst.Symbol)
		}
	}
	sort.Strings(report.MissingKlines)

	symbols := make([]string, 0, len(merged))
	for symbol := range merged {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	out := models.FinalStructure{
		Timeframe: tf,
		Data:      []models.InstrumentSeries{},
	}

	for _, symbol := range symbols {
		series := f.trim(merged[symbol])
		if len(series) == 0 {
			continue
		}

		last := series[len(series)-1]
		if last.OpenInterest == nil {
			report.MissingOI = append(report.MissingOI, symbol)
		}
		if last.FundingRate == nil {
			report.MissingFR = append(report.MissingFR, symbol)
		}

		for _, rec := range series {
			if out.OpenTime == nil || rec.OpenTime < *out.OpenTime {
				v := rec.OpenTime
				out.OpenTime = &v
			}
			if out.CloseTime == nil || rec.CloseTime > *out.CloseTime {
				v := rec.CloseTime
				out.CloseTime = &v
			}
		}

		ex := make([]string, len(exchanges[symbol]))
		copy(ex, exchanges[symbol])
		out.Data = append(out.Data, models.InstrumentSeries{
			Symbol:    symbol,
			Exchanges: ex,
			Data:      series,
		})
	}

	out.AuditReport = report
	return out
}

// trim drops the trailing record and keeps the newest MaxRecords of the rest.
func (f *Formatter) trim(series []models.MergedRecord) []models.MergedRecord {
	if len(series) <= 1 {
		return nil
	}
	kept := series[:len(series)-1]
	if len(kept) > f.MaxRecords {
		kept = kept[len(kept)-f.MaxRecords:]
	}
	return append([]models.MergedRecord(nil), kept...)
}
