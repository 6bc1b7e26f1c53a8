package models

// AuditReport lists instruments whose data is incomplete for one timeframe.
type AuditReport struct {
	MissingKlines []string `json:"missing_klines"`
	MissingOI     []string `json:"missing_oi"`
	MissingFR     []string `json:"missing_fr"`
}

// InstrumentSeries is one instrument's trimmed, ascending series.
type InstrumentSeries struct {
	Symbol    string         `json:"symbol"`
	Exchanges []string       `json:"exchanges"`
	Data      []MergedRecord `json:"data"`
}

// FinalStructure is the cached and served shape for one timeframe.
// Data is sorted by Symbol; OpenTime/CloseTime are nil when no record survived.
type FinalStructure struct {
	OpenTime    *int64             `json:"openTime"`
	CloseTime   *int64             `json:"closeTime"`
	Timeframe   string             `json:"timeframe"`
	AuditReport AuditReport        `json:"audit_report"`
	Data        []InstrumentSeries `json:"data"`
}

// Find returns the series for symbol, if present.
func (f *FinalStructure) Find(symbol string) (*InstrumentSeries, bool) {
	for i := range f.Data {
		if f.Data[i].Symbol == symbol {
			return &f.Data[i], true
		}
	}
	return nil, false
}

// RecordCount returns the total number of records across instruments.
func (f *FinalStructure) RecordCount() int {
	n := 0
	for _, s := range f.Data {
		n += len(s.Data)
	}
	return n
}
