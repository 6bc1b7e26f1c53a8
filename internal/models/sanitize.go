package models

import "math"

// Finite reports whether v is neither NaN nor ±Inf.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Sanitize replaces non-finite values with null across every series so the
// structure encodes as valid JSON.
func (fs *FinalStructure) Sanitize() {
	for i := range fs.Data {
		SanitizeRecords(fs.Data[i].Data)
	}
}

// SanitizeRecords nils out non-finite fields and drops non-finite indicators
// in place.
func SanitizeRecords(records []MergedRecord) {
	for i := range records {
		r := &records[i]
		for _, p := range []**float64{
			&r.OpenPrice, &r.HighPrice, &r.LowPrice, &r.ClosePrice,
			&r.Volume, &r.VolumeDelta, &r.OpenInterest, &r.FundingRate,
		} {
			if *p != nil && !Finite(**p) {
				*p = nil
			}
		}
		for k, v := range r.Indicators {
			if !Finite(v) {
				delete(r.Indicators, k)
			}
		}
	}
}
