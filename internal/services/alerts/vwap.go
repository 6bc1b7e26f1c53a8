package alerts

import (
	"errors"
	"fmt"

	"market-pulse/internal/models"

	"github.com/shopspring/decimal"
)

// ErrZeroVolume is returned when the VWAP window traded nothing.
var ErrZeroVolume = errors.New("no volume in vwap window")

var three = decimal.NewFromInt(3)

// VWAP returns the volume-weighted average of the typical price
// (high+low+close)/3 over the last window records. Records without prices or
// volume are skipped.
func VWAP(records []models.MergedRecord, window int) (decimal.Decimal, error) {
	if window <= 0 {
		return decimal.Zero, fmt.Errorf("vwap window must be positive, got %d", window)
	}
	if len(records) > window {
		records = records[len(records)-window:]
	}

	pv := decimal.Zero
	volume := decimal.Zero
	for _, r := range records {
		if !r.HasPrices() || r.Volume == nil {
			continue
		}
		typical := decimal.NewFromFloat(*r.HighPrice).
			Add(decimal.NewFromFloat(*r.LowPrice)).
			Add(decimal.NewFromFloat(*r.ClosePrice)).
			Div(three)
		v := decimal.NewFromFloat(*r.Volume)
		pv = pv.Add(typical.Mul(v))
		volume = volume.Add(v)
	}

	if volume.IsZero() {
		return decimal.Zero, ErrZeroVolume
	}
	return pv.Div(volume), nil
}
