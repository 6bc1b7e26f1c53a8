package aggregator

import (
	"fmt"
	"sort"

	"market-pulse/internal/models"
	"market-pulse/internal/timeframe"
)

// Kind tags the three series collected per instrument.
type Kind string

const (
	KindKlines Kind = "klines"
	KindOI     Kind = "oi"
	KindFR     Kind = "fr"
)

// Driver synthesizes coarse records from pairs of adjacent fine records.
// Aggregation is anchored on the most recent record whose close lands on the
// coarse UTC grid and walks backward from there, so gaps or misaligned
// history near the start of a series cannot shift the grid.
type Driver struct {
	Fine     string
	Coarse   string
	FineMs   int64
	CoarseMs int64
}

// NewDriver validates both labels and requires the coarse bucket to be exactly
// two fine buckets.
func NewDriver(fine, coarse string) (*Driver, error) {
	fineMs, ok := timeframe.Lookup(fine)
	if !ok {
		return nil, fmt.Errorf("unsupported fine timeframe %q", fine)
	}
	coarseMs, ok := timeframe.Lookup(coarse)
	if !ok {
		return nil, fmt.Errorf("unsupported coarse timeframe %q", coarse)
	}
	if coarseMs != 2*fineMs {
		return nil, fmt.Errorf("coarse timeframe %s is not twice %s", coarse, fine)
	}
	return &Driver{Fine: fine, Coarse: coarse, FineMs: fineMs, CoarseMs: coarseMs}, nil
}

// BuildKlines aggregates fine candles into coarse candles, oldest first.
func (d *Driver) BuildKlines(fine []models.Candle) []models.Candle {
	return buildCoarse(d, fine,
		func(c models.Candle) int64 { return c.OpenTime },
		func(c models.Candle) int64 { return c.CloseTime },
		AggregateKlinePair)
}

// BuildOI aggregates fine open interest points into coarse points, oldest first.
func (d *Driver) BuildOI(fine []models.OpenInterestPoint) []models.OpenInterestPoint {
	return buildCoarse(d, fine,
		func(p models.OpenInterestPoint) int64 { return p.OpenTime },
		func(p models.OpenInterestPoint) int64 { return p.CloseTime },
		AggregateOIPair)
}

// BuildFR aggregates fine funding rate points into coarse points, oldest first.
func (d *Driver) BuildFR(fine []models.FundingRatePoint) []models.FundingRatePoint {
	return buildCoarse(d, fine,
		func(p models.FundingRatePoint) int64 { return p.OpenTime },
		func(p models.FundingRatePoint) int64 { return p.CloseTime },
		AggregateFRPair)
}

// BuildBundle runs the driver over every kind of a fine bundle.
func (d *Driver) BuildBundle(fine models.RawBundle) models.RawBundle {
	return models.RawBundle{
		Symbol: fine.Symbol,
		Klines: d.BuildKlines(fine.Klines),
		OI:     d.BuildOI(fine.OI),
		FR:     d.BuildFR(fine.FR),
	}
}

type scanState int

const (
	stateSearch scanState = iota // looking for a record whose close is on the coarse grid
	statePair                    // idx is an anchor, try to pair it with idx-1
	stateDone
)

func buildCoarse[T any](
	d *Driver,
	in []T,
	openOf, closeOf func(T) int64,
	pair func(older, newer T) (T, bool),
) []T {
	if len(in) < 2 {
		return nil
	}

	fine := append([]T(nil), in...)
	sort.SliceStable(fine, func(i, j int) bool { return openOf(fine[i]) < openOf(fine[j]) })

	var coarse []T
	state, idx := stateSearch, len(fine)-1

	for state != stateDone {
		switch state {
		case stateSearch:
			state = stateDone
			for ; idx >= 1; idx-- {
				if timeframe.IsCloseOnGrid(closeOf(fine[idx]), d.CoarseMs) {
					state = statePair
					break
				}
			}

		case statePair:
			newer, older := fine[idx], fine[idx-1]
			if openOf(newer)-openOf(older) != d.FineMs {
				// never pair across a gap; look for the next anchor behind the newer record
				idx--
				state = stateSearch
				continue
			}
			if rec, ok := pair(older, newer); ok {
				coarse = append(coarse, rec)
			}
			idx -= 2
			state = stateSearch
		}
	}

	for i, j := 0, len(coarse)-1; i < j; i, j = i+1, j-1 {
		coarse[i], coarse[j] = coarse[j], coarse[i]
	}
	return coarse
}
