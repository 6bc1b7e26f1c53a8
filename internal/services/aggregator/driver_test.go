package aggregator

import (
	"testing"

	"market-pulse/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := NewDriver("4h", "8h")
	require.NoError(t, err)
	return d
}

func TestNewDriver(t *testing.T) {
	d := newDriver(t)
	assert.Equal(t, h4, d.FineMs)
	assert.Equal(t, h8, d.CoarseMs)

	_, err := NewDriver("4h", "12h")
	assert.Error(t, err)
	_, err = NewDriver("3h", "6h")
	assert.Error(t, err)
	_, err = NewDriver("4h", "bogus")
	assert.Error(t, err)
}

func TestBuildKlinesTooShort(t *testing.T) {
	d := newDriver(t)
	assert.Nil(t, d.BuildKlines(nil))
	assert.Nil(t, d.BuildKlines(run4h(0, 1)))
}

func TestBuildKlinesAligned(t *testing.T) {
	d := newDriver(t)
	coarse := d.BuildKlines(run4h(0, 6))

	require.Len(t, coarse, 3)
	assert.Equal(t, []int64{0, h8, 2 * h8}, candleOpens(coarse))
	for _, c := range coarse {
		assert.Equal(t, c.OpenTime+h8-1, c.CloseTime)
	}
	assert.Equal(t, 100.0, *coarse[0].OpenPrice)
	assert.Equal(t, 102.0, *coarse[0].ClosePrice)
	assert.Equal(t, 20.0, *coarse[0].Volume)
}

func TestBuildKlinesMisalignedStart(t *testing.T) {
	d := newDriver(t)
	coarse := d.BuildKlines(run4h(h4, 5))

	// the leading 4h candle has no partner on the grid and is dropped
	assert.Equal(t, []int64{h8, 2 * h8}, candleOpens(coarse))
}

func TestBuildKlinesSkipsGap(t *testing.T) {
	d := newDriver(t)
	fine := []models.Candle{
		candle(0, 1, 2, 0, 1, 1),
		candle(h4, 1, 2, 0, 1, 1),
		// 8h missing
		candle(3*h4, 1, 2, 0, 1, 1),
		candle(4*h4, 1, 2, 0, 1, 1),
		candle(5*h4, 1, 2, 0, 1, 1),
	}

	coarse := d.BuildKlines(fine)
	assert.Equal(t, []int64{0, 4 * h4}, candleOpens(coarse))
	for _, c := range coarse {
		assert.Zero(t, c.OpenTime%h8, "open %d off the 8h grid", c.OpenTime)
	}
}

func TestBuildKlinesNoAnchor(t *testing.T) {
	d := newDriver(t)
	assert.Empty(t, d.BuildKlines(run4h(2*h1, 4)))
}

func TestBuildKlinesDropsFailedPair(t *testing.T) {
	d := newDriver(t)
	fine := run4h(0, 6)
	fine[3].ClosePrice = nil

	coarse := d.BuildKlines(fine)
	assert.Equal(t, []int64{0, 2 * h8}, candleOpens(coarse))
}

func TestBuildKlinesSortsWithoutMutating(t *testing.T) {
	d := newDriver(t)
	ordered := run4h(0, 4)
	shuffled := []models.Candle{ordered[3], ordered[1], ordered[0], ordered[2]}

	coarse := d.BuildKlines(shuffled)
	assert.Equal(t, []int64{0, h8}, candleOpens(coarse))
	assert.Equal(t, 3*h4, shuffled[0].OpenTime)
}

func TestBuildOIAndFR(t *testing.T) {
	d := newDriver(t)

	oi := d.BuildOI([]models.OpenInterestPoint{
		oiPoint(0, 1000), oiPoint(h4, 1200), oiPoint(2*h4, 1300), oiPoint(3*h4, 1100),
	})
	require.Len(t, oi, 2)
	assert.Equal(t, 1200.0, *oi[0].OpenInterest)
	assert.Equal(t, 1100.0, *oi[1].OpenInterest)

	older := frPoint(2*h4, 0.003)
	newer := frPoint(3*h4, 0)
	newer.FundingRate = nil
	fr := d.BuildFR([]models.FundingRatePoint{frPoint(0, 0.001), frPoint(h4, 0.002), older, newer})
	require.Len(t, fr, 2)
	assert.Equal(t, 0.002, *fr[0].FundingRate)
	assert.Equal(t, 0.003, *fr[1].FundingRate)
}

func TestBuildBundleKeepsSymbol(t *testing.T) {
	d := newDriver(t)
	out := d.BuildBundle(models.RawBundle{Symbol: "ETH/USDT:USDT", Klines: run4h(0, 4)})
	assert.Equal(t, "ETH/USDT:USDT", out.Symbol)
	assert.Len(t, out.Klines, 2)
	assert.Empty(t, out.OI)
	assert.Empty(t, out.FR)
}
