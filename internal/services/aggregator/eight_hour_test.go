package aggregator

import (
	"context"
	"errors"
	"testing"

	"market-pulse/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	saved []models.FinalStructure
	err   error
}

func (m *memoryStore) Save(_ context.Context, fs models.FinalStructure) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, fs)
	return nil
}

func fourHourBundle(symbol string, n int) models.RawBundle {
	klines := run4h(0, n)
	oi := make([]models.OpenInterestPoint, 0, n)
	fr := make([]models.FundingRatePoint, 0, n)
	for i, k := range klines {
		oi = append(oi, oiPoint(k.OpenTime, 1000+float64(i)))
		fr = append(fr, frPoint(k.OpenTime, 0.0001))
	}
	return models.RawBundle{Symbol: symbol, Klines: klines, OI: oi, FR: fr}
}

func TestGenerateAndSave8h(t *testing.T) {
	store := &memoryStore{}
	gen, err := NewEightHourGenerator("4h", "8h", NewFormatter(0), store, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "8h", gen.Timeframe())

	bundles := map[string]models.RawBundle{
		"ETH/USDT:USDT": fourHourBundle("ETH/USDT:USDT", 8),
		"BTC/USDT:USDT": fourHourBundle("BTC/USDT:USDT", 6),
	}
	catalog := []models.Instrument{
		{Symbol: "BTC/USDT:USDT", Exchanges: []string{"binance"}},
		{Symbol: "ETH/USDT:USDT", Exchanges: []string{"binance", "bybit"}},
		{Symbol: "SOL/USDT:USDT", Exchanges: []string{"bybit"}},
	}

	fs, err := gen.GenerateAndSave8h(context.Background(), bundles, catalog)
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, fs, store.saved[0])

	assert.Equal(t, "8h", fs.Timeframe)
	assert.Equal(t, []string{"SOL/USDT:USDT"}, fs.AuditReport.MissingKlines)
	assert.Empty(t, fs.AuditReport.MissingOI)
	require.Len(t, fs.Data, 2)
	assert.Equal(t, "BTC/USDT:USDT", fs.Data[0].Symbol)

	// 6 fine candles give 3 coarse; the formatter drops the newest
	btc := fs.Data[0].Data
	assert.Equal(t, []int64{0, h8}, recordOpens(btc))
	assert.Equal(t, 1001.0, *btc[0].OpenInterest)
	assert.Equal(t, 1003.0, *btc[1].OpenInterest)
	for _, rec := range btc {
		assert.Equal(t, rec.OpenTime+h8-1, rec.CloseTime)
	}
	assert.Len(t, fs.Data[1].Data, 3)
}

func TestGenerateAndSave8hStoreError(t *testing.T) {
	store := &memoryStore{err: errors.New("redis down")}
	gen, err := NewEightHourGenerator("4h", "8h", NewFormatter(0), store, quietLogger())
	require.NoError(t, err)

	_, err = gen.GenerateAndSave8h(context.Background(), map[string]models.RawBundle{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.err)
	assert.Contains(t, err.Error(), "8h")
}

func TestNewEightHourGeneratorRejectsBadPair(t *testing.T) {
	_, err := NewEightHourGenerator("4h", "1d", NewFormatter(0), &memoryStore{}, quietLogger())
	assert.Error(t, err)
}

func TestGuardInstrumentRecovers(t *testing.T) {
	series := guardInstrument(quietLogger(), "BAD", "4h", func() []models.MergedRecord {
		panic("boom")
	})
	assert.Nil(t, series)
}

func TestMergeGuarded(t *testing.T) {
	out := MergeGuarded(map[string]models.RawBundle{
		"A": fourHourBundle("A", 3),
		"B": {Symbol: "B"},
	}, "4h", quietLogger())

	require.Contains(t, out, "A")
	assert.Len(t, out["A"], 3)
	assert.NotContains(t, out, "B")
}
