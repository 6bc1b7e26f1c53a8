package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinanceCandleVolumeDelta(t *testing.T) {
	c := binanceCandle(&futures.Kline{
		OpenTime:                base,
		CloseTime:               base + h4 - 1,
		Open:                    "100.5",
		High:                    "102",
		Low:                     "99",
		Close:                   "101",
		Volume:                  "10",
		TakerBuyBaseAssetVolume: "7.5",
	})

	require.True(t, c.HasPrices())
	assert.Equal(t, 100.5, *c.OpenPrice)
	require.NotNil(t, c.VolumeDelta)
	assert.Equal(t, 5.0, *c.VolumeDelta)
}

func TestBinanceCandleWithoutTakerVolume(t *testing.T) {
	c := binanceCandle(&futures.Kline{OpenTime: base, Open: "1", High: "1", Low: "1", Close: "1", Volume: "3"})
	assert.Nil(t, c.VolumeDelta)
	assert.Equal(t, 3.0, *c.Volume)
}

func TestOpenInterestPeriods(t *testing.T) {
	binance := map[string]string{"1m": "5m", "5m": "5m", "1h": "1h", "4h": "4h", "8h": "6h", "12h": "12h", "1d": "1d"}
	for tf, want := range binance {
		assert.Equal(t, want, binanceOIPeriod(tf), "binance %s", tf)
	}

	bybit := map[string]string{"1m": "5min", "15m": "15min", "1h": "1h", "8h": "4h", "12h": "4h", "1d": "1d"}
	for tf, want := range bybit {
		_, param := bybitOIInterval(tf)
		assert.Equal(t, want, param, "bybit %s", tf)
	}
}

func TestClassifyBinanceError(t *testing.T) {
	err := classifyBinanceError(&common.APIError{Code: -1003, Message: "too many requests"})
	assert.True(t, errors.Is(err, ErrRateLimited))

	other := errors.New("boom")
	assert.Equal(t, other, classifyBinanceError(other))
}

func TestParseOptional(t *testing.T) {
	assert.Equal(t, 1.5, *parseOptional("1.5"))
	assert.Nil(t, parseOptional(""))
	assert.Nil(t, parseOptional("abc"))
	assert.Nil(t, parseOptional("NaN"))
	assert.Nil(t, parseOptional("+Inf"))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 500, clampLimit(0, 500))
	assert.Equal(t, 500, clampLimit(900, 500))
	assert.Equal(t, 20, clampLimit(20, 500))
}

func newBybitServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *BybitSource {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)

	src := NewBybitSource(srv.URL+"/", srv.Client())
	src.now = func() time.Time { return time.UnixMilli(base + 2*h4) }
	return src
}

func TestBybitKlines(t *testing.T) {
	src := newBybitServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/kline", r.URL.Path)
		assert.Equal(t, "linear", r.URL.Query().Get("category"))
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "240", r.URL.Query().Get("interval"))
		fmt.Fprintf(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			["%d","101","103","100","102","12","1000"],
			["%d","100","102","99","101","10","1000"],
			["0","1","1","1","1","1","1"]
		]}}`, base+h4, base)
	})

	candles, err := src.Klines(context.Background(), btc, "4h", 200)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, base+h4, candles[0].OpenTime)
	assert.Equal(t, base+2*h4-1, candles[0].CloseTime)
	assert.Equal(t, 102.0, *candles[0].ClosePrice)
	assert.Equal(t, 12.0, *candles[0].Volume)
	assert.Nil(t, candles[0].VolumeDelta)
}

func TestBybitKlinesUnsupportedTimeframe(t *testing.T) {
	src := newBybitServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := src.Klines(context.Background(), btc, "8h", 10)
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestBybitOpenInterest(t *testing.T) {
	src := newBybitServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/open-interest", r.URL.Path)
		assert.Equal(t, "4h", r.URL.Query().Get("intervalTime"))
		fmt.Fprintf(w, `{"retCode":0,"result":{"list":[{"openInterest":"1234.5","timestamp":"%d"}]}}`, base+h4)
	})

	points, err := src.OpenInterest(context.Background(), btc, "4h", 10)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, base+h4, points[0].OpenTime)
	assert.Equal(t, 1234.5, *points[0].OpenInterest)
}

func TestBybitFundingRateIsAligned(t *testing.T) {
	src := newBybitServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/funding/history", r.URL.Path)
		fmt.Fprintf(w, `{"retCode":0,"result":{"list":[{"fundingRate":"0.0001","fundingRateTimestamp":"%d"}]}}`, base)
	})

	points, err := src.FundingRate(context.Background(), btc, "4h", 10)
	require.NoError(t, err)
	require.Len(t, points, 3)
	for _, p := range points {
		assert.Equal(t, 0.0001, *p.FundingRate)
	}
	assert.Equal(t, base+2*h4, points[2].OpenTime)
}

func TestBybitRateLimit(t *testing.T) {
	src := newBybitServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"retCode":10006,"retMsg":"Too many visits!","result":{}}`)
	})

	_, err := src.Klines(context.Background(), btc, "1h", 10)
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestBybitHTTPStatus(t *testing.T) {
	src := newBybitServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := src.OpenInterest(context.Background(), btc, "1h", 10)
	assert.True(t, errors.Is(err, ErrRateLimited))

	src = newBybitServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err = src.OpenInterest(context.Background(), btc, "1h", 10)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRateLimited))
}

func TestBybitErrorEnvelope(t *testing.T) {
	src := newBybitServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"retCode":10001,"retMsg":"params error","result":{}}`)
	})

	_, err := src.FundingRate(context.Background(), btc, "4h", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "params error")
}

func TestBybitSymbols(t *testing.T) {
	src := newBybitServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/instruments-info", r.URL.Path)
		assert.Equal(t, "linear", r.URL.Query().Get("category"))
		fmt.Fprint(w, `{"retCode":0,"result":{"list":[
			{"symbol":"BTCUSDT","status":"Trading"},
			{"symbol":"OLDUSDT","status":"Closed"}
		]}}`)
	})

	symbols, err := src.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, symbols)
}

func TestBinanceSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		fmt.Fprint(w, `{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING"},
			{"symbol":"OLDUSDT","status":"SETTLING"}
		]}`)
	}))
	defer srv.Close()

	src := NewBinanceSource(srv.Client())
	src.SetBaseURL(srv.URL)

	symbols, err := src.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, symbols)
}

func TestDecodeBybitResult(t *testing.T) {
	var result bybitOIResult
	err := decodeBybit(&bybit.ServerResponse{
		RetCode: 0,
		Result: map[string]interface{}{
			"list": []interface{}{
				map[string]interface{}{"openInterest": "5000", "timestamp": "1700006400000"},
			},
		},
	}, nil, &result)
	require.NoError(t, err)
	require.Len(t, result.List, 1)
	assert.Equal(t, "5000", result.List[0].OpenInterest)

	err = decodeBybit(nil, errors.New("dial tcp: refused"), &result)
	assert.EqualError(t, err, "dial tcp: refused")

	err = decodeBybit(&bybit.ServerResponse{RetCode: bybitRateLimitCode, RetMsg: "Too many visits!"}, nil, &result)
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func newBinanceServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *BinanceSource {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)

	src := NewBinanceSource(srv.Client())
	src.SetBaseURL(srv.URL)
	src.now = func() time.Time { return time.UnixMilli(base + 2*h4 + 60_000) }
	return src
}

func TestBinanceKlines(t *testing.T) {
	src := newBinanceServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "4h", r.URL.Query().Get("interval"))
		fmt.Fprintf(w, `[
			[%d,"100","102","99","101","10",%d,"1000",42,"6","600","0"],
			[%d,"101","103","100","102","12",%d,"1200",40,"4","400","0"],
			[0,"1","1","1","1","1",0,"1",1,"1","1","0"]
		]`, base, base+h4-1, base+h4, base+2*h4-1)
	})

	candles, err := src.Klines(context.Background(), btc, "4h", 200)
	require.NoError(t, err)
	require.Len(t, candles, 2, "row with zero open time is dropped")

	assert.Equal(t, base, candles[0].OpenTime)
	assert.Equal(t, base+h4-1, candles[0].CloseTime)
	assert.Equal(t, 101.0, *candles[0].ClosePrice)
	require.NotNil(t, candles[0].VolumeDelta)
	assert.InDelta(t, 2.0, *candles[0].VolumeDelta, 1e-9)
	assert.Equal(t, base+h4, candles[1].OpenTime)
}

func TestBinanceOpenInterestFloorsToPeriod(t *testing.T) {
	src := newBinanceServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/futures/data/openInterestHist", r.URL.Path)
		assert.Equal(t, "4h", r.URL.Query().Get("period"))
		fmt.Fprintf(w, `[
			{"symbol":"BTCUSDT","sumOpenInterest":"5000","sumOpenInterestValue":"1","timestamp":%d},
			{"symbol":"BTCUSDT","sumOpenInterest":"5100","sumOpenInterestValue":"1","timestamp":%d}
		]`, base+1234, base+h4+5_000)
	})

	points, err := src.OpenInterest(context.Background(), btc, "4h", 10)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, base, points[0].OpenTime)
	assert.Equal(t, base+h4-1, points[0].CloseTime)
	assert.Equal(t, 5000.0, *points[0].OpenInterest)
	assert.Equal(t, base+h4, points[1].OpenTime)
}

func TestBinanceFundingRateAligned(t *testing.T) {
	src := newBinanceServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/fundingRate", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		fmt.Fprintf(w, `[
			{"symbol":"BTCUSDT","fundingRate":"0.0001","fundingTime":%d,"markPrice":"100"},
			{"symbol":"BTCUSDT","fundingRate":"0.0002","fundingTime":%d,"markPrice":"101"}
		]`, base, base+2*h4)
	})

	points, err := src.FundingRate(context.Background(), btc, "4h", 10)
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, base, points[0].OpenTime)
	assert.Equal(t, 0.0001, *points[0].FundingRate)
	assert.Equal(t, base+h4, points[1].OpenTime)
	assert.Equal(t, 0.0001, *points[1].FundingRate, "rate carries forward until the next event")
	assert.Equal(t, base+2*h4, points[2].OpenTime)
	assert.Equal(t, 0.0002, *points[2].FundingRate)
}
