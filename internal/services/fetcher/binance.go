package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"market-pulse/internal/models"
	"market-pulse/internal/timeframe"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const (
	binanceMaxKlines  = 1500
	binanceMaxOI      = 500
	binanceMaxFunding = 1000
)

// Open interest history is only published for these periods.
var binanceOIPeriods = []string{"5m", "15m", "30m", "1h", "2h", "4h", "6h", "12h", "1d"}

var binanceOIPeriodMs = map[string]int64{
	"2h": 2 * timeframe.HourMs,
	"6h": 6 * timeframe.HourMs,
}

// BinanceSource reads USDT-margined futures data through go-binance.
type BinanceSource struct {
	client *futures.Client
	now    func() time.Time
}

func NewBinanceSource(httpClient *http.Client) *BinanceSource {
	client := futures.NewClient("", "")
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	return &BinanceSource{client: client, now: time.Now}
}

func (s *BinanceSource) Name() string {
	return "binance"
}

// SetBaseURL points the client at another endpoint, e.g. a test server.
func (s *BinanceSource) SetBaseURL(url string) {
	s.client.BaseURL = url
}

func (s *BinanceSource) Klines(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.Candle, error) {
	if _, ok := timeframe.Lookup(tf); !ok {
		return nil, fmt.Errorf("binance klines %s: %w", tf, ErrUnsupported)
	}

	klines, err := s.client.NewKlinesService().
		Symbol(inst.ExchangeSymbol()).
		Interval(tf).
		Limit(clampLimit(limit, binanceMaxKlines)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch binance klines for %s: %w", inst.Symbol, classifyBinanceError(err))
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		if k == nil || k.OpenTime <= 0 {
			continue
		}
		candles = append(candles, binanceCandle(k))
	}
	return candles, nil
}

func (s *BinanceSource) OpenInterest(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.OpenInterestPoint, error) {
	period := binanceOIPeriod(tf)
	periodMs := binanceOIPeriodMs[period]
	if periodMs == 0 {
		periodMs = timeframe.DurationMs(period)
	}

	stats, err := s.client.NewOpenInterestStatisticsService().
		Symbol(inst.ExchangeSymbol()).
		Period(period).
		Limit(clampLimit(limit, binanceMaxOI)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch binance open interest for %s: %w", inst.Symbol, classifyBinanceError(err))
	}

	points := make([]models.OpenInterestPoint, 0, len(stats))
	for _, st := range stats {
		if st == nil || st.Timestamp <= 0 {
			continue
		}
		open := timeframe.Floor(st.Timestamp, periodMs)
		points = append(points, models.OpenInterestPoint{
			OpenTime:     open,
			CloseTime:    open + periodMs - 1,
			OpenInterest: parseOptional(st.SumOpenInterest),
		})
	}
	return points, nil
}

func (s *BinanceSource) FundingRate(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.FundingRatePoint, error) {
	rates, err := s.client.NewFundingRateService().
		Symbol(inst.ExchangeSymbol()).
		Limit(clampLimit(fundingEventsFor(tf, limit), binanceMaxFunding)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch binance funding rate for %s: %w", inst.Symbol, classifyBinanceError(err))
	}

	events := make([]fundingEvent, 0, len(rates))
	for _, r := range rates {
		if r == nil || r.FundingTime <= 0 {
			continue
		}
		rate, err := strconv.ParseFloat(r.FundingRate, 64)
		if err != nil {
			continue
		}
		events = append(events, fundingEvent{Time: r.FundingTime, Rate: rate})
	}
	return alignFunding(events, tf, s.now().UnixMilli(), limit), nil
}

func binanceCandle(k *futures.Kline) models.Candle {
	c := models.Candle{
		OpenTime:   k.OpenTime,
		CloseTime:  k.CloseTime,
		OpenPrice:  parseOptional(k.Open),
		HighPrice:  parseOptional(k.High),
		LowPrice:   parseOptional(k.Low),
		ClosePrice: parseOptional(k.Close),
		Volume:     parseOptional(k.Volume),
	}

	// taker buys minus taker sells: 2*buy - total
	volume, errV := decimal.NewFromString(k.Volume)
	takerBuy, errT := decimal.NewFromString(k.TakerBuyBaseAssetVolume)
	if errV == nil && errT == nil {
		c.VolumeDelta = models.Float(takerBuy.Mul(decimal.NewFromInt(2)).Sub(volume).InexactFloat64())
	}
	return c
}

// binanceOIPeriod maps tf to the closest published period not coarser than
// tf, or the finest period when tf is finer than all of them.
func binanceOIPeriod(tf string) string {
	want := timeframe.DurationMs(tf)
	best := binanceOIPeriods[0]
	for _, p := range binanceOIPeriods {
		ms := binanceOIPeriodMs[p]
		if ms == 0 {
			ms = timeframe.DurationMs(p)
		}
		if ms <= want {
			best = p
		}
	}
	return best
}

func classifyBinanceError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && (apiErr.Code == -1003 || apiErr.Code == -1015) {
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	}
	return err
}

// fundingEventsFor estimates how many 8h settlements cover limit buckets of tf.
func fundingEventsFor(tf string, limit int) int {
	span := timeframe.DurationMs(tf) * int64(limit)
	return int(span/timeframe.EightHourMs) + 2
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

func parseOptional(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !models.Finite(v) {
		return nil
	}
	return &v
}

// Symbols lists the futures contracts currently trading.
func (s *BinanceSource) Symbols(ctx context.Context) ([]string, error) {
	info, err := s.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch binance exchange info: %w", classifyBinanceError(err))
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, sym := range info.Symbols {
		if sym.Status == "TRADING" {
			symbols = append(symbols, sym.Symbol)
		}
	}
	return symbols, nil
}
