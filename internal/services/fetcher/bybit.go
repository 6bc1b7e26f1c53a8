package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"market-pulse/internal/models"
	"market-pulse/internal/timeframe"

	bybit "github.com/bybit-exchange/bybit.go.api"
)

const (
	bybitMaxKlines  = 1000
	bybitMaxOI      = 200
	bybitMaxFunding = 200

	bybitRateLimitCode = 10006
)

var bybitIntervals = map[string]string{
	"1m":  "1",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"4h":  "240",
	"12h": "720",
	"1d":  "D",
}

var bybitOIIntervals = []struct {
	label string
	param string
}{
	{"5m", "5min"},
	{"15m", "15min"},
	{"30m", "30min"},
	{"1h", "1h"},
	{"4h", "4h"},
	{"1d", "1d"},
}

type bybitKlineResult struct {
	List [][]string `json:"list"`
}

type bybitOIResult struct {
	List []struct {
		OpenInterest string `json:"openInterest"`
		Timestamp    string `json:"timestamp"`
	} `json:"list"`
}

type bybitFundingResult struct {
	List []struct {
		FundingRate          string `json:"fundingRate"`
		FundingRateTimestamp string `json:"fundingRateTimestamp"`
	} `json:"list"`
}

type bybitInstrumentsResult struct {
	List []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"list"`
}

// BybitSource reads linear perpetual data from the Bybit v5 public market API.
// Bybit does not publish taker volume on klines, so VolumeDelta stays nil.
type BybitSource struct {
	client *bybit.Client
	now    func() time.Time
}

func NewBybitSource(baseURL string, httpClient *http.Client) *BybitSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	// the SDK flattens HTTP failures into plain errors, so throttling is
	// detected at the transport
	throttled := *httpClient
	throttled.Transport = rateLimitTransport{base: httpClient.Transport}

	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(strings.TrimRight(baseURL, "/")))
	client.HTTPClient = &throttled
	return &BybitSource{client: client, now: time.Now}
}

func (s *BybitSource) Name() string {
	return "bybit"
}

func (s *BybitSource) Klines(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.Candle, error) {
	interval, ok := bybitIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("bybit klines %s: %w", tf, ErrUnsupported)
	}
	dur := timeframe.DurationMs(tf)

	var result bybitKlineResult
	resp, err := s.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": "linear",
		"symbol":   inst.ExchangeSymbol(),
		"interval": interval,
		"limit":    clampLimit(limit, bybitMaxKlines),
	}).GetMarketKline(ctx)
	if err := decodeBybit(resp, err, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch bybit klines for %s: %w", inst.Symbol, err)
	}

	candles := make([]models.Candle, 0, len(result.List))
	for _, row := range result.List {
		if len(row) < 6 {
			continue
		}
		open, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil || open <= 0 {
			continue
		}
		candles = append(candles, models.Candle{
			OpenTime:   open,
			CloseTime:  open + dur - 1,
			OpenPrice:  parseOptional(row[1]),
			HighPrice:  parseOptional(row[2]),
			LowPrice:   parseOptional(row[3]),
			ClosePrice: parseOptional(row[4]),
			Volume:     parseOptional(row[5]),
		})
	}
	return candles, nil
}

func (s *BybitSource) OpenInterest(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.OpenInterestPoint, error) {
	label, param := bybitOIInterval(tf)
	dur := timeframe.DurationMs(label)

	var result bybitOIResult
	resp, err := s.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category":     "linear",
		"symbol":       inst.ExchangeSymbol(),
		"intervalTime": param,
		"limit":        clampLimit(limit, bybitMaxOI),
	}).GetOpenInterests(ctx)
	if err := decodeBybit(resp, err, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch bybit open interest for %s: %w", inst.Symbol, err)
	}

	points := make([]models.OpenInterestPoint, 0, len(result.List))
	for _, item := range result.List {
		ts, err := strconv.ParseInt(item.Timestamp, 10, 64)
		if err != nil || ts <= 0 {
			continue
		}
		open := timeframe.Floor(ts, dur)
		points = append(points, models.OpenInterestPoint{
			OpenTime:     open,
			CloseTime:    open + dur - 1,
			OpenInterest: parseOptional(item.OpenInterest),
		})
	}
	return points, nil
}

func (s *BybitSource) FundingRate(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.FundingRatePoint, error) {
	var result bybitFundingResult
	resp, err := s.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": "linear",
		"symbol":   inst.ExchangeSymbol(),
		"limit":    clampLimit(fundingEventsFor(tf, limit), bybitMaxFunding),
	}).GetFundingRateHistory(ctx)
	if err := decodeBybit(resp, err, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch bybit funding rate for %s: %w", inst.Symbol, err)
	}

	events := make([]fundingEvent, 0, len(result.List))
	for _, item := range result.List {
		ts, err := strconv.ParseInt(item.FundingRateTimestamp, 10, 64)
		if err != nil || ts <= 0 {
			continue
		}
		rate, err := strconv.ParseFloat(item.FundingRate, 64)
		if err != nil {
			continue
		}
		events = append(events, fundingEvent{Time: ts, Rate: rate})
	}
	return alignFunding(events, tf, s.now().UnixMilli(), limit), nil
}

// Symbols lists the linear contracts currently trading.
func (s *BybitSource) Symbols(ctx context.Context) ([]string, error) {
	var result bybitInstrumentsResult
	resp, err := s.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": "linear",
		"limit":    1000,
	}).GetInstrumentInfo(ctx)
	if err := decodeBybit(resp, err, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch bybit instruments: %w", err)
	}

	symbols := make([]string, 0, len(result.List))
	for _, item := range result.List {
		if item.Status == "Trading" {
			symbols = append(symbols, item.Symbol)
		}
	}
	return symbols, nil
}

// decodeBybit checks the v5 envelope and re-decodes its untyped result into out.
func decodeBybit(resp *bybit.ServerResponse, err error, out interface{}) error {
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("empty response")
	}
	if resp.RetCode == bybitRateLimitCode {
		return fmt.Errorf("%w: %s", ErrRateLimited, resp.RetMsg)
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("bybit error %d: %s", resp.RetCode, resp.RetMsg)
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// rateLimitTransport turns throttling and server statuses into errors before
// the SDK decodes the body.
type rateLimitTransport struct {
	base http.RoundTripper
}

func (t rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: http %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

// bybitOIInterval picks the closest published interval not coarser than tf.
func bybitOIInterval(tf string) (string, string) {
	want := timeframe.DurationMs(tf)
	best := bybitOIIntervals[0]
	for _, iv := range bybitOIIntervals {
		if timeframe.DurationMs(iv.label) <= want {
			best = iv
		}
	}
	return best.label, best.param
}
