package fetcher

import (
	"context"
	"errors"
	"sync"

	"market-pulse/internal/models"
	"market-pulse/internal/services/aggregator"

	"github.com/sirupsen/logrus"
)

// Fetcher collects RawBundles for a catalog through the registry.
type Fetcher struct {
	registry    *Registry
	limit       int
	limits      map[string]int
	concurrency int
	logger      *logrus.Logger
}

func NewFetcher(registry *Registry, limit, concurrency int, logger *logrus.Logger) *Fetcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Fetcher{
		registry:    registry,
		limit:       limit,
		concurrency: concurrency,
		logger:      logger,
	}
}

// SetLimit overrides the fetch depth for one timeframe. It must be called
// before the first fetch.
func (f *Fetcher) SetLimit(tf string, limit int) {
	if f.limits == nil {
		f.limits = make(map[string]int)
	}
	f.limits[tf] = limit
}

func (f *Fetcher) limitFor(tf string) int {
	if n, ok := f.limits[tf]; ok && n > 0 {
		return n
	}
	return f.limit
}

type fetchResult struct {
	symbol string
	bundle models.RawBundle
}

// FetchAll fetches every instrument with bounded concurrency. Failed
// instruments yield empty bundles so they surface in the audit report.
// onDone, when non-nil, is called once per finished instrument.
func (f *Fetcher) FetchAll(ctx context.Context, catalog []models.Instrument, tf string, onDone func(symbol string)) map[string]models.RawBundle {
	taskChan := make(chan models.Instrument, len(catalog))
	resultChan := make(chan fetchResult, len(catalog))

	var wg sync.WaitGroup
	for i := 0; i < f.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inst := range taskChan {
				resultChan <- fetchResult{symbol: inst.Symbol, bundle: f.FetchInstrument(ctx, inst, tf)}
			}
		}()
	}

	for _, inst := range catalog {
		taskChan <- inst
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	bundles := make(map[string]models.RawBundle, len(catalog))
	for res := range resultChan {
		bundles[res.symbol] = res.bundle
		if onDone != nil {
			onDone(res.symbol)
		}
	}
	return bundles
}

// FetchInstrument fetches the three series of one instrument, trying its
// exchanges in catalog order per kind until one returns data.
func (f *Fetcher) FetchInstrument(ctx context.Context, inst models.Instrument, tf string) models.RawBundle {
	bundle := models.RawBundle{Symbol: inst.Symbol}
	limit := f.limitFor(tf)

	for _, ex := range inst.Exchanges {
		fetch, ok := f.registry.Klines(ex)
		if !ok {
			continue
		}
		klines, err := fetch(ctx, inst, tf, limit)
		if f.accept(inst, ex, aggregator.KindKlines, len(klines), err) {
			bundle.Klines = klines
			break
		}
	}
	if bundle.Empty() {
		// no candles means nothing downstream can use OI or FR
		return bundle
	}

	for _, ex := range inst.Exchanges {
		fetch, ok := f.registry.OpenInterest(ex)
		if !ok {
			continue
		}
		points, err := fetch(ctx, inst, tf, limit)
		if f.accept(inst, ex, aggregator.KindOI, len(points), err) {
			bundle.OI = points
			break
		}
	}

	for _, ex := range inst.Exchanges {
		fetch, ok := f.registry.FundingRate(ex)
		if !ok {
			continue
		}
		points, err := fetch(ctx, inst, tf, limit)
		if f.accept(inst, ex, aggregator.KindFR, len(points), err) {
			bundle.FR = points
			break
		}
	}

	return bundle
}

func (f *Fetcher) accept(inst models.Instrument, exchange string, kind aggregator.Kind, n int, err error) bool {
	if err == nil {
		return n > 0
	}
	entry := f.logger.WithFields(logrus.Fields{
		"symbol":   inst.Symbol,
		"exchange": exchange,
		"kind":     string(kind),
	})
	if errors.Is(err, ErrUnsupported) {
		entry.Debug("Exchange does not serve series, trying next")
	} else {
		entry.WithError(err).Warn("Failed to fetch series, trying next exchange")
	}
	return false
}
