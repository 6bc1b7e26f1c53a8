package fetcher

import (
	"context"
	"fmt"
	"sort"

	"market-pulse/internal/models"
	"market-pulse/internal/services/aggregator"
)

type (
	KlinesFunc       func(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.Candle, error)
	OpenInterestFunc func(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.OpenInterestPoint, error)
	FundingRateFunc  func(ctx context.Context, inst models.Instrument, tf string, limit int) ([]models.FundingRatePoint, error)
)

// Registry is the dispatch table from (exchange, kind) to the function that
// fetches that series. It is built once at startup and read-only afterwards.
type Registry struct {
	klines map[string]KlinesFunc
	oi     map[string]OpenInterestFunc
	fr     map[string]FundingRateFunc
}

// NewRegistry registers every kind of each source under its name.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{
		klines: make(map[string]KlinesFunc),
		oi:     make(map[string]OpenInterestFunc),
		fr:     make(map[string]FundingRateFunc),
	}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the routes of one source
func (r *Registry) Register(s Source) {
	name := s.Name()
	r.klines[name] = s.Klines
	r.oi[name] = s.OpenInterest
	r.fr[name] = s.FundingRate
}

// Has reports whether exchange serves kind
func (r *Registry) Has(exchange string, kind aggregator.Kind) bool {
	switch kind {
	case aggregator.KindKlines:
		_, ok := r.klines[exchange]
		return ok
	case aggregator.KindOI:
		_, ok := r.oi[exchange]
		return ok
	case aggregator.KindFR:
		_, ok := r.fr[exchange]
		return ok
	}
	return false
}

func (r *Registry) Klines(exchange string) (KlinesFunc, bool) {
	f, ok := r.klines[exchange]
	return f, ok
}

func (r *Registry) OpenInterest(exchange string) (OpenInterestFunc, bool) {
	f, ok := r.oi[exchange]
	return f, ok
}

func (r *Registry) FundingRate(exchange string) (FundingRateFunc, bool) {
	f, ok := r.fr[exchange]
	return f, ok
}

// Exchanges lists registered exchange names, sorted
func (r *Registry) Exchanges() []string {
	names := make([]string, 0, len(r.klines))
	for name := range r.klines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate fails when an instrument references no registered exchange at all.
func (r *Registry) Validate(catalog []models.Instrument) error {
	for _, inst := range catalog {
		served := false
		for _, ex := range inst.Exchanges {
			if r.Has(ex, aggregator.KindKlines) {
				served = true
				break
			}
		}
		if !served {
			return fmt.Errorf("instrument %s: none of %v is a registered exchange (have %v)",
				inst.Symbol, inst.Exchanges, r.Exchanges())
		}
	}
	return nil
}
