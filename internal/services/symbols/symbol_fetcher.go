package symbols

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"market-pulse/internal/models"

	"github.com/sirupsen/logrus"
)

// Lister returns the symbols an exchange currently trades.
type Lister interface {
	Name() string
	Symbols(ctx context.Context) ([]string, error)
}

// Mismatch is a catalog entry an exchange does not list.
type Mismatch struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Reason   string `json:"reason"`
}

type listing struct {
	symbols   map[string]bool
	fetchedAt time.Time
}

// SymbolFetcher caches exchange listings and checks the instrument catalog
// against them.
type SymbolFetcher struct {
	listers  map[string]Lister
	cacheTTL time.Duration
	listings map[string]listing
	mu       sync.RWMutex
	now      func() time.Time
	logger   *logrus.Logger
}

// NewSymbolFetcher creates a fetcher that refreshes each listing after cacheTTL
func NewSymbolFetcher(cacheTTL time.Duration, logger *logrus.Logger, listers ...Lister) *SymbolFetcher {
	f := &SymbolFetcher{
		listers:  make(map[string]Lister, len(listers)),
		cacheTTL: cacheTTL,
		listings: make(map[string]listing),
		now:      time.Now,
		logger:   logger,
	}
	for _, l := range listers {
		f.listers[l.Name()] = l
	}
	return f
}

// GetSymbols returns the cached listing of exchange or fetches it if stale.
func (f *SymbolFetcher) GetSymbols(ctx context.Context, exchange string) (map[string]bool, error) {
	f.mu.RLock()
	cached, ok := f.listings[exchange]
	f.mu.RUnlock()
	if ok && f.now().Sub(cached.fetchedAt) < f.cacheTTL {
		return cached.symbols, nil
	}
	return f.FetchSymbols(ctx, exchange)
}

// FetchSymbols refreshes the listing of exchange. A failed refresh falls back
// to the previous listing when there is one.
func (f *SymbolFetcher) FetchSymbols(ctx context.Context, exchange string) (map[string]bool, error) {
	lister, ok := f.listers[exchange]
	if !ok {
		return nil, fmt.Errorf("no listing source for %s", exchange)
	}

	list, err := lister.Symbols(ctx)
	if err != nil || len(list) == 0 {
		if err == nil {
			err = fmt.Errorf("empty listing")
		}
		f.mu.RLock()
		cached, ok := f.listings[exchange]
		f.mu.RUnlock()
		if ok {
			f.logger.WithError(err).WithField("exchange", exchange).Warn("Failed to refresh listing, using cached")
			return cached.symbols, nil
		}
		return nil, fmt.Errorf("failed to fetch %s listing: %w", exchange, err)
	}

	symbols := make(map[string]bool, len(list))
	for _, s := range list {
		symbols[s] = true
	}

	f.mu.Lock()
	f.listings[exchange] = listing{symbols: symbols, fetchedAt: f.now()}
	f.mu.Unlock()

	f.logger.WithField("exchange", exchange).Infof("Fetched %d listed symbols", len(symbols))
	return symbols, nil
}

// Check reports every instrument/exchange pair of catalog that the exchange
// does not list. Exchanges whose listing cannot be fetched are reported once
// per instrument with the fetch error as reason.
func (f *SymbolFetcher) Check(ctx context.Context, catalog []models.Instrument) []Mismatch {
	var out []Mismatch
	for _, inst := range catalog {
		for _, ex := range inst.Exchanges {
			listed, err := f.GetSymbols(ctx, ex)
			if err != nil {
				out = append(out, Mismatch{Symbol: inst.Symbol, Exchange: ex, Reason: err.Error()})
				continue
			}
			if !listed[inst.ExchangeSymbol()] {
				out = append(out, Mismatch{Symbol: inst.Symbol, Exchange: ex, Reason: "not listed"})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Exchange < out[j].Exchange
	})
	return out
}
