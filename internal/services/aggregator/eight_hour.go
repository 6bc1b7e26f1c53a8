package aggregator

import (
	"context"
	"fmt"
	"sort"

	"market-pulse/internal/models"

	"github.com/sirupsen/logrus"
)

// Store persists a FinalStructure under a key derived from its timeframe.
type Store interface {
	Save(ctx context.Context, fs models.FinalStructure) error
}

// EightHourGenerator synthesizes the 8h timeframe from 4h bundles.
type EightHourGenerator struct {
	driver    *Driver
	formatter *Formatter
	store     Store
	logger    *logrus.Logger
}

// NewEightHourGenerator wires a 4h→8h driver. fine/coarse are normally "4h" and "8h".
func NewEightHourGenerator(fine, coarse string, formatter *Formatter, store Store, logger *logrus.Logger) (*EightHourGenerator, error) {
	driver, err := NewDriver(fine, coarse)
	if err != nil {
		return nil, err
	}
	return &EightHourGenerator{
		driver:    driver,
		formatter: formatter,
		store:     store,
		logger:    logger,
	}, nil
}

// Timeframe returns the label of the synthesized timeframe.
func (g *EightHourGenerator) Timeframe() string {
	return g.driver.Coarse
}

// Generate aggregates each bundle to the coarse timeframe, merges and formats.
func (g *EightHourGenerator) Generate(fourHour map[string]models.RawBundle, catalog []models.Instrument) models.FinalStructure {
	symbols := make([]string, 0, len(fourHour))
	for symbol := range fourHour {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	merged := make(map[string][]models.MergedRecord, len(fourHour))
	for _, symbol := range symbols {
		bundle := fourHour[symbol]
		series := guardInstrument(g.logger, symbol, g.driver.Coarse, func() []models.MergedRecord {
			return Merge(g.driver.BuildBundle(bundle))
		})
		if len(series) > 0 {
			merged[symbol] = series
		}
	}

	return g.formatter.Format(merged, catalog, g.driver.Coarse)
}

// GenerateAndSave8h builds the 8h structure from 4h bundles and hands it to the store.
func (g *EightHourGenerator) GenerateAndSave8h(ctx context.Context, fourHour map[string]models.RawBundle, catalog []models.Instrument) (models.FinalStructure, error) {
	fs := g.Generate(fourHour, catalog)

	g.logger.WithFields(logrus.Fields{
		"timeframe":      fs.Timeframe,
		"instruments":    len(fs.Data),
		"missing_klines": len(fs.AuditReport.MissingKlines),
		"missing_oi":     len(fs.AuditReport.MissingOI),
		"missing_fr":     len(fs.AuditReport.MissingFR),
	}).Info("Generated coarse timeframe from fine bundles")

	if err := g.store.Save(ctx, fs); err != nil {
		return fs, fmt.Errorf("failed to save %s structure: %w", fs.Timeframe, err)
	}
	return fs, nil
}

// MergeGuarded merges every bundle, isolating failures per instrument so one
// malformed instrument cannot abort the batch.
func MergeGuarded(bundles map[string]models.RawBundle, tf string, logger *logrus.Logger) map[string][]models.MergedRecord {
	out := make(map[string][]models.MergedRecord, len(bundles))
	for symbol, bundle := range bundles {
		b := bundle
		if series := guardInstrument(logger, symbol, tf, func() []models.MergedRecord { return Merge(b) }); len(series) > 0 {
			out[symbol] = series
		}
	}
	return out
}

func guardInstrument(logger *logrus.Logger, symbol, tf string, fn func() []models.MergedRecord) (series []models.MergedRecord) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"symbol":    symbol,
				"timeframe": tf,
				"panic":     fmt.Sprint(r),
			}).Error("Instrument aggregation failed, treating as empty")
			series = nil
		}
	}()
	return fn()
}
