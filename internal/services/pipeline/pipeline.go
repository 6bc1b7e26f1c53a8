package pipeline

import (
	"context"
	"fmt"
	"time"

	"market-pulse/internal/metrics"
	"market-pulse/internal/models"
	"market-pulse/internal/services/aggregator"
	"market-pulse/internal/services/indicators"
	"market-pulse/internal/timeframe"

	"github.com/sirupsen/logrus"
)

// BundleFetcher collects raw bundles for every catalog instrument.
type BundleFetcher interface {
	FetchAll(ctx context.Context, catalog []models.Instrument, tf string, onDone func(symbol string)) map[string]models.RawBundle
}

type StructureStore interface {
	Save(ctx context.Context, fs models.FinalStructure) error
}

type SnapshotStore interface {
	SaveStructure(ctx context.Context, fs models.FinalStructure) error
}

type Archiver interface {
	Archive(ctx context.Context, fs models.FinalStructure) (string, error)
}

type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, event models.UpdateEvent) error
}

// Sinks receive every formatted structure. Cache is required; the others are
// best-effort and may be nil.
type Sinks struct {
	Cache     StructureStore
	Snapshots SnapshotStore
	Archive   Archiver
	Publisher UpdatePublisher
}

// Result describes one pipeline cycle.
type Result struct {
	Timeframe string
	Structure models.FinalStructure
	Derived   *models.FinalStructure // coarse structure built from fine bundles, if any
	Duration  time.Duration
}

// Pipeline runs one fetch → merge → format → deliver cycle per timeframe.
type Pipeline struct {
	fetcher   BundleFetcher
	catalog   []models.Instrument
	formatter *aggregator.Formatter
	enricher  *indicators.Enricher
	sinks     Sinks
	fine      string
	derived   *aggregator.EightHourGenerator
	logger    *logrus.Logger
}

// New wires a pipeline. When fine and coarse are both set, every run of the
// fine timeframe also produces the coarse structure from the same bundles.
// enricher may be nil to disable indicators.
func New(
	fetcher BundleFetcher,
	catalog []models.Instrument,
	formatter *aggregator.Formatter,
	enricher *indicators.Enricher,
	sinks Sinks,
	fine, coarse string,
	logger *logrus.Logger,
) (*Pipeline, error) {
	if sinks.Cache == nil {
		return nil, fmt.Errorf("pipeline requires a cache sink")
	}

	p := &Pipeline{
		fetcher:   fetcher,
		catalog:   catalog,
		formatter: formatter,
		enricher:  enricher,
		sinks:     sinks,
		fine:      fine,
		logger:    logger,
	}

	if fine != "" && coarse != "" {
		gen, err := aggregator.NewEightHourGenerator(fine, coarse, formatter, deliverer{p}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s generator: %w", coarse, err)
		}
		p.derived = gen
	}
	return p, nil
}

// Run executes one cycle for tf.
func (p *Pipeline) Run(ctx context.Context, tf string) (*Result, error) {
	return p.RunWithProgress(ctx, tf, nil)
}

// RunWithProgress is Run with onDone called once per fetched instrument.
func (p *Pipeline) RunWithProgress(ctx context.Context, tf string, onDone func(symbol string)) (*Result, error) {
	if _, ok := timeframe.Lookup(tf); !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}

	start := time.Now()
	status := "error"
	defer func() {
		metrics.PipelineRuns.WithLabelValues(tf, status).Inc()
		metrics.TrackLatency(start, metrics.PipelineDuration.WithLabelValues(tf))
	}()

	bundles := p.fetcher.FetchAll(ctx, p.catalog, tf, onDone)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch for %s interrupted: %w", tf, err)
	}

	merged := aggregator.MergeGuarded(bundles, tf, p.logger)
	fs, err := p.deliver(ctx, p.formatter.Format(merged, p.catalog, tf))
	if err != nil {
		return nil, err
	}
	result := &Result{Timeframe: tf, Structure: fs}

	if p.derived != nil && tf == p.fine {
		derived, err := p.derived.GenerateAndSave8h(ctx, bundles, p.catalog)
		if err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		result.Derived = &derived
	}

	status = "ok"
	result.Duration = time.Since(start)

	p.logger.WithFields(logrus.Fields{
		"timeframe":   tf,
		"instruments": len(fs.Data),
		"records":     fs.RecordCount(),
		"derived":     result.Derived != nil,
		"duration":    result.Duration.String(),
	}).Info("Pipeline cycle completed")

	return result, nil
}

// deliver enriches fs and hands it to every sink. Only a cache failure is
// returned; the other sinks are logged and skipped.
func (p *Pipeline) deliver(ctx context.Context, fs models.FinalStructure) (models.FinalStructure, error) {
	if p.enricher != nil {
		p.enricher.Enrich(&fs)
	}

	metrics.RecordAudit(fs.Timeframe, len(fs.Data),
		len(fs.AuditReport.MissingKlines), len(fs.AuditReport.MissingOI), len(fs.AuditReport.MissingFR))
	if n := len(fs.AuditReport.MissingKlines); n > 0 {
		p.logger.WithFields(logrus.Fields{
			"timeframe": fs.Timeframe,
			"symbols":   fs.AuditReport.MissingKlines,
		}).Warnf("%d instruments without klines", n)
	}

	if err := p.sinks.Cache.Save(ctx, fs); err != nil {
		return fs, fmt.Errorf("failed to cache %s structure: %w", fs.Timeframe, err)
	}

	if p.sinks.Snapshots != nil {
		if err := p.sinks.Snapshots.SaveStructure(ctx, fs); err != nil {
			p.logger.WithError(err).WithField("timeframe", fs.Timeframe).Warn("Failed to store snapshot rows")
		}
	}

	if p.sinks.Archive != nil {
		if key, err := p.sinks.Archive.Archive(ctx, fs); err != nil {
			p.logger.WithError(err).WithField("timeframe", fs.Timeframe).Warn("Failed to archive structure")
		} else {
			p.logger.WithField("key", key).Debug("Archived structure")
		}
	}

	if p.sinks.Publisher != nil {
		event := models.UpdateEvent{
			Timeframe:   fs.Timeframe,
			Instruments: len(fs.Data),
			Records:     fs.RecordCount(),
			OpenTime:    fs.OpenTime,
			CloseTime:   fs.CloseTime,
			UpdatedAt:   time.Now().UTC(),
		}
		if err := p.sinks.Publisher.PublishUpdate(ctx, event); err != nil {
			p.logger.WithError(err).WithField("timeframe", fs.Timeframe).Warn("Failed to publish update")
		}
	}

	return fs, nil
}

// deliverer lets the coarse generator save through the pipeline sinks.
type deliverer struct {
	p *Pipeline
}

func (d deliverer) Save(ctx context.Context, fs models.FinalStructure) error {
	_, err := d.p.deliver(ctx, fs)
	return err
}
