package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-pulse/internal/cache"
	"market-pulse/internal/metrics"
	"market-pulse/internal/models"
	"market-pulse/internal/timeframe"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrInvalidAlert wraps every validation failure of Create.
var ErrInvalidAlert = errors.New("invalid alert")

type Store interface {
	Create(ctx context.Context, alert *models.Alert) error
	Get(ctx context.Context, id string) (*models.Alert, error)
	List(ctx context.Context, activeOnly bool) ([]models.Alert, error)
	Delete(ctx context.Context, id string) error
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

type StructureLoader interface {
	Load(ctx context.Context, tf string) (*models.FinalStructure, error)
}

// Service manages alerts and evaluates them against cached structures.
type Service struct {
	store         Store
	structures    StructureLoader
	notifier      Notifier
	defaultWindow int
	now           func() time.Time
	logger        *logrus.Logger
}

func NewService(store Store, structures StructureLoader, notifier Notifier, defaultWindow int, logger *logrus.Logger) *Service {
	if defaultWindow <= 0 {
		defaultWindow = 20
	}
	return &Service{
		store:         store,
		structures:    structures,
		notifier:      notifier,
		defaultWindow: defaultWindow,
		now:           time.Now,
		logger:        logger,
	}
}

// Create validates and stores a new active alert.
func (s *Service) Create(ctx context.Context, alert models.Alert) (*models.Alert, error) {
	alert.Symbol = strings.TrimSpace(alert.Symbol)
	if alert.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidAlert)
	}
	if _, ok := timeframe.Lookup(alert.Timeframe); !ok {
		return nil, fmt.Errorf("%w: unsupported timeframe %q", ErrInvalidAlert, alert.Timeframe)
	}
	if !alert.Condition.Valid() {
		return nil, fmt.Errorf("%w: unknown condition %q", ErrInvalidAlert, alert.Condition)
	}
	if alert.Condition.UsesVWAP() {
		if alert.VWAPWindow == 0 {
			alert.VWAPWindow = s.defaultWindow
		}
		if alert.VWAPWindow < 0 {
			return nil, fmt.Errorf("%w: vwap_window must be positive", ErrInvalidAlert)
		}
	} else if alert.Threshold <= 0 {
		return nil, fmt.Errorf("%w: threshold must be positive", ErrInvalidAlert)
	}

	alert.ID = uuid.NewString()
	alert.Active = true
	alert.CreatedAt = s.now().UTC()
	alert.TriggeredAt = nil

	if err := s.store.Create(ctx, &alert); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"alert_id":  alert.ID,
		"symbol":    alert.Symbol,
		"condition": alert.Condition,
	}).Info("Alert created")
	return &alert, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Alert, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]models.Alert, error) {
	return s.store.List(ctx, activeOnly)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Check evaluates every active alert against the latest cached structure of
// its timeframe and returns how many fired. Each timeframe is loaded once.
func (s *Service) Check(ctx context.Context) (int, error) {
	active, err := s.store.List(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("failed to list active alerts: %w", err)
	}

	structures := make(map[string]*models.FinalStructure)
	fired := 0
	for _, alert := range active {
		fs, ok := structures[alert.Timeframe]
		if !ok {
			fs, err = s.structures.Load(ctx, alert.Timeframe)
			if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
				s.logger.WithError(err).WithField("timeframe", alert.Timeframe).Warn("Failed to load structure for alerts")
			}
			structures[alert.Timeframe] = fs
		}
		if fs == nil {
			continue
		}

		series, ok := fs.Find(alert.Symbol)
		if !ok {
			continue
		}

		event, hit, err := s.Evaluate(alert, series.Data)
		if err != nil {
			s.logger.WithError(err).WithField("alert_id", alert.ID).Debug("Alert not evaluable")
			continue
		}
		if !hit {
			continue
		}

		s.fire(ctx, alert, event)
		fired++
	}
	return fired, nil
}

// Evaluate tests alert against the newest record of records.
func (s *Service) Evaluate(alert models.Alert, records []models.MergedRecord) (models.AlertEvent, bool, error) {
	if len(records) == 0 || records[len(records)-1].ClosePrice == nil {
		return models.AlertEvent{}, false, fmt.Errorf("no close price for %s", alert.Symbol)
	}
	last := *records[len(records)-1].ClosePrice

	event := models.AlertEvent{
		AlertID:   alert.ID,
		Symbol:    alert.Symbol,
		Timeframe: alert.Timeframe,
		Condition: alert.Condition,
		Price:     last,
		Reference: alert.Threshold,
		Note:      alert.Note,
		FiredAt:   s.now().UTC(),
	}

	switch alert.Condition {
	case models.ConditionPriceAbove:
		return event, last > alert.Threshold, nil
	case models.ConditionPriceBelow:
		return event, last < alert.Threshold, nil
	case models.ConditionVWAPCrossUp, models.ConditionVWAPCrossDown:
		if len(records) < 2 || records[len(records)-2].ClosePrice == nil {
			return event, false, fmt.Errorf("not enough records for a cross on %s", alert.Symbol)
		}
		window := alert.VWAPWindow
		if window <= 0 {
			window = s.defaultWindow
		}
		vwap, err := VWAP(records, window)
		if err != nil {
			return event, false, err
		}
		ref := vwap.InexactFloat64()
		event.Reference = ref
		prev := *records[len(records)-2].ClosePrice
		if alert.Condition == models.ConditionVWAPCrossUp {
			return event, prev <= ref && last > ref, nil
		}
		return event, prev >= ref && last < ref, nil
	}
	return event, false, fmt.Errorf("unknown condition %q", alert.Condition)
}

func (s *Service) fire(ctx context.Context, alert models.Alert, event models.AlertEvent) {
	entry := s.logger.WithFields(logrus.Fields{
		"alert_id":  alert.ID,
		"symbol":    alert.Symbol,
		"condition": alert.Condition,
		"price":     event.Price,
		"reference": event.Reference,
	})
	entry.Info("Alert triggered")
	metrics.AlertsTriggered.WithLabelValues(string(alert.Condition)).Inc()

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, event); err != nil {
			entry.WithError(err).Warn("Failed to deliver alert notification")
		}
	}
	if err := s.store.MarkTriggered(ctx, alert.ID, event.FiredAt); err != nil {
		entry.WithError(err).Error("Failed to mark alert triggered")
	}
}

// Run checks alerts on every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Check(ctx); err != nil {
				s.logger.WithError(err).Error("Alert check failed")
			} else if n > 0 {
				s.logger.WithField("fired", n).Info("Alert check completed")
			}
		}
	}
}
