package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"market-pulse/internal/metrics"
	"market-pulse/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sirupsen/logrus"
)

// ErrAlertNotFound is returned when no alert matches the given id.
var ErrAlertNotFound = errors.New("alert not found")

const alertColumns = `id, symbol, timeframe, condition, threshold, vwap_window, note, active, created_at, triggered_at`

type AlertRepository struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  *logrus.Logger
}

func NewAlertRepository(db *sqlx.DB, timeout time.Duration, logger *logrus.Logger) *AlertRepository {
	return &AlertRepository{
		db:      db,
		timeout: timeout,
		logger:  logger,
	}
}

// OpenPostgres connects to Postgres and verifies the connection
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate creates the alerts table
func (r *AlertRepository) Migrate(ctx context.Context) error {
	for _, stmt := range alertSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply alert schema: %w", err)
		}
	}
	return nil
}

// Create inserts a new alert
func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	metrics.DatabaseQueries.WithLabelValues("postgres", "insert").Inc()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		alert.ID, alert.Symbol, alert.Timeframe, alert.Condition, alert.Threshold,
		alert.VWAPWindow, alert.Note, alert.Active, alert.CreatedAt, alert.TriggeredAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Get retrieves one alert by id
func (r *AlertRepository) Get(ctx context.Context, id string) (*models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	metrics.DatabaseQueries.WithLabelValues("postgres", "select").Inc()

	var alert models.Alert
	err := r.db.GetContext(ctx, &alert, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &alert, nil
}

// List returns alerts newest first; activeOnly filters out triggered ones
func (r *AlertRepository) List(ctx context.Context, activeOnly bool) ([]models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	metrics.DatabaseQueries.WithLabelValues("postgres", "select").Inc()

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	alerts := []models.Alert{}
	if err := r.db.SelectContext(ctx, &alerts, query); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// Delete removes an alert
func (r *AlertRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	metrics.DatabaseQueries.WithLabelValues("postgres", "delete").Inc()

	res, err := r.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// MarkTriggered deactivates an alert and stamps when it fired
func (r *AlertRepository) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	metrics.DatabaseQueries.WithLabelValues("postgres", "update").Inc()

	res, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET active = FALSE, triggered_at = $2 WHERE id = $1 AND active = TRUE`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark alert triggered: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlertNotFound
	}
	return nil
}
