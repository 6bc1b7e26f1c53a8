package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"market-pulse/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newAlertRepo(t *testing.T) (*AlertRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAlertRepository(sqlx.NewDb(db, "sqlmock"), time.Second, quietLogger()), mock
}

var alertRowColumns = []string{
	"id", "symbol", "timeframe", "condition", "threshold", "vwap_window", "note", "active", "created_at", "triggered_at",
}

func TestAlertRepositoryCreate(t *testing.T) {
	repo, mock := newAlertRepo(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	alert := &models.Alert{
		ID: "a1", Symbol: "BTC/USDT:USDT", Timeframe: "4h",
		Condition: models.ConditionPriceAbove, Threshold: 70000, Active: true, CreatedAt: created,
	}

	mock.ExpectExec("INSERT INTO alerts").
		WithArgs("a1", "BTC/USDT:USDT", "4h", "price_above", 70000.0, 0, "", true, created, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), alert))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepositoryGet(t *testing.T) {
	repo, mock := newAlertRepo(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .* FROM alerts WHERE id = \\$1").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(alertRowColumns).
			AddRow("a1", "ETH/USDT:USDT", "1h", "vwap_cross_up", 0.0, 20, "breakout", true, created, nil))

	alert, err := repo.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, models.ConditionVWAPCrossUp, alert.Condition)
	assert.Equal(t, 20, alert.VWAPWindow)
	assert.Equal(t, "breakout", alert.Note)
	assert.Nil(t, alert.TriggeredAt)

	mock.ExpectQuery("SELECT .* FROM alerts WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(alertRowColumns))
	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAlertNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepositoryListActive(t *testing.T) {
	repo, mock := newAlertRepo(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM alerts WHERE active = TRUE ORDER BY created_at DESC").
		WillReturnRows(sqlmock.NewRows(alertRowColumns).
			AddRow("a2", "BTC/USDT:USDT", "4h", "price_below", 60000.0, 0, "", true, created, nil).
			AddRow("a1", "BTC/USDT:USDT", "4h", "price_above", 70000.0, 0, "", true, created, nil))

	alerts, err := repo.List(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "a2", alerts[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepositoryListEmpty(t *testing.T) {
	repo, mock := newAlertRepo(t)

	mock.ExpectQuery("FROM alerts ORDER BY created_at DESC").
		WillReturnRows(sqlmock.NewRows(alertRowColumns))

	alerts, err := repo.List(context.Background(), false)
	require.NoError(t, err)
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepositoryDelete(t *testing.T) {
	repo, mock := newAlertRepo(t)

	mock.ExpectExec("DELETE FROM alerts").WithArgs("a1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "a1"))

	mock.ExpectExec("DELETE FROM alerts").WithArgs("a1").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), "a1"), ErrAlertNotFound)

	mock.ExpectExec("DELETE FROM alerts").WithArgs("a2").WillReturnError(errors.New("conn reset"))
	err := repo.Delete(context.Background(), "a2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlertNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepositoryMarkTriggered(t *testing.T) {
	repo, mock := newAlertRepo(t)
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE alerts SET active = FALSE").WithArgs("a1", at).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkTriggered(context.Background(), "a1", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepositoryMigrate(t *testing.T) {
	repo, mock := newAlertRepo(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS alerts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS alerts_active_idx").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
