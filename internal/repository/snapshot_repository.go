package repository

import (
	"context"
	"fmt"
	"time"

	"market-pulse/internal/metrics"
	"market-pulse/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"
)

// SnapshotRepository keeps the history of merged records in ClickHouse so
// series survive cache eviction and can be inspected beyond MaxRecords.
type SnapshotRepository struct {
	clickhouse driver.Conn
	logger     *logrus.Logger
}

func NewSnapshotRepository(clickhouse driver.Conn, logger *logrus.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		clickhouse: clickhouse,
		logger:     logger,
	}
}

// Migrate creates the snapshot table and its indexes
func (r *SnapshotRepository) Migrate(ctx context.Context) error {
	for _, stmt := range snapshotSchema {
		if err := r.clickhouse.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply snapshot schema: %w", err)
		}
	}
	return nil
}

// SaveStructure inserts every record of fs in one batch
func (r *SnapshotRepository) SaveStructure(ctx context.Context, fs models.FinalStructure) error {
	if fs.RecordCount() == 0 {
		return nil
	}
	start := time.Now()
	defer metrics.TrackLatency(start, metrics.DatabaseQueryLatency.WithLabelValues("clickhouse"))
	metrics.DatabaseQueries.WithLabelValues("clickhouse", "insert").Inc()

	batch, err := r.clickhouse.PrepareBatch(ctx, `
		INSERT INTO market_snapshots (
			symbol, timeframe, open_time, close_time,
			open, high, low, close,
			volume, volume_delta, open_interest, funding_rate,
			updated_at
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	now := time.Now().UTC()
	for _, series := range fs.Data {
		for _, rec := range series.Data {
			err := batch.Append(
				series.Symbol, fs.Timeframe, time.UnixMilli(rec.OpenTime).UTC(), time.UnixMilli(rec.CloseTime).UTC(),
				rec.OpenPrice, rec.HighPrice, rec.LowPrice, rec.ClosePrice,
				rec.Volume, rec.VolumeDelta, rec.OpenInterest, rec.FundingRate,
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to append to batch: %w", err)
			}
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send snapshot batch: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"timeframe": fs.Timeframe,
		"records":   fs.RecordCount(),
	}).Debug("Stored snapshot")
	return nil
}

// History returns up to limit stored records for one instrument, oldest first
func (r *SnapshotRepository) History(ctx context.Context, symbol, tf string, limit int) ([]models.MergedRecord, error) {
	metrics.DatabaseQueries.WithLabelValues("clickhouse", "select").Inc()

	query := `
		SELECT
			open_time, close_time,
			open, high, low, close,
			volume, volume_delta, open_interest, funding_rate
		FROM market_snapshots FINAL
		WHERE symbol = ? AND timeframe = ?
		ORDER BY open_time DESC`
	args := []interface{}{symbol, tf}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.clickhouse.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var records []models.MergedRecord
	for rows.Next() {
		var rec models.MergedRecord
		var openTime, closeTime time.Time
		err := rows.Scan(
			&openTime, &closeTime,
			&rec.OpenPrice, &rec.HighPrice, &rec.LowPrice, &rec.ClosePrice,
			&rec.Volume, &rec.VolumeDelta, &rec.OpenInterest, &rec.FundingRate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		rec.OpenTime = openTime.UnixMilli()
		rec.CloseTime = closeTime.UnixMilli()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	// Reverse to chronological order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// GetStats retrieves snapshot statistics
func (r *SnapshotRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	row := r.clickhouse.QueryRow(ctx, `
		SELECT
			count() AS total_records,
			count(DISTINCT symbol) AS total_symbols,
			max(open_time) AS latest_record
		FROM market_snapshots`)

	var totalRecords, totalSymbols uint64
	var latest time.Time
	if err := row.Scan(&totalRecords, &totalSymbols, &latest); err != nil {
		return nil, fmt.Errorf("failed to read snapshot stats: %w", err)
	}

	return map[string]interface{}{
		"total_records": totalRecords,
		"total_symbols": totalSymbols,
		"latest_record": latest,
	}, nil
}
