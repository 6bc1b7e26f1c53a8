package repository

// ClickHouse DDL for the merged record history.
var snapshotSchema = []string{
	`CREATE TABLE IF NOT EXISTS market_snapshots (
		symbol LowCardinality(String),
		timeframe LowCardinality(String),
		open_time DateTime64(3),
		close_time DateTime64(3),
		open Nullable(Float64),
		high Nullable(Float64),
		low Nullable(Float64),
		close Nullable(Float64),
		volume Nullable(Float64),
		volume_delta Nullable(Float64),
		open_interest Nullable(Float64),
		funding_rate Nullable(Float64),
		updated_at DateTime DEFAULT now(),
		date Date MATERIALIZED toDate(open_time)
	)
	ENGINE = ReplacingMergeTree(updated_at)
	PARTITION BY (timeframe, toYYYYMM(date))
	ORDER BY (symbol, timeframe, open_time)
	TTL date + INTERVAL 2 YEAR
	SETTINGS index_granularity = 8192`,
	"ALTER TABLE market_snapshots ADD INDEX IF NOT EXISTS symbol_idx (symbol) TYPE bloom_filter() GRANULARITY 1",
}

// Postgres DDL for user alerts.
var alertSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id UUID PRIMARY KEY,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		condition TEXT NOT NULL,
		threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
		vwap_window INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		triggered_at TIMESTAMPTZ
	)`,
	"CREATE INDEX IF NOT EXISTS alerts_active_idx ON alerts (active, timeframe)",
}
