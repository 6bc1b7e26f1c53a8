package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"market-pulse/internal/timeframe"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	ClickHouse  ClickHouseConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Cache       CacheConfig
	Aggregation AggregationConfig
	Exchange    ExchangeConfig
	Scheduler   SchedulerConfig
	Alerts      AlertsConfig
	Archive     ArchiveConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int
	Environment string
}

type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

type PostgresConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

type RedisConfig struct {
	Host           string
	Port           int
	Password       string
	DB             int
	UpdatesChannel string
	AlertsChannel  string
}

type CacheConfig struct {
	KeyPrefix string
	// TTL of zero keeps cached structures until the next cycle overwrites them.
	TTL time.Duration
}

type AggregationConfig struct {
	Timeframes      []string
	MaxRecords      int
	FetchLimit      int
	Concurrency     int
	FineTimeframe   string
	CoarseTimeframe string
	InstrumentsFile string
	Indicators      bool
}

type ExchangeConfig struct {
	EnableBinance   bool
	EnableBybit     bool
	BybitBaseURL    string
	BinanceRPS      float64
	BybitRPS        float64
	Burst           int
	RequestTimeout  time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
}

type SchedulerConfig struct {
	Enabled bool
	// Interval overrides the per-timeframe cadence when non-zero.
	Interval       time.Duration
	Workers        int
	LockTTL        time.Duration
	DequeueTimeout time.Duration
}

type AlertsConfig struct {
	Enabled           bool
	CheckInterval     time.Duration
	DefaultVWAPWindow int
	TelegramToken     string
	TelegramChatID    string
	TelegramBaseURL   string
}

type ArchiveConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

type LoggingConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:    getEnvInt("HTTP_PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", true),
			Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
			Port:     getEnvInt("CLICKHOUSE_PORT", 9000),
			Database: getEnv("CLICKHOUSE_DATABASE", "market"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Postgres: PostgresConfig{
			Enabled:  getEnvBool("POSTGRES_ENABLED", true),
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			Database: getEnv("POSTGRES_DATABASE", "market"),
			Username: getEnv("POSTGRES_USERNAME", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:           getEnv("REDIS_HOST", "localhost"),
			Port:           getEnvInt("REDIS_PORT", 6379),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			UpdatesChannel: getEnv("REDIS_UPDATES_CHANNEL", "market:updates"),
			AlertsChannel:  getEnv("REDIS_ALERTS_CHANNEL", "market:alerts"),
		},
		Cache: CacheConfig{
			KeyPrefix: getEnv("CACHE_KEY_PREFIX", "cache:"),
			TTL:       parseDuration(getEnv("CACHE_TTL", "0s"), 0),
		},
		Aggregation: AggregationConfig{
			Timeframes:      getEnvList("TIMEFRAMES", []string{"1h", "4h", "1d"}),
			MaxRecords:      getEnvInt("MAX_RECORDS", 399),
			FetchLimit:      getEnvInt("FETCH_LIMIT", 500),
			Concurrency:     getEnvInt("FETCH_CONCURRENCY", 8),
			FineTimeframe:   getEnv("FINE_TIMEFRAME", "4h"),
			CoarseTimeframe: getEnv("COARSE_TIMEFRAME", "8h"),
			InstrumentsFile: getEnv("INSTRUMENTS_FILE", "config/instruments.yaml"),
			Indicators:      getEnvBool("ENABLE_INDICATORS", true),
		},
		Exchange: ExchangeConfig{
			EnableBinance:   getEnvBool("ENABLE_BINANCE", true),
			EnableBybit:     getEnvBool("ENABLE_BYBIT", true),
			BybitBaseURL:    getEnv("BYBIT_BASE_URL", "https://api.bybit.com"),
			BinanceRPS:      getEnvFloat("BINANCE_RPS", 10),
			BybitRPS:        getEnvFloat("BYBIT_RPS", 5),
			Burst:           getEnvInt("EXCHANGE_BURST", 5),
			RequestTimeout:  parseDuration(getEnv("EXCHANGE_REQUEST_TIMEOUT", "15s"), 15*time.Second),
			BreakerFailures: getEnvInt("BREAKER_MAX_FAILURES", 5),
			BreakerTimeout:  parseDuration(getEnv("BREAKER_TIMEOUT", "60s"), 60*time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled:        getEnvBool("SCHEDULER_ENABLED", true),
			Interval:       parseDuration(getEnv("SCHEDULER_INTERVAL", "0s"), 0),
			Workers:        getEnvInt("QUEUE_WORKERS", 1),
			LockTTL:        parseDuration(getEnv("PIPELINE_LOCK_TTL", "10m"), 10*time.Minute),
			DequeueTimeout: parseDuration(getEnv("QUEUE_DEQUEUE_TIMEOUT", "5s"), 5*time.Second),
		},
		Alerts: AlertsConfig{
			Enabled:           getEnvBool("ALERTS_ENABLED", true),
			CheckInterval:     parseDuration(getEnv("ALERTS_CHECK_INTERVAL", "1m"), time.Minute),
			DefaultVWAPWindow: getEnvInt("ALERTS_VWAP_WINDOW", 20),
			TelegramToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
			TelegramBaseURL:   getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),
		},
		Archive: ArchiveConfig{
			Bucket:   getEnv("ARCHIVE_S3_BUCKET", ""),
			Region:   getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Endpoint: getEnv("ARCHIVE_S3_ENDPOINT", ""),
			Prefix:   getEnv("ARCHIVE_S3_PREFIX", "snapshots"),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("CLICKHOUSE_HOST is required")
	}
	if len(c.Aggregation.Timeframes) == 0 {
		return fmt.Errorf("TIMEFRAMES must list at least one timeframe")
	}
	for _, tf := range c.Aggregation.Timeframes {
		if _, ok := timeframe.Lookup(tf); !ok {
			return fmt.Errorf("unsupported timeframe %q in TIMEFRAMES", tf)
		}
	}
	if c.Aggregation.MaxRecords <= 0 {
		return fmt.Errorf("MAX_RECORDS must be positive, got %d", c.Aggregation.MaxRecords)
	}
	if c.Aggregation.FetchLimit <= 0 {
		return fmt.Errorf("FETCH_LIMIT must be positive, got %d", c.Aggregation.FetchLimit)
	}
	if c.Aggregation.Concurrency <= 0 {
		return fmt.Errorf("FETCH_CONCURRENCY must be positive, got %d", c.Aggregation.Concurrency)
	}

	fine, ok := timeframe.Lookup(c.Aggregation.FineTimeframe)
	if !ok {
		return fmt.Errorf("unsupported FINE_TIMEFRAME %q", c.Aggregation.FineTimeframe)
	}
	coarse, ok := timeframe.Lookup(c.Aggregation.CoarseTimeframe)
	if !ok {
		return fmt.Errorf("unsupported COARSE_TIMEFRAME %q", c.Aggregation.CoarseTimeframe)
	}
	if coarse != 2*fine {
		return fmt.Errorf("COARSE_TIMEFRAME %s must be twice FINE_TIMEFRAME %s",
			c.Aggregation.CoarseTimeframe, c.Aggregation.FineTimeframe)
	}

	if !c.Exchange.EnableBinance && !c.Exchange.EnableBybit {
		return fmt.Errorf("at least one exchange must be enabled")
	}
	if c.Alerts.DefaultVWAPWindow <= 0 {
		return fmt.Errorf("ALERTS_VWAP_WINDOW must be positive, got %d", c.Alerts.DefaultVWAPWindow)
	}
	return nil
}

// HasTimeframe reports whether tf is one of the collected timeframes.
func (c *AggregationConfig) HasTimeframe(tf string) bool {
	for _, t := range c.Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// FineFetchLimit is the fetch depth of the fine timeframe. When it feeds the
// coarse one, MaxRecords+1 coarse records need two fine records each plus one
// more to reach the grid anchor.
func (c *AggregationConfig) FineFetchLimit() int {
	if c.FineTimeframe == "" || c.CoarseTimeframe == "" {
		return c.FetchLimit
	}
	if need := 2*(c.MaxRecords+1) + 1; need > c.FetchLimit {
		return need
	}
	return c.FetchLimit
}

// IntervalFor returns how often the scheduler enqueues tf.
func (c *SchedulerConfig) IntervalFor(tf string) time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return timeframe.Duration(tf)
}

func (c *ClickHouseConfig) DSN() string {
	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s?dial_timeout=10s&max_execution_time=60",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *AlertsConfig) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

func (c *ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}
