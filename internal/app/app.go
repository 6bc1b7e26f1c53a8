package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"market-pulse/internal/archive"
	"market-pulse/internal/cache"
	"market-pulse/internal/config"
	"market-pulse/internal/models"
	"market-pulse/internal/pubsub"
	"market-pulse/internal/repository"
	"market-pulse/internal/services/aggregator"
	"market-pulse/internal/services/alerts"
	"market-pulse/internal/services/fetcher"
	"market-pulse/internal/services/indicators"
	"market-pulse/internal/services/pipeline"
	"market-pulse/internal/services/queue"
	"market-pulse/internal/services/symbols"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// App holds every long-lived connection and service shared by the binaries.
// Optional stores are nil when disabled in the configuration.
type App struct {
	Config  *config.Config
	Logger  *logrus.Logger
	Catalog []models.Instrument

	Redis      *redis.Client
	ClickHouse driver.Conn
	Postgres   *sqlx.DB

	Cache     *cache.StructureCache
	Publisher *pubsub.Publisher
	Snapshots *repository.SnapshotRepository
	AlertRepo *repository.AlertRepository
	Archiver  *archive.S3Archiver

	Registry *fetcher.Registry
	Listings *symbols.SymbolFetcher
	Fetcher  *fetcher.Fetcher
	Pipeline *pipeline.Pipeline
	Queue    *queue.Queue
	Lock     *queue.Lock
	Alerts   *alerts.Service
}

// New connects to every configured backend and wires the services.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	catalog, err := config.LoadInstrumentsWithFallback(cfg.Aggregation.InstrumentsFile)
	if err != nil {
		logger.WithError(err).Warnf("Using %d default instruments", len(catalog))
	}
	a.Catalog = catalog

	logger.Info("Connecting to Redis...")
	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("Redis connected successfully")

	if cfg.ClickHouse.Enabled {
		logger.Info("Connecting to ClickHouse...")
		conn, err := openClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.ClickHouse = conn
		a.Snapshots = repository.NewSnapshotRepository(conn, logger)
		logger.Info("ClickHouse connected successfully")
	}

	if cfg.Postgres.Enabled {
		logger.Info("Connecting to Postgres...")
		db, err := repository.OpenPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Postgres = db
		a.AlertRepo = repository.NewAlertRepository(db, 5*time.Second, logger)
		logger.Info("Postgres connected successfully")
	}

	if cfg.Archive.Enabled() {
		client, err := archive.NewS3Client(ctx, cfg.Archive)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Archiver, err = archive.NewS3Archiver(client, cfg.Archive.Bucket, cfg.Archive.Prefix, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Cache = cache.NewStructureCache(a.Redis, cfg.Cache.KeyPrefix, cfg.Cache.TTL, logger)
	a.Publisher = pubsub.NewPublisher(a.Redis, cfg.Redis.UpdatesChannel, cfg.Redis.AlertsChannel, logger)
	a.Queue = queue.NewQueue(a.Redis, logger)
	a.Lock = queue.NewLock(a.Redis, cfg.Scheduler.LockTTL)

	sources := exchangeSources(cfg.Exchange)
	a.Registry = newRegistry(sources, cfg.Exchange, logger)
	listers := make([]symbols.Lister, 0, len(sources))
	for _, src := range sources {
		listers = append(listers, src)
	}
	a.Listings = symbols.NewSymbolFetcher(time.Hour, logger, listers...)
	if err := a.Registry.Validate(a.Catalog); err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid instrument catalog: %w", err)
	}
	a.Fetcher = fetcher.NewFetcher(a.Registry, cfg.Aggregation.FetchLimit, cfg.Aggregation.Concurrency, logger)
	a.Fetcher.SetLimit(cfg.Aggregation.FineTimeframe, cfg.Aggregation.FineFetchLimit())

	var enricher *indicators.Enricher
	if cfg.Aggregation.Indicators {
		enricher = indicators.NewEnricher(logger)
	}
	a.Pipeline, err = pipeline.New(a.Fetcher, a.Catalog, aggregator.NewFormatter(cfg.Aggregation.MaxRecords),
		enricher, a.sinks(), cfg.Aggregation.FineTimeframe, cfg.Aggregation.CoarseTimeframe, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	if a.AlertRepo != nil {
		a.Alerts = alerts.NewService(a.AlertRepo, a.Cache, a.notifier(), cfg.Alerts.DefaultVWAPWindow, logger)
	}

	return a, nil
}

// exchangeSource is an exchange client that can also list its contracts.
type exchangeSource interface {
	fetcher.Source
	Symbols(ctx context.Context) ([]string, error)
}

func exchangeSources(cfg config.ExchangeConfig) []exchangeSource {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	var sources []exchangeSource
	if cfg.EnableBinance {
		sources = append(sources, fetcher.NewBinanceSource(httpClient))
	}
	if cfg.EnableBybit {
		sources = append(sources, fetcher.NewBybitSource(cfg.BybitBaseURL, httpClient))
	}
	return sources
}

// NewRegistry builds the guarded exchange sources enabled in cfg.
func NewRegistry(cfg config.ExchangeConfig, logger *logrus.Logger) *fetcher.Registry {
	return newRegistry(exchangeSources(cfg), cfg, logger)
}

func newRegistry(sources []exchangeSource, cfg config.ExchangeConfig, logger *logrus.Logger) *fetcher.Registry {
	guarded := make([]fetcher.Source, 0, len(sources))
	for _, src := range sources {
		rps := cfg.BinanceRPS
		if src.Name() == "bybit" {
			rps = cfg.BybitRPS
		}
		guarded = append(guarded, fetcher.NewGuardedSource(src, fetcher.GuardSettings{
			RPS:            rps,
			Burst:          cfg.Burst,
			MaxFailures:    uint32(cfg.BreakerFailures),
			BreakerTimeout: cfg.BreakerTimeout,
			RequestTimeout: cfg.RequestTimeout,
		}, logger))
	}
	return fetcher.NewRegistry(guarded...)
}

func (a *App) sinks() pipeline.Sinks {
	sinks := pipeline.Sinks{
		Cache:     a.Cache,
		Publisher: a.Publisher,
	}
	if a.Snapshots != nil {
		sinks.Snapshots = a.Snapshots
	}
	if a.Archiver != nil {
		sinks.Archive = a.Archiver
	}
	return sinks
}

func (a *App) notifier() alerts.Notifier {
	multi := alerts.MultiNotifier{alerts.NewPubSubNotifier(a.Publisher)}
	if a.Config.Alerts.TelegramEnabled() {
		multi = append(multi, alerts.NewTelegramNotifier(
			a.Config.Alerts.TelegramBaseURL, a.Config.Alerts.TelegramToken, a.Config.Alerts.TelegramChatID, a.Logger))
	}
	return multi
}

// Migrate applies the ClickHouse and Postgres schemas of the enabled stores.
func (a *App) Migrate(ctx context.Context) error {
	if a.Snapshots != nil {
		if err := a.Snapshots.Migrate(ctx); err != nil {
			return err
		}
		a.Logger.Info("ClickHouse schema applied")
	}
	if a.AlertRepo != nil {
		if err := a.AlertRepo.Migrate(ctx); err != nil {
			return err
		}
		a.Logger.Info("Postgres schema applied")
	}
	return nil
}

// RunLocked runs one pipeline cycle under the global lock.
func (a *App) RunLocked(ctx context.Context, tf string) (*pipeline.Result, error) {
	if err := a.Lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if _, err := a.Lock.Release(context.WithoutCancel(ctx)); err != nil {
			a.Logger.WithError(err).Warn("Failed to release pipeline lock")
		}
	}()
	return a.Pipeline.Run(ctx, tf)
}

// Close releases every open connection
func (a *App) Close() {
	if a.Postgres != nil {
		a.Postgres.Close()
	}
	if a.ClickHouse != nil {
		a.ClickHouse.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
}

func openClickHouse(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ClickHouse ping failed: %w", err)
	}
	return conn, nil
}

// EnsureClickHouseDatabase creates the configured database through the
// default one, so the schema can be applied to a fresh server.
func EnsureClickHouseDatabase(ctx context.Context, cfg config.ClickHouseConfig) error {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer conn.Close()

	if err := conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.Database)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", cfg.Database, err)
	}
	return nil
}
