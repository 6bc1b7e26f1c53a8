package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Pipeline metrics
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_pipeline_runs_total",
			Help: "Total aggregation cycles by timeframe and status",
		},
		[]string{"timeframe", "status"}, // ok, error
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_pipeline_duration_ms",
			Help:    "Aggregation cycle duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 30000, 60000, 120000},
		},
		[]string{"timeframe"},
	)

	InstrumentsProcessed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "market_instruments_processed",
			Help: "Instruments present in the last formatted structure",
		},
		[]string{"timeframe"},
	)

	AuditGaps = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "market_audit_gaps",
			Help: "Instruments reported by the last audit report",
		},
		[]string{"timeframe", "kind"}, // missing_klines, missing_oi, missing_fr
	)

	InstrumentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_instrument_failures_total",
			Help: "Instruments dropped after an aggregation panic",
		},
		[]string{"timeframe"},
	)

	// Exchange fetch metrics
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_fetch_requests_total",
			Help: "Total exchange REST requests",
		},
		[]string{"exchange", "kind"},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_fetch_errors_total",
			Help: "Total failed exchange REST requests",
		},
		[]string{"exchange", "kind"},
	)

	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_fetch_latency_ms",
			Help:    "Exchange REST latency in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"exchange"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_cache_hits_total",
			Help: "Total cache hits by tier",
		},
		[]string{"tier"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_cache_misses_total",
			Help: "Total cache misses by tier",
		},
		[]string{"tier"},
	)

	CacheHitRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "market_cache_hit_ratio",
			Help: "Cache hit ratio by tier (0-1)",
		},
		[]string{"tier"},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_database_queries_total",
			Help: "Total database queries executed",
		},
		[]string{"store", "operation"},
	)

	DatabaseQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_database_query_latency_ms",
			Help:    "Database query latency in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"store"},
	)

	// Queue metrics
	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_tasks_enqueued_total",
			Help: "Total collection tasks enqueued",
		},
		[]string{"source"}, // scheduler, api, cli, requeue
	)

	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "market_lock_contention_total",
			Help: "Times a worker found the pipeline lock held",
		},
	)

	// Alert metrics
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_alerts_triggered_total",
			Help: "Total alerts triggered by condition",
		},
		[]string{"condition"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_notification_failures_total",
			Help: "Total failed alert notifications",
		},
		[]string{"notifier"},
	)

	// Publishing metrics
	PublishSuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_publish_success_total",
			Help: "Total successful Redis publishes",
		},
		[]string{"channel_type"}, // update, alert
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_publish_failures_total",
			Help: "Total failed Redis publishes",
		},
		[]string{"channel_type"},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "market_stream_clients",
			Help: "Connected websocket stream clients",
		},
	)
)

// RateTracker tracks rate per second for dynamic metrics
type RateTracker struct {
	count       int64
	lastCount   int64
	lastUpdated time.Time
	mu          sync.Mutex
}

func NewRateTracker() *RateTracker {
	return &RateTracker{
		lastUpdated: time.Now(),
	}
}

func (rt *RateTracker) Increment() {
	atomic.AddInt64(&rt.count, 1)
}

func (rt *RateTracker) Total() int64 {
	return atomic.LoadInt64(&rt.count)
}

func (rt *RateTracker) GetRate() float64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rt.lastUpdated).Seconds()

	if elapsed < 1.0 {
		return 0 // Not enough time passed
	}

	current := atomic.LoadInt64(&rt.count)
	rate := float64(current-rt.lastCount) / elapsed

	rt.lastCount = current
	rt.lastUpdated = now

	return rate
}

var fetchTracker = NewRateTracker()

// TrackFetch counts one exchange request and its outcome.
func TrackFetch(exchange, kind string, start time.Time, err error) {
	FetchRequests.WithLabelValues(exchange, kind).Inc()
	if err != nil {
		FetchErrors.WithLabelValues(exchange, kind).Inc()
	}
	TrackLatency(start, FetchLatency.WithLabelValues(exchange))
	fetchTracker.Increment()
}

// GetFetchesPerSecond returns exchange requests/sec since the last call
func GetFetchesPerSecond() float64 {
	return fetchTracker.GetRate()
}

// GetFetchesTotal returns the number of exchange requests since start
func GetFetchesTotal() int64 {
	return fetchTracker.Total()
}

// RecordAudit publishes the gap counts of one audit report.
func RecordAudit(tf string, instruments, missingKlines, missingOI, missingFR int) {
	InstrumentsProcessed.WithLabelValues(tf).Set(float64(instruments))
	AuditGaps.WithLabelValues(tf, "missing_klines").Set(float64(missingKlines))
	AuditGaps.WithLabelValues(tf, "missing_oi").Set(float64(missingOI))
	AuditGaps.WithLabelValues(tf, "missing_fr").Set(float64(missingFR))
}

// RecordCacheAccess records a cache hit or miss
func RecordCacheAccess(tier string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(tier).Inc()
	} else {
		CacheMisses.WithLabelValues(tier).Inc()
	}
	updateCacheHitRatio(tier)
}

// updateCacheHitRatio approximates the ratio from the live counters
func updateCacheHitRatio(tier string) {
	hits, _ := CacheHits.GetMetricWithLabelValues(tier)
	misses, _ := CacheMisses.GetMetricWithLabelValues(tier)
	if hits == nil || misses == nil {
		return
	}

	hitsMetric := &dto.Metric{}
	missesMetric := &dto.Metric{}
	if hits.Write(hitsMetric) != nil || misses.Write(missesMetric) != nil {
		return
	}

	total := hitsMetric.Counter.GetValue() + missesMetric.Counter.GetValue()
	if total > 0 {
		CacheHitRatio.WithLabelValues(tier).Set(hitsMetric.Counter.GetValue() / total)
	}
}

// TrackLatency is a helper to measure and record latency
func TrackLatency(start time.Time, histogram prometheus.Observer) {
	duration := time.Since(start).Milliseconds()
	histogram.Observe(float64(duration))
}
