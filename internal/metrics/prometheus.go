package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Increment metrics
	IncrementsTotal   *prometheus.CounterVec
	IncrementDuration *prometheus.HistogramVec
	QuotaRejections   *prometheus.CounterVec
	OperationErrors   *prometheus.CounterVec

	// Async queue metrics
	PendingIncrements prometheus.Gauge
	EnqueueBlocked    prometheus.Counter

	// Flush metrics
	FlushesTotal        *prometheus.CounterVec
	FlushDuration       prometheus.Histogram
	FlushedIncrements   prometheus.Counter
	FlushSkippedByQuota prometheus.Counter
	FlushLostIncrements prometheus.Counter
	FlushSubmitRejected prometheus.Counter

	// Flush worker pool metrics
	FlushPoolActiveWorkers     prometheus.Gauge
	FlushPoolQueuedTasks       prometheus.Gauge
	FlushPoolWorkerUtilization prometheus.Gauge
	FlushPoolQueueUtilization  prometheus.Gauge

	// Read cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheClears prometheus.Counter

	// Lifecycle metrics
	CountersCreated prometheus.Counter
	CountersActive  prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates Prometheus metrics registered with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		IncrementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "counterd_increments_total",
				Help: "Total number of counter increments accepted",
			},
			[]string{"path", "field"},
		),

		IncrementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "counterd_increment_duration_seconds",
				Help:    "Duration of counter increment operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),

		QuotaRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "counterd_quota_rejections_total",
				Help: "Total number of increments rejected by quota",
			},
			[]string{"path", "field"},
		),

		OperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "counterd_operation_errors_total",
				Help: "Total number of failed counter operations",
			},
			[]string{"operation"},
		),

		PendingIncrements: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "counterd_pending_increments",
				Help: "Increments queued for asynchronous flush",
			},
		),

		EnqueueBlocked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "counterd_enqueue_blocked_total",
				Help: "Total number of enqueues that waited on a full work queue",
			},
		),

		FlushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "counterd_flushes_total",
				Help: "Total number of flush tasks by outcome",
			},
			[]string{"status"},
		),

		FlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "counterd_flush_duration_seconds",
				Help:    "Duration of per-counter flush transactions",
				Buckets: prometheus.DefBuckets,
			},
		),

		FlushedIncrements: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "counterd_flushed_increments_total",
				Help: "Total number of queued increments applied to the store",
			},
		),

		FlushSkippedByQuota: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "counterd_flush_quota_skips_total",
				Help: "Total number of queued increments dropped at flush because of quota",
			},
		),

		FlushLostIncrements: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "counterd_flush_lost_increments_total",
				Help: "Total number of dequeued increments lost to a failed flush",
			},
		),

		FlushSubmitRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "counterd_flush_submit_rejected_total",
				Help: "Total number of flush tasks skipped because the worker pool was full",
			},
		),

		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "counterd_read_cache_hits_total",
				Help: "Total number of read cache hits",
			},
		),

		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "counterd_read_cache_misses_total",
				Help: "Total number of read cache misses",
			},
		),

		CacheClears: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "counterd_read_cache_clears_total",
				Help: "Total number of periodic read cache clears",
			},
		),

		FlushPoolActiveWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "counterd_flush_pool_active_workers",
				Help: "Flush workers currently running a task",
			},
		),

		FlushPoolQueuedTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "counterd_flush_pool_queued_tasks",
				Help: "Flush tasks waiting for a worker",
			},
		),

		FlushPoolWorkerUtilization: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "counterd_flush_pool_worker_utilization_percent",
				Help: "Busy flush workers as a percentage of the pool",
			},
		),

		FlushPoolQueueUtilization: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "counterd_flush_pool_queue_utilization_percent",
				Help: "Flush task queue fill as a percentage of its capacity",
			},
		),

		CountersCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "counterd_counters_created_total",
				Help: "Total number of counters created by this process",
			},
		),

		CountersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "counterd_counters_active",
				Help: "Counters with a registered work queue",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "counterd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "counterd_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordIncrement records an accepted increment
func (m *Metrics) RecordIncrement(path, field string, duration time.Duration) {
	m.IncrementsTotal.WithLabelValues(path, field).Inc()
	m.IncrementDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordQuotaRejection records an increment refused by quota
func (m *Metrics) RecordQuotaRejection(path, field string) {
	m.QuotaRejections.WithLabelValues(path, field).Inc()
}

// RecordError records a failed operation
func (m *Metrics) RecordError(operation string) {
	m.OperationErrors.WithLabelValues(operation).Inc()
}

// RecordFlush records one flush transaction
func (m *Metrics) RecordFlush(status string, applied, skipped int, duration time.Duration) {
	m.FlushesTotal.WithLabelValues(status).Inc()
	m.FlushDuration.Observe(duration.Seconds())
	m.FlushedIncrements.Add(float64(applied))
	m.FlushSkippedByQuota.Add(float64(skipped))
}

// RecordFlushLoss records increments dropped with a failed flush
func (m *Metrics) RecordFlushLoss(lost int) {
	m.FlushLostIncrements.Add(float64(lost))
}

// RecordFlushPool publishes a snapshot of the flush worker pool
func (m *Metrics) RecordFlushPool(activeWorkers, queuedTasks int, workerUtilization, queueUtilization float64) {
	m.FlushPoolActiveWorkers.Set(float64(activeWorkers))
	m.FlushPoolQueuedTasks.Set(float64(queuedTasks))
	m.FlushPoolWorkerUtilization.Set(workerUtilization)
	m.FlushPoolQueueUtilization.Set(queueUtilization)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
