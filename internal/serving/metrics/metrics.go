package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks inference requests by outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferd_requests_total",
			Help: "Total number of inference requests",
		},
		[]string{"status", "cache_hit"},
	)

	// RequestDuration tracks end-to-end request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferd_request_duration_seconds",
			Help:    "Inference request duration in seconds",
			Buckets: []float64{.01, .025, .05, .075, .1, .25, .5, .75, 1, 2.5, 5, 7.5, 10},
		},
		[]string{"cache_hit"},
	)

	// InferenceDuration tracks time spent in the classifier alone.
	InferenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inferd_inference_duration_seconds",
			Help:    "Model inference duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// InferenceErrorsTotal tracks classifier failures by type.
	InferenceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferd_inference_errors_total",
			Help: "Total number of inference errors",
		},
		[]string{"error_type"},
	)

	// CacheHitsTotal tracks response cache hits.
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferd_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	// CacheMissesTotal tracks response cache misses.
	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferd_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheErrorsTotal tracks cache store errors by operation.
	CacheErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferd_cache_errors_total",
			Help: "Total number of cache store errors",
		},
		[]string{"operation"},
	)

	// IdempotencyHitsTotal tracks replayed idempotent requests.
	IdempotencyHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferd_idempotency_hits_total",
			Help: "Total number of idempotent request replays",
		},
	)

	// IdempotencyMissesTotal tracks first-seen idempotency keys.
	IdempotencyMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferd_idempotency_misses_total",
			Help: "Total number of first-seen idempotency keys",
		},
	)

	// IdempotencyConflictsTotal tracks key reuse with a different payload.
	IdempotencyConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferd_idempotency_conflicts_total",
			Help: "Total number of idempotency key conflicts",
		},
	)

	// CircuitBreakerState reports the breaker state per dependency
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inferd_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"dependency"},
	)

	// CircuitBreakerFailuresTotal counts real dependency failures seen by a breaker.
	CircuitBreakerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferd_circuit_breaker_failures_total",
			Help: "Total number of failures recorded by circuit breakers",
		},
		[]string{"dependency"},
	)

	// CircuitBreakerSuccessesTotal counts successful calls seen by a breaker.
	CircuitBreakerSuccessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferd_circuit_breaker_successes_total",
			Help: "Total number of successes recorded by circuit breakers",
		},
		[]string{"dependency"},
	)

	// CircuitBreakerFastFailsTotal counts calls rejected without being attempted.
	CircuitBreakerFastFailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferd_circuit_breaker_fast_fails_total",
			Help: "Total number of calls rejected while the circuit was open",
		},
		[]string{"dependency"},
	)

	// RetryAttemptsTotal counts retry attempts per operation.
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferd_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"dependency", "operation"},
	)

	// FallbackTotal counts degraded-path activations per dependency.
	FallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferd_fallback_total",
			Help: "Total number of fallback activations",
		},
		[]string{"dependency", "fallback_type"},
	)

	// DroppedLogsTotal counts audit records dropped on buffer overflow.
	DroppedLogsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferd_dropped_logs_total",
			Help: "Total number of audit log records dropped",
		},
	)

	// LogBufferDepth reports the current number of buffered audit records.
	LogBufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inferd_log_buffer_depth",
			Help: "Current number of buffered audit log records",
		},
	)

	// DBConnectionPoolUsage reports open connections as a share of the pool max.
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inferd_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)

	// StoreOperationDuration tracks dependency operation latency.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferd_store_operation_duration_seconds",
			Help:    "External store operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"dependency", "operation"},
	)
)
