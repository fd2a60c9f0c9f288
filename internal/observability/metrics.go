package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// SensorThings API call rate by endpoint. Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// SensorThings API latency. Watch for: p95 > 2s (upstream degradation).
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts against the SensorThings API. High retries = unstable upstream.
	UpstreamRetriesTotal prometheus.Counter

	// Circuit breaker state per component (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions. Watch for: flapping.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Cache hits/misses per entity type. Hit rate = hits/(hits+misses).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Current in-memory cache entry count, bounded by the configured cap.
	CacheSizeEntries prometheus.Gauge

	// Entries removed from the in-memory cache, by reason (capacity, expired).
	CacheEvictionsTotal *prometheus.CounterVec

	// Coalesced fetches: requests that waited on an identical in-flight fetch.
	CoalescedRequestsTotal prometheus.Counter

	// Batch count resolver waves and per-wave chunk sizes.
	BatchWavesTotal prometheus.Counter
	BatchChunkSize  prometheus.Histogram

	// Per-id count resolutions that failed and degraded to zero.
	BatchCountFailuresTotal prometheus.Counter

	// Progressive loader stage completions by stage and status.
	LoaderStagesTotal *prometheus.CounterVec

	// Results discarded because a newer loader session superseded them.
	LoaderStaleResultsDroppedTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorThingsCallsTotal",
			Help: "Total SensorThings API calls by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensorThingsCallDurationSeconds",
			Help:    "SensorThings API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorThingsRetriesTotal",
			Help: "Total retry attempts against the SensorThings API",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Response cache hits by entity type",
		},
		[]string{"entity"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Response cache misses by entity type",
		},
		[]string{"entity"},
	)
	CacheSizeEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cacheSizeEntries",
			Help: "Current in-memory response cache entry count",
		},
	)
	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheEvictionsTotal",
			Help: "Entries removed from the in-memory response cache",
		},
		[]string{"reason"},
	)
	CoalescedRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coalescedRequestsTotal",
			Help: "Fetches that waited on an identical in-flight request",
		},
	)
	BatchWavesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batchWavesTotal",
			Help: "Count-resolver waves issued (one wave per chunk)",
		},
	)
	BatchChunkSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batchChunkSize",
			Help:    "Ids resolved per count-resolver wave",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		},
	)
	BatchCountFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batchCountFailuresTotal",
			Help: "Per-id count resolutions that failed and degraded to zero",
		},
	)
	LoaderStagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loaderStagesTotal",
			Help: "Progressive loader stage completions by stage and status",
		},
		[]string{"stage", "status"},
	)
	LoaderStaleResultsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loaderStaleResultsDroppedTotal",
			Help: "Loader results discarded because a newer session superseded them",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Requests denied by the rate limiter",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsInFlight,
		UpstreamCallsTotal,
		UpstreamDuration,
		UpstreamRetriesTotal,
		CircuitBreakerState,
		CircuitBreakerTransitionsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheSizeEntries,
		CacheEvictionsTotal,
		CoalescedRequestsTotal,
		BatchWavesTotal,
		BatchChunkSize,
		BatchCountFailuresTotal,
		LoaderStagesTotal,
		LoaderStaleResultsDroppedTotal,
		RateLimitDeniedTotal,
	)
}

// MetricsHandler returns the /metrics handler backed by the private registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordCircuitBreakerTransition records a state transition for a component.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}
