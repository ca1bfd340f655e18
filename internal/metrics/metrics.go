package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache engine method being instrumented.
type CacheOperation string

const (
	CacheOperationGet          CacheOperation = "get"
	CacheOperationSet          CacheOperation = "set"
	CacheOperationRemove       CacheOperation = "remove"
	CacheOperationClearExpired CacheOperation = "clear_expired"
	CacheOperationClearAll     CacheOperation = "clear_all"
	CacheOperationCleanup      CacheOperation = "cleanup"
)

// CacheResult captures how a cache operation ended.
type CacheResult string

const (
	// CacheResultHit indicates a read returned a live entry.
	CacheResultHit CacheResult = "hit"
	// CacheResultMiss indicates no entry was present.
	CacheResultMiss CacheResult = "miss"
	// CacheResultStale indicates the entry had expired and was dropped on read.
	CacheResultStale CacheResult = "stale"
	// CacheResultStored indicates an entry and its metadata were persisted.
	CacheResultStored CacheResult = "stored"
	// CacheResultRemoved indicates one or more entries were deleted.
	CacheResultRemoved CacheResult = "removed"
	// CacheResultNoop indicates a maintenance pass found nothing to do.
	CacheResultNoop CacheResult = "noop"
	// CacheResultError indicates the operation failed and was absorbed.
	CacheResultError CacheResult = "error"
)

// EvictionReason labels why entries left the cache outside an explicit remove.
type EvictionReason string

const (
	EvictionExpired EvictionReason = "expired"
	EvictionSize    EvictionReason = "size"
	EvictionCleared EvictionReason = "cleared"
)

// Recorder publishes Prometheus metrics for cache and upstream activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
	cacheEvictions  *prometheus.CounterVec
	cacheSize       prometheus.Gauge

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedstack",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Article cache operations executed by the engine.",
	}, []string{"namespace", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "feedstack",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for article cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"namespace", "operation", "result"})

	cacheEvictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedstack",
		Subsystem: "cache",
		Name:      "evicted_entries_total",
		Help:      "Entries dropped by expiry sweeps, size cleanup or full clears.",
	}, []string{"reason"})

	cacheSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "feedstack",
		Subsystem: "cache",
		Name:      "size_bytes",
		Help:      "Serialized size of all tracked cache entries.",
	})

	upstreamRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedstack",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Requests issued to the news API.",
	}, []string{"endpoint", "status"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "feedstack",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for news API requests.",
		Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint", "status"})

	reg.MustRegister(cacheOperations, cacheLatency, cacheEvictions, cacheSize, upstreamRequests, upstreamLatency)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		cacheOperations:  cacheOperations,
		cacheLatency:     cacheLatency,
		cacheEvictions:   cacheEvictions,
		cacheSize:        cacheSize,
		upstreamRequests: upstreamRequests,
		upstreamLatency:  upstreamLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveCache records the result and latency of one engine operation.
func (r *Recorder) ObserveCache(namespace string, operation CacheOperation, result CacheResult, duration time.Duration) {
	if r == nil {
		return
	}
	nsLabel := normalizeLabel(namespace)
	opLabel := normalizeLabel(string(operation))
	resLabel := string(result)
	if resLabel == "" {
		resLabel = string(CacheResultError)
	}
	r.cacheOperations.WithLabelValues(nsLabel, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(nsLabel, opLabel, resLabel).Observe(duration.Seconds())
}

// AddEvicted counts entries dropped for the given reason.
func (r *Recorder) AddEvicted(reason EvictionReason, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.cacheEvictions.WithLabelValues(normalizeLabel(string(reason))).Add(float64(count))
}

// SetCacheSize publishes the current aggregate size.
func (r *Recorder) SetCacheSize(bytes int64) {
	if r == nil {
		return
	}
	r.cacheSize.Set(float64(bytes))
}

// ObserveUpstream records a completed news API call. statusCode <= 0 marks a
// transport failure without a response.
func (r *Recorder) ObserveUpstream(endpoint string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "error"
	}
	endpointLabel := normalizeLabel(endpoint)
	r.upstreamRequests.WithLabelValues(endpointLabel, statusLabel).Inc()
	r.upstreamLatency.WithLabelValues(endpointLabel, statusLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
