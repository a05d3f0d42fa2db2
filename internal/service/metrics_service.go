package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission outcomes recorded per operation.
const (
	OutcomeAdmitted = "admitted"
	OutcomePending  = "pending"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	admissions        *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	scopeDuration     *prometheus.HistogramVec
	concurrencyRetry  *prometheus.CounterVec
	overtimeFlagged   prometheus.Counter
	overtimeLostRace  prometheus.Counter
	broadcastEvents   *prometheus.CounterVec
	subscribers       prometheus.Gauge
	constraintVersion *prometheus.GaugeVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hallpass_admission_decisions_total",
		Help: "Admission decisions by operation and outcome",
	}, []string{"operation", "outcome", "reason"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hallpass_transitions_total",
		Help: "Committed pass status transitions",
	}, []string{"from", "to"})

	scopeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hallpass_scope_duration_seconds",
		Help:    "Time spent holding admission scope locks, including the wait",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
	}, []string{"operation"})

	concurrencyRetry := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hallpass_concurrency_retries_total",
		Help: "Admission attempts retried after a lock timeout",
	}, []string{"operation"})

	overtimeFlagged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hallpass_overtime_flagged_total",
		Help: "Passes moved to OVERTIME by the monitor",
	})

	overtimeLostRace := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hallpass_overtime_lost_race_total",
		Help: "Overdue passes that changed before the monitor could flag them",
	})

	broadcastEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hallpass_broadcast_events_total",
		Help: "Realtime events by delivery result",
	}, []string{"event_type", "result"})

	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hallpass_realtime_subscribers",
		Help: "Connected realtime subscribers on this instance",
	})

	constraintVersion := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hallpass_constraint_snapshot_loaded_timestamp_seconds",
		Help: "Unix time the current constraint snapshot was loaded",
	}, []string{"version"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		admissions, transitions, scopeDuration, concurrencyRetry, overtimeFlagged, overtimeLostRace,
		broadcastEvents, subscribers, constraintVersion, goroutines,
	)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		admissions:        admissions,
		transitions:       transitions,
		scopeDuration:     scopeDuration,
		concurrencyRetry:  concurrencyRetry,
		overtimeFlagged:   overtimeFlagged,
		overtimeLostRace:  overtimeLostRace,
		broadcastEvents:   broadcastEvents,
		subscribers:       subscribers,
		constraintVersion: constraintVersion,
	}
}

// Registry exposes the private registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordAdmission counts one decision. reason is the error code for rejections.
func (m *MetricsService) RecordAdmission(operation, outcome, reason string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(operation, outcome, reason).Inc()
}

// RecordTransition counts a committed status change.
func (m *MetricsService) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ObserveScope records how long a decision held its scope.
func (m *MetricsService) ObserveScope(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.scopeDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordConcurrencyRetry counts one retry after a lock timeout.
func (m *MetricsService) RecordConcurrencyRetry(operation string) {
	if m == nil {
		return
	}
	m.concurrencyRetry.WithLabelValues(operation).Inc()
}

// RecordOvertime counts the outcome of flagging one overdue pass.
func (m *MetricsService) RecordOvertime(flagged bool) {
	if m == nil {
		return
	}
	if flagged {
		m.overtimeFlagged.Inc()
		return
	}
	m.overtimeLostRace.Inc()
}

// RecordBroadcast counts a realtime event by result (published, dropped, delivered, relay_error).
func (m *MetricsService) RecordBroadcast(eventType, result string) {
	if m == nil {
		return
	}
	m.broadcastEvents.WithLabelValues(eventType, result).Inc()
}

// SetSubscribers reports the current subscriber count.
func (m *MetricsService) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// RecordConstraintSnapshot publishes the version of the snapshot now in use.
func (m *MetricsService) RecordConstraintSnapshot(version string, loadedAt time.Time) {
	if m == nil {
		return
	}
	m.constraintVersion.Reset()
	m.constraintVersion.WithLabelValues(version).Set(float64(loadedAt.Unix()))
}
