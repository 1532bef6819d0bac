package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access decision metrics
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
	DecisionErrors   *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheInvalidationsTotal prometheus.Counter
	CacheSweptTotal         prometheus.Counter

	// Administrative mutations
	MutationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_decisions_total",
				Help: "Access decisions by check and outcome",
			},
			[]string{"check", "outcome"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessd_decision_duration_seconds",
				Help:    "Time taken to reach an access decision",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"check"},
		),
		DecisionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_decision_errors_total",
				Help: "Access checks that could not be decided",
			},
			[]string{"check"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_cache_hits_total",
				Help: "Resolver cache hits by kind",
			},
			[]string{"kind"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_cache_misses_total",
				Help: "Resolver cache misses by kind",
			},
			[]string{"kind"},
		),
		CacheInvalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessd_cache_invalidations_total",
				Help: "Users whose cached permissions were invalidated",
			},
		),
		CacheSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessd_cache_swept_total",
				Help: "Expired cache entries removed by the sweeper",
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_mutations_total",
				Help: "Administrative role and grant mutations by operation",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.DecisionDuration,
		m.DecisionErrors,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheInvalidationsTotal,
		m.CacheSweptTotal,
		m.MutationsTotal,
	)

	return m
}

// RecordDecision records the outcome and latency of an access check
func (m *Metrics) RecordDecision(check string, allowed bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.DecisionsTotal.WithLabelValues(check, outcome).Inc()
	m.DecisionDuration.WithLabelValues(check).Observe(duration.Seconds())
}

// RecordDecisionError records a check that failed with an error
func (m *Metrics) RecordDecisionError(check string) {
	if m == nil {
		return
	}
	m.DecisionErrors.WithLabelValues(check).Inc()
}

// RecordCacheHit records a resolver cache hit
func (m *Metrics) RecordCacheHit(kind string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(kind).Inc()
}

// RecordCacheMiss records a resolver cache miss
func (m *Metrics) RecordCacheMiss(kind string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(kind).Inc()
}

// RecordInvalidations counts invalidated users
func (m *Metrics) RecordInvalidations(users int) {
	if m == nil {
		return
	}
	m.CacheInvalidationsTotal.Add(float64(users))
}

// RecordSweep counts entries removed by the cache sweeper
func (m *Metrics) RecordSweep(removed int) {
	if m == nil {
		return
	}
	m.CacheSweptTotal.Add(float64(removed))
}

// RecordMutation counts an administrative write
func (m *Metrics) RecordMutation(operation string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(operation).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeName returns the mux route template so ids don't explode label cardinality
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeName(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
