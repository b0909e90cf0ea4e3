package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the gateway.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	upstreamCalls    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamRetries  *prometheus.CounterVec
	sessionLookups   *prometheus.CounterVec
	sessionLogins    *prometheus.CounterVec
}

// NewMetrics initialises the registry and the gateway metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "irgateway_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "irgateway_http_request_duration_seconds",
		Help:    "HTTP request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	upstreamCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "irgateway_upstream_requests_total",
		Help: "Upstream repository calls by operation and outcome.",
	}, []string{"op", "outcome"})
	upstreamDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "irgateway_upstream_request_duration_seconds",
		Help:    "Latency of single upstream attempts.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"op"})
	upstreamRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "irgateway_upstream_retries_total",
		Help: "Retries scheduled after transient upstream failures.",
	}, []string{"op"})
	sessionLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "irgateway_session_cache_lookups_total",
		Help: "Upstream session cache lookups by result.",
	}, []string{"result"})
	sessionLogins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "irgateway_session_logins_total",
		Help: "Upstream credential exchanges by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(requests, duration, upstreamCalls, upstreamDuration, upstreamRetries, sessionLookups, sessionLogins)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		upstreamCalls:    upstreamCalls,
		upstreamDuration: upstreamDuration,
		upstreamRetries:  upstreamRetries,
		sessionLookups:   sessionLookups,
		sessionLogins:    sessionLogins,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveUpstream records one upstream attempt.
func (m *Metrics) ObserveUpstream(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamCalls.WithLabelValues(op, outcome).Inc()
	m.upstreamDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// IncUpstreamRetry counts a scheduled retry.
func (m *Metrics) IncUpstreamRetry(op string) {
	if m == nil {
		return
	}
	m.upstreamRetries.WithLabelValues(op).Inc()
}

// ObserveSessionLookup records a session cache hit or miss.
func (m *Metrics) ObserveSessionLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.sessionLookups.WithLabelValues(result).Inc()
}

// ObserveLogin records the outcome of an upstream credential exchange.
func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.sessionLogins.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
