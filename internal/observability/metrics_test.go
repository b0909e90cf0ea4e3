package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveLogin("success")

	body := scrape(t, metrics)
	if !strings.Contains(body, `irgateway_session_logins_total{outcome="success"} 1`) {
		t.Fatalf("expected login counter, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestMetricsRecordUpstreamActivity(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveUpstream("login", "success", 120*time.Millisecond)
	metrics.ObserveUpstream("login", "error", time.Second)
	metrics.IncUpstreamRetry("login")
	metrics.ObserveSessionLookup(true)
	metrics.ObserveSessionLookup(false)
	metrics.ObserveSessionLookup(false)

	body := scrape(t, metrics)
	for _, want := range []string{
		`irgateway_upstream_requests_total{op="login",outcome="success"} 1`,
		`irgateway_upstream_requests_total{op="login",outcome="error"} 1`,
		`irgateway_upstream_retries_total{op="login"} 1`,
		`irgateway_session_cache_lookups_total{result="hit"} 1`,
		`irgateway_session_cache_lookups_total{result="miss"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body, got: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveUpstream("csrf", "success", time.Millisecond)
	metrics.IncUpstreamRetry("csrf")
	metrics.ObserveSessionLookup(true)
	metrics.ObserveLogin("success")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics, got %d", rr.Code)
	}
}
