package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/dairybooth/dairyledger/internal/jobs"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobmetrics.NewMetrics(metrics.Registerer()).Track("notify:sweep").End(nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "dairyledger_jobs_total") {
		t.Fatalf("expected body to contain dairyledger_jobs_total, got: %s", body)
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

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",method=\"GET\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{method=\"GET\",route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsLabelRoutesByPattern(t *testing.T) {
	metrics := NewMetrics()
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Route("/reports", func(r chi.Router) {
		r.Get("/parties/{id}/summary", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	for _, target := range []string{"/reports/parties/a/summary", "/reports/parties/b/summary", "/nope/1", "/nope/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `dairyledger_http_requests_total{code="200",method="GET",route="/reports/parties/{id}/summary"} 2`) {
		t.Fatalf("expected both party requests under one route label, got: %s", body)
	}
	if !strings.Contains(body, `dairyledger_http_requests_total{code="404",method="GET",route="unmatched"} 2`) {
		t.Fatalf("expected unknown paths under the unmatched label, got: %s", body)
	}
	if strings.Contains(body, "/nope") {
		t.Fatalf("raw paths must not become labels, got: %s", body)
	}
	if !strings.Contains(body, "dairyledger_http_requests_in_flight 0") {
		t.Fatalf("expected in-flight gauge back at zero, got: %s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors, got: %s", body)
	}
}

func TestMetricsCountLedgerAppends(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveAppend("COLLECTION", false, decimal.RequireFromString("415.5"))
	metrics.ObserveAppend("COLLECTION", false, decimal.RequireFromString("84.5"))
	metrics.ObserveAppend("COLLECTION", true, decimal.RequireFromString("84.5"))
	metrics.ObserveAppend("PAYMENT", false, decimal.RequireFromString("100"))

	body := scrape(t, metrics)
	for _, want := range []string{
		`dairyledger_ledger_appends_total{kind="COLLECTION",outcome="appended"} 2`,
		`dairyledger_ledger_appends_total{kind="COLLECTION",outcome="replayed"} 1`,
		`dairyledger_ledger_appends_total{kind="PAYMENT",outcome="appended"} 1`,
		`dairyledger_ledger_amount_total{kind="COLLECTION"} 500`,
		`dairyledger_ledger_amount_total{kind="PAYMENT"} 100`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s, got: %s", want, body)
		}
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveAppend("SALE", false, decimal.NewFromInt(1))
}
