package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// unmatchedRoute labels requests no route matched, so unknown paths cannot grow the
// label set.
const unmatchedRoute = "unmatched"

// Metrics collects the API's request metrics and the ledger's business counters.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	appends         *prometheus.CounterVec
	appendedAmount  *prometheus.CounterVec
}

// NewMetrics builds a registry with runtime collectors, the HTTP metrics and the ledger
// counters.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dairyledger_http_requests_total",
		Help: "HTTP requests by method, chi route pattern and status code.",
	}, []string{"method", "route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dairyledger_http_request_duration_seconds",
		Help:    "HTTP request duration by method and chi route pattern.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "route"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dairyledger_http_requests_in_flight",
		Help: "HTTP requests currently being served.",
	})
	appends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dairyledger_ledger_appends_total",
		Help: "Ledger appends by record kind and outcome (appended or replayed).",
	}, []string{"kind", "outcome"})
	amount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dairyledger_ledger_amount_total",
		Help: "Sum of appended record amounts in rupees by record kind. Replays are not counted.",
	}, []string{"kind"})
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		requests, duration, inFlight, appends, amount,
	)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		inFlight:        inFlight,
		appends:         appends,
		appendedAmount:  amount,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every request. The route label is read after the
// handler ran, once chi has resolved the full pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveAppend counts one ledger append.
func (m *Metrics) ObserveAppend(kind string, replayed bool, amount decimal.Decimal) {
	if m == nil {
		return
	}
	if replayed {
		m.appends.WithLabelValues(kind, "replayed").Inc()
		return
	}
	m.appends.WithLabelValues(kind, "appended").Inc()
	if amount.IsPositive() {
		m.appendedAmount.WithLabelValues(kind).Add(amount.InexactFloat64())
	}
}

// Registerer exposes the registry for component metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}
