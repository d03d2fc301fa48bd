package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/trip-budget/budget"
)

// Metrics holds the Prometheus collectors of the server. Each instance owns
// its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge

	promotionsTotal *prometheus.CounterVec
	recomputesTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		httpInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_inflight_requests",
				Help: "Number of HTTP requests currently being served",
			},
		),
		promotionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_promotions_total",
				Help: "Workspace promotions by target and outcome",
			},
			[]string{"target", "outcome"},
		),
		recomputesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_recomputes_total",
				Help: "Auto item recomputations by workspace and outcome",
			},
			[]string{"workspace", "outcome"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency. Labels use the matched chi
// route pattern to keep cardinality low.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		m.httpRequestsTotal.With(labels).Inc()
		m.httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

// ObservePromotion counts one promotion attempt.
func (m *Metrics) ObservePromotion(target budget.Workspace, outcome string) {
	m.promotionsTotal.WithLabelValues(string(target), outcome).Inc()
}

// ObserveRecompute matches budget.RecomputeScheduler.OnRun.
func (m *Metrics) ObserveRecompute(ws budget.Workspace, report budget.RecalcReport, err error) {
	outcome := "unchanged"
	switch {
	case err != nil:
		outcome = "failed"
	case report.Changed():
		outcome = "changed"
	}
	m.recomputesTotal.WithLabelValues(string(ws), outcome).Inc()
}
