// Package metrics provides Prometheus instrumentation for the exchange.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersSubmitted counts accepted orders, partitioned by side and outcome.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_orders_submitted_total",
		Help: "Total number of orders accepted by the engine",
	}, []string{"side", "outcome"})

	// OrdersCancelled counts cancellations by reason.
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_orders_cancelled_total",
		Help: "Total number of orders cancelled",
	}, []string{"reason"})

	// FillsTotal counts executed fills by kind (book, complement, amm).
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_fills_total",
		Help: "Total number of fills executed",
	}, []string{"kind"})

	// MatchLatency measures submission-to-result latency inside the engine.
	MatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clob_match_latency_seconds",
		Help:    "Order matching latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// AMMRefusals counts sells the reserve pool could not absorb.
	AMMRefusals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clob_amm_refusals_total",
		Help: "AMM executions refused for insufficient reserve liquidity",
	})

	// ActiveMarkets tracks the number of unresolved markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clob_active_markets",
		Help: "Number of markets not yet resolved",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clob_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clob_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
