// Package metrics provides Prometheus instrumentation for the match engine.
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
	// OrdersCreated counts orders accepted for matching, partitioned by side.
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendmatch_orders_created_total",
		Help: "Total number of orders accepted",
	}, []string{"side"})

	// TradesSettled counts successfully settled trades.
	TradesSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lendmatch_trades_settled_total",
		Help: "Total number of trades settled",
	})

	// SettlementConflicts counts settlements aborted because a counterpart
	// was claimed by a racing event.
	SettlementConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lendmatch_settlement_conflicts_total",
		Help: "Settlement transactions aborted on a pending re-check",
	})

	// SettlementLatency is the duration of the settlement transaction.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lendmatch_settlement_latency_seconds",
		Help:    "Settlement transaction latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// EventRedeliveries counts order-created events re-enqueued after an
	// infrastructure failure.
	EventRedeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lendmatch_event_redeliveries_total",
		Help: "Order-created events re-enqueued after a handler failure",
	})

	// ExposureRejections counts orders rejected by the exposure limiter.
	ExposureRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lendmatch_exposure_rejections_total",
		Help: "Orders rejected by the exposure limiter",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lendmatch_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendmatch_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lendmatch_http_request_duration_seconds",
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
