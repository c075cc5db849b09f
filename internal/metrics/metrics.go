// Package metrics provides Prometheus instrumentation for the payments engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecordsApplied counts records whose effect was applied, by type.
	RecordsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_records_applied_total",
		Help: "Total number of transaction records applied",
	}, []string{"type"})

	// RecordsDiscarded counts discarded records by discard reason.
	RecordsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_records_discarded_total",
		Help: "Total number of transaction records discarded",
	}, []string{"reason"})

	// RecordLatency tracks processor latency per record type.
	RecordLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payments_record_latency_seconds",
		Help:    "Time to process one record in seconds",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"type"})

	// ActiveWorkers tracks running per-client workers.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payments_active_workers",
		Help: "Number of per-client workers currently running",
	})

	// AccountsLocked counts chargebacks that locked an account.
	AccountsLocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_accounts_locked_total",
		Help: "Accounts locked by a chargeback",
	})

	// WebSocketClients tracks connected status feed subscribers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payments_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payments_http_request_duration_seconds",
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
