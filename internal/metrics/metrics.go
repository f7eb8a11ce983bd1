// Package metrics provides Prometheus instrumentation for the ownership service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NormalizationsTotal counts ownership normalizations by the state the
	// loan was in beforehand.
	NormalizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loanreport_ownership_normalizations_total",
		Help: "Ownership normalizations by prior state",
	}, []string{"prior_state"})

	// OwnershipWarnings counts validation warnings by code.
	OwnershipWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loanreport_ownership_warnings_total",
		Help: "Ownership validation warnings by code",
	}, []string{"code"})

	// OwnershipEdits counts accepted ownership mutations by kind.
	OwnershipEdits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loanreport_ownership_edits_total",
		Help: "Accepted ownership edits",
	}, []string{"kind"})

	// VersionConflicts counts saves rejected by the optimistic lock.
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loanreport_version_conflicts_total",
		Help: "Loan book saves rejected because of a stale sha",
	})

	// LoansTracked is the size of the loan book at the last load.
	LoansTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loanreport_loans",
		Help: "Number of loans in the book",
	})

	// PlatformConfigReloads counts reload attempts by result.
	PlatformConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loanreport_platform_config_reloads_total",
		Help: "Platform configuration reloads",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loanreport_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loanreport_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loanreport_http_request_duration_seconds",
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

		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(duration)
	})
}

// routePattern labels by chi route pattern to keep loan ids out of the
// label set.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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
		return nil, nil, errors.New("metrics: response writer cannot be hijacked")
	}
	return h.Hijack()
}
