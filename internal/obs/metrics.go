// Package obs holds the Prometheus metrics for HTTP traffic and the auth core.
package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// TokensIssued counts signed tokens by kind (access, refresh).
	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_tokens_issued_total",
		Help: "Tokens issued, by kind.",
	}, []string{"kind"})

	// TokensRevoked counts newly revoked jtis by reason.
	TokensRevoked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_tokens_revoked_total",
		Help: "Token ids added to the revocation set, by reason.",
	}, []string{"reason"})

	// TokenRejections counts failed validations by internal reason. The reason never reaches clients.
	TokenRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_rejections_total",
		Help: "Rejected bearer or refresh tokens, by reason.",
	}, []string{"reason"})

	// IdentityResolutions counts resolver outcomes (existing, created, switched, invalid, error).
	IdentityResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_identity_resolutions_total",
		Help: "External identity resolutions, by outcome.",
	}, []string{"outcome"})

	// GateDenials counts authorization gate and scope denials by code.
	GateDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_gate_denials_total",
		Help: "Requests denied by the authorization gate, by code.",
	}, []string{"code"})

	registerOnce sync.Once
)

// Init registers every metric with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			TokensIssued, TokensRevoked, TokenRejections, IdentityResolutions, GateDenials,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight count, totals and latency per route template.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := routeLabel(r)
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// routeLabel uses the matched mux template so path parameters do not explode label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
