package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"command-center/backend/internal/logs"
	"command-center/backend/internal/server/middleware"
)

// Pinger checks database connectivity. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the policy engine can evaluate.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server answers liveness and readiness probes for Kubernetes and load balancers.
type Server struct {
	pinger  Pinger
	policy  PolicyChecker
	timeout time.Duration
}

// NewServer returns a health Server. Either dependency may be nil to skip that check.
func NewServer(pinger Pinger, policy PolicyChecker) *Server {
	return &Server{pinger: pinger, policy: policy, timeout: 2 * time.Second}
}

// Register mounts /healthz and /readyz on r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/healthz", s.Live).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", s.Ready).Methods(http.MethodGet, http.MethodHead)
}

// Live always reports ok while the process serves requests.
func (s *Server) Live(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports 503 when the database or the policy engine is unavailable.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	checks := map[string]string{}
	ready := true
	if s.pinger != nil {
		checks["database"] = "ok"
		if err := s.pinger.PingContext(ctx); err != nil {
			logs.Logger.WithError(err).Warn("readiness: database ping failed")
			checks["database"] = "unavailable"
			ready = false
		}
	}
	if s.policy != nil {
		checks["policy"] = "ok"
		if err := s.policy.HealthCheck(ctx); err != nil {
			logs.Logger.WithError(err).Warn("readiness: policy check failed")
			checks["policy"] = "unavailable"
			ready = false
		}
	}
	status, code := "ok", http.StatusOK
	if !ready {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, code, map[string]any{"status": status, "checks": checks})
}
