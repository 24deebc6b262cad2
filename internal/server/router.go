// Package server assembles the HTTP router and the middleware pipeline.
package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	accesshandler "command-center/backend/internal/access/handler"
	"command-center/backend/internal/audit"
	healthhandler "command-center/backend/internal/health/handler"
	identityhandler "command-center/backend/internal/identity/handler"
	"command-center/backend/internal/obs"
	"command-center/backend/internal/platform/rbac"
	"command-center/backend/internal/policy/engine"
	"command-center/backend/internal/server/middleware"
	"command-center/backend/internal/telemetry"
	"command-center/backend/internal/transport"
)

// Deps holds the handlers and collaborators the pipeline needs. Auditor, Emitter and LoginLimiter may be nil.
type Deps struct {
	Identity *identityhandler.Handler
	Access   *accesshandler.Handler
	Health   *healthhandler.Server

	Tokens     middleware.AccessValidator
	Sessions   middleware.SessionFinder
	Reconciler *transport.Reconciler
	Profiles   rbac.ProfileGetter
	Perms      rbac.PermissionsGetter
	Checker    engine.ScopeChecker
	Exemptions middleware.Exemptions

	Auditor      audit.AuditLogger
	Emitter      telemetry.EventEmitter
	LoginLimiter *middleware.RateLimiter
}

// Server is the assembled HTTP surface.
type Server struct {
	router  *mux.Router
	handler http.Handler
	scope   middleware.ScopeDeps
}

// paths audited by their handlers or not worth an audit row.
var unaudited = []string{"/auth/logout", "/auth/token", "/login/", "/healthz", "/readyz", "/metrics"}

func skipAudit(path string) bool {
	for _, p := range unaudited {
		if path == p || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func skipTelemetry(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// New builds the router and wraps it in the pipeline:
// request id, logging, recovery, transport, authentication and the gate run for every request;
// metrics, tracing, audit and telemetry run inside the router so they see the matched route template.
func New(d Deps) *Server {
	r := mux.NewRouter()
	r.Use(obs.Instrument, middleware.Tracing, middleware.Audit(d.Auditor, skipAudit), middleware.Telemetry(d.Emitter, skipTelemetry))

	var throttle func(http.Handler) http.Handler
	if d.LoginLimiter != nil {
		throttle = d.LoginLimiter.Limit
	}
	if d.Identity != nil {
		d.Identity.Register(r, throttle)
	}
	if d.Access != nil {
		d.Access.Register(r)
	}
	if d.Health != nil {
		d.Health.Register(r)
	}
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found.", "not_found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed.", "method_not_allowed")
	})

	var h http.Handler = r
	h = middleware.Gate(d.Profiles, d.Exemptions, d.Auditor)(h)
	h = middleware.Authenticate(d.Tokens, d.Sessions, d.Reconciler)(h)
	h = d.Reconciler.Middleware(h)
	h = middleware.Recoverer(h)
	h = middleware.Logging(h)
	h = middleware.RequestID(h)

	return &Server{
		router:  r,
		handler: h,
		scope:   middleware.ScopeDeps{Checker: d.Checker, Profiles: d.Profiles, Perms: d.Perms, Auditor: d.Auditor},
	}
}

// Handler returns the root handler to serve.
func (s *Server) Handler() http.Handler { return s.handler }

// Router exposes the router for mounting additional endpoints.
func (s *Server) Router() *mux.Router { return s.router }

// HandleScoped mounts h at path behind a policy check for tab. An empty tab is read from the
// {tab} route variable or the tab query parameter, and a request naming none is refused.
func (s *Server) HandleScoped(path, tab string, h http.Handler) *mux.Route {
	return s.router.Handle(path, middleware.RequireScope(tab, s.scope)(h))
}
