package middleware

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"command-center/backend/internal/audit"
	auditdomain "command-center/backend/internal/audit/domain"
	"command-center/backend/internal/logs"
	"command-center/backend/internal/obs"
	"command-center/backend/internal/platform/rbac"
	"command-center/backend/internal/policy/engine"
)

// CodeTabForbidden is returned when the policy denies the requested tab, company or warehouse.
const CodeTabForbidden = "tab_forbidden"

// ScopeDeps are the collaborators RequireScope needs.
type ScopeDeps struct {
	Checker  engine.ScopeChecker
	Profiles rbac.ProfileGetter
	Perms    rbac.PermissionsGetter
	Auditor  audit.AuditLogger // optional
}

// ScopeFromRequest reads the requested scope: tab from the route variable or query, company and
// warehouse from the query string.
func ScopeFromRequest(r *http.Request, tab string) rbac.Scope {
	q := r.URL.Query()
	if tab == "" {
		tab = mux.Vars(r)["tab"]
	}
	if tab == "" {
		tab = q.Get("tab")
	}
	return rbac.Scope{Tab: tab, Company: q.Get("company"), Warehouse: q.Get("warehouse")}
}

// RequireScope lets the request through only when the policy allows tab (narrowed by the company and
// warehouse query parameters) for the caller's profile. An empty tab is taken from the route or query;
// a request that names no tab is refused with tab_forbidden.
func RequireScope(tab string, deps ScopeDeps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				WriteError(w, http.StatusUnauthorized, "Authentication credentials were not provided.", "not_authenticated")
				return
			}
			p, ok := ProfileFrom(r.Context())
			if !ok {
				var err error
				p, err = rbac.RequireAuthorizedProfile(r.Context(), deps.Profiles, id.AccountID)
				if err != nil {
					DenyProfile(w, r, err, deps.Auditor)
					return
				}
			}
			scope := ScopeFromRequest(r, tab)
			err := rbac.RequireTab(r.Context(), deps.Checker, deps.Perms, p, scope)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), p)))
			case errors.Is(err, rbac.ErrTabForbidden):
				obs.GateDenials.WithLabelValues(CodeTabForbidden).Inc()
				if deps.Auditor != nil {
					deps.Auditor.LogEvent(r.Context(), id.AccountID, auditdomain.ActionAuthorizationDenied, scope.Tab,
						map[string]any{"code": CodeTabForbidden, "company": scope.Company, "warehouse": scope.Warehouse})
				}
				WriteError(w, http.StatusForbidden, "You do not have access to this tab.", CodeTabForbidden)
			default:
				logs.Logger.WithError(err).WithField("request_id", RequestIDFrom(r.Context())).Error("scope check failed")
				WriteError(w, http.StatusInternalServerError, "Internal server error.", "server_error")
			}
		})
	}
}
