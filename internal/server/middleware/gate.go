package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	accessdomain "command-center/backend/internal/access/domain"
	"command-center/backend/internal/audit"
	auditdomain "command-center/backend/internal/audit/domain"
	"command-center/backend/internal/config"
	"command-center/backend/internal/logs"
	"command-center/backend/internal/obs"
	"command-center/backend/internal/platform/rbac"
)

// Gate denial bodies.
const (
	DetailProfileNotFound = "User profile not found. Authorization pending."
	DetailNotAuthorized   = "User is not authorized to access this application."
	CodeProfileNotFound   = "profile_not_found"
	CodeNotAuthorized     = "not_authorized"
)

// Exemptions are the paths the gate lets through for authenticated callers without a profile check.
type Exemptions struct {
	Exact    []string
	Prefixes []string
}

// ExemptionsFromConfig reads GATE_EXEMPT_PATHS and GATE_EXEMPT_PREFIXES.
func ExemptionsFromConfig(cfg *config.Config) Exemptions {
	return Exemptions{
		Exact:    config.SplitList(cfg.GateExemptPaths),
		Prefixes: config.SplitList(cfg.GateExemptPrefixes),
	}
}

// Exempt reports whether path matches an exact entry or starts with a prefix entry.
func (e Exemptions) Exempt(path string) bool {
	for _, p := range e.Exact {
		if path == p {
			return true
		}
	}
	for _, p := range e.Prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Gate enforces that an authenticated caller has an authorized access profile before any handler runs:
//  1. unauthenticated requests pass (handlers decide);
//  2. exempt paths pass;
//  3. no profile is 403 profile_not_found;
//  4. an unauthorized profile is 403 not_authorized;
//  5. otherwise the profile is stored in the context and the request passes.
//
// auditor may be nil.
func Gate(profiles rbac.ProfileGetter, ex Exemptions, auditor audit.AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok || ex.Exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			p, err := rbac.RequireAuthorizedProfile(r.Context(), profiles, id.AccountID)
			if err != nil {
				DenyProfile(w, r, err, auditor)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), p)))
		})
	}
}

// DenyProfile writes the response for a RequireAuthorizedProfile failure.
func DenyProfile(w http.ResponseWriter, r *http.Request, err error, auditor audit.AuditLogger) {
	var accountID string
	if id, ok := IdentityFrom(r.Context()); ok {
		accountID = id.AccountID
	}
	var detail, code string
	switch {
	case errors.Is(err, accessdomain.ErrProfileNotFound):
		detail, code = DetailProfileNotFound, CodeProfileNotFound
	case errors.Is(err, accessdomain.ErrNotAuthorized):
		detail, code = DetailNotAuthorized, CodeNotAuthorized
	case errors.Is(err, rbac.ErrUnauthenticated):
		WriteError(w, http.StatusUnauthorized, "Authentication credentials were not provided.", "not_authenticated")
		return
	default:
		logs.Logger.WithError(err).WithFields(logrus.Fields{
			"request_id": RequestIDFrom(r.Context()),
			"account_id": accountID,
		}).Error("gate: profile lookup failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error.", "server_error")
		return
	}
	obs.GateDenials.WithLabelValues(code).Inc()
	if auditor != nil {
		auditor.LogEvent(r.Context(), accountID, auditdomain.ActionAuthorizationDenied, r.URL.Path, map[string]any{"code": code})
	}
	WriteError(w, http.StatusForbidden, detail, code)
}
