package middleware

import (
	"net/http"

	"command-center/backend/internal/audit"
)

// Audit records one audit entry after each authenticated request whose path skip does not match.
// Action and resource come from the matched route template.
func Audit(auditor audit.AuditLogger, skip func(path string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			if auditor == nil || (skip != nil && skip(r.URL.Path)) {
				return
			}
			id, ok := IdentityFrom(r.Context())
			if !ok {
				return
			}
			ar := audit.ParseRoute(r.Method, RouteTemplate(r))
			auditor.LogEvent(r.Context(), id.AccountID, ar.Action, ar.Resource, map[string]any{
				"status":     sw.code(),
				"via":        id.Via,
				"request_id": RequestIDFrom(r.Context()),
			})
		})
	}
}
