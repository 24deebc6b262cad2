package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"command-center/backend/internal/telemetry"
	"command-center/backend/internal/telemetry/domain"
)

type requestMetadata struct {
	Method     string `json:"method"`
	Route      string `json:"route"`
	Status     int    `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
	RequestID  string `json:"request_id"`
}

// Telemetry emits an http_request event after each request. Best-effort: emits are asynchronous and
// failures are logged. A nil emitter makes the middleware a pass-through.
func Telemetry(emitter telemetry.EventEmitter, skip func(path string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if emitter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			if skip != nil && skip(r.URL.Path) {
				return
			}
			meta, _ := json.Marshal(requestMetadata{
				Method:     r.Method,
				Route:      RouteTemplate(r),
				Status:     sw.code(),
				DurationMs: time.Since(start).Milliseconds(),
				ClientIP:   ClientIPFrom(r.Context()),
				RequestID:  RequestIDFrom(r.Context()),
			})
			ev := &domain.Event{
				EventType: domain.EventHTTPRequest,
				Source:    "http_middleware",
				Metadata:  meta,
				CreatedAt: time.Now().UTC(),
			}
			if id, ok := IdentityFrom(r.Context()); ok {
				ev.AccountID, ev.SessionID = id.AccountID, id.SessionID
			}
			telemetry.EmitAsync(emitter, r.Context(), ev)
		})
	}
}
