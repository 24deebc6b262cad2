package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"command-center/backend/internal/logs"
)

// Recoverer turns a handler panic into a logged 500.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logs.Logger.WithFields(logrus.Fields{
					"request_id": RequestIDFrom(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
				}).Errorf("panic: %v\n%s", rec, debug.Stack())
				WriteError(w, http.StatusInternalServerError, "Internal server error.", "server_error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
