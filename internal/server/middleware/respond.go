package middleware

import (
	"encoding/json"
	"net/http"

	"command-center/backend/internal/logs"
)

// ErrorBody is the JSON error shape: a human message and a stable machine code.
type ErrorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// WriteJSON writes v as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logs.Logger.WithError(err).Warn("http: write response")
	}
}

// WriteError writes an ErrorBody with status.
func WriteError(w http.ResponseWriter, status int, detail, code string) {
	WriteJSON(w, status, ErrorBody{Detail: detail, Code: code})
}
