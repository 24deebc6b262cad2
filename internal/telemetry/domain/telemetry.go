package domain

import "time"

// Event types emitted by the HTTP pipeline and the auth flows.
const (
	EventHTTPRequest      = "http_request"
	EventLogin            = "login"
	EventIdentitySwitched = "identity_switched"
	EventTokenRotated     = "token_rotated"
	EventLogout           = "logout"
)

// Event is a telemetry event, optionally scoped to an account and login session.
type Event struct {
	AccountID string
	SessionID string
	EventType string
	Source    string
	Metadata  []byte // JSON
	CreatedAt time.Time
}
