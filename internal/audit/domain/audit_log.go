package domain

import "time"

// Audit actions written by the auth flows.
const (
	ActionLoginSuccess        = "login_success"
	ActionLoginFailure        = "login_failure"
	ActionIdentitySwitched    = "identity_switched"
	ActionTokenIssued         = "token_issued"
	ActionTokenRefreshed      = "token_refreshed"
	ActionTokenRefreshReject  = "token_refresh_rejected"
	ActionLogout              = "logout"
	ActionAuthorizationDenied = "authorization_denied"
)

// AuditLog represents an audit event. AccountID is empty for events without a known account.
type AuditLog struct {
	ID        string
	AccountID string
	Action    string
	Resource  string
	IP        string
	Metadata  string // JSON object or empty
	CreatedAt time.Time
}
