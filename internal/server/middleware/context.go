// Package middleware holds the net/http pipeline run before every handler.
package middleware

import (
	"context"

	accessdomain "command-center/backend/internal/access/domain"
)

type contextKey struct{ name string }

var (
	identityKey    = contextKey{"identity"}
	profileKey     = contextKey{"profile"}
	requestIDKey   = contextKey{"request_id"}
	clientIPKey    = contextKey{"client_ip"}
	authFailureKey = contextKey{"auth_failure"}
)

// How a request was authenticated.
const (
	ViaBearer  = "bearer"
	ViaSession = "session"
)

// Identity is the authenticated caller. JTI is set only for bearer requests.
type Identity struct {
	AccountID string
	SessionID string
	JTI       string
	Email     string
	Name      string
	Via       string
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the authenticated identity and true if set; otherwise nil, false.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil && id.AccountID != ""
}

// WithProfile returns a context carrying the authorized access profile.
func WithProfile(ctx context.Context, p *accessdomain.AccessProfile) context.Context {
	return context.WithValue(ctx, profileKey, p)
}

// ProfileFrom returns the profile stored by the gate.
func ProfileFrom(ctx context.Context) (*accessdomain.AccessProfile, bool) {
	p, ok := ctx.Value(profileKey).(*accessdomain.AccessProfile)
	return p, ok && p != nil
}

// RequestIDFrom returns the request id, or "".
func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ClientIPFrom returns the client IP stored by RequestID, or "unknown".
func ClientIPFrom(ctx context.Context) string {
	if v, _ := ctx.Value(clientIPKey).(string); v != "" {
		return v
	}
	return "unknown"
}

// AuthFailed reports whether the request presented a credential that was rejected.
func AuthFailed(ctx context.Context) bool {
	v, _ := ctx.Value(authFailureKey).(bool)
	return v
}
