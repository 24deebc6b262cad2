package domain

import (
	"errors"
	"time"
)

// ErrTokenInvalid is the only token failure callers see: malformed, wrong kind, expired and revoked all map to it.
var ErrTokenInvalid = errors.New("token is invalid or expired")

// Kind distinguishes access from refresh tokens; carried in the token_type claim.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Rejection reasons, in validation order. Used for logs and metrics only.
const (
	ReasonMalformed = "malformed"
	ReasonWrongKind = "wrong_kind"
	ReasonExpired   = "expired"
	ReasonRevoked   = "revoked"
)

// Revocation reasons.
const (
	RevokedRotated = "rotated"
	RevokedLogout  = "logout"
	RevokedSession = "session"
	RevokedRecent  = "recent_window"
)

// InvalidTokenError carries the internal rejection reason. errors.Is(err, ErrTokenInvalid) holds for it.
type InvalidTokenError struct {
	Reason string
}

func (e *InvalidTokenError) Error() string { return ErrTokenInvalid.Error() + ": " + e.Reason }

func (e *InvalidTokenError) Is(target error) bool { return target == ErrTokenInvalid }

// Invalid returns an InvalidTokenError for reason.
func Invalid(reason string) error { return &InvalidTokenError{Reason: reason} }

// RejectionReason extracts the internal reason from err, or "" if err is not a token rejection.
func RejectionReason(err error) string {
	var ite *InvalidTokenError
	if errors.As(err, &ite) {
		return ite.Reason
	}
	return ""
}

// IssuedToken is the bookkeeping row for a signed token. It is never mutated after creation.
type IssuedToken struct {
	JTI       string
	AccountID string
	SessionID string // empty when issued outside a login session
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Revocation is a RevocationSet entry.
type Revocation struct {
	JTI       string
	AccountID string
	Reason    string
	RevokedAt time.Time
	ExpiresAt time.Time
}

// Subject is who a token pair is issued to.
type Subject struct {
	AccountID string
	SessionID string
	Email     string
	Name      string
}

// Pair is an issued access/refresh pair.
type Pair struct {
	Access           string
	Refresh          string
	AccessJTI        string
	RefreshJTI       string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Claims are the validated claims of a token.
type Claims struct {
	AccountID string
	JTI       string
	Kind      Kind
	SessionID string
	Email     string
	Name      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
