package domain

import (
	"time"

	"github.com/google/uuid"

	"command-center/backend/internal/security"
)

// Session is the cookie-backed local identity context created at login. Its ID is carried
// in every token issued during the login as the sid claim; the cookie carries a separate
// random secret whose hash is stored.
type Session struct {
	ID         string
	AccountID  string
	Provider   string
	TokenHash  string
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time // nil when not revoked
}

// Active reports whether the session can still authenticate at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// New builds a session for accountID and returns it with the raw cookie secret.
func New(accountID, provider, ip, userAgent string, ttl time.Duration, now time.Time) (*Session, string, error) {
	secret, err := security.NewOpaqueToken()
	if err != nil {
		return nil, "", err
	}
	return &Session{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Provider:   provider,
		TokenHash:  security.HashToken(secret),
		IPAddress:  ip,
		UserAgent:  userAgent,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(ttl),
	}, secret, nil
}
