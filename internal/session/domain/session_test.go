package domain

import (
	"testing"
	"time"

	"command-center/backend/internal/security"
)

func TestNew(t *testing.T) {
	now := time.Now().UTC()
	s, secret, err := New("acc-1", "google-oauth2", "10.0.0.1", "ua", time.Hour, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.ID == "" || secret == "" {
		t.Fatal("id and secret must be set")
	}
	if !security.TokenHashEqual(secret, s.TokenHash) {
		t.Error("stored hash does not match the cookie secret")
	}
	if s.TokenHash == secret {
		t.Error("raw secret must not be stored")
	}
	if !s.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", s.ExpiresAt)
	}
}

func TestSession_Active(t *testing.T) {
	now := time.Now().UTC()
	revoked := now.Add(-time.Minute)
	tests := []struct {
		name string
		s    *Session
		want bool
	}{
		{"nil", nil, false},
		{"live", &Session{ExpiresAt: now.Add(time.Hour)}, true},
		{"expired", &Session{ExpiresAt: now.Add(-time.Second)}, false},
		{"revoked", &Session{ExpiresAt: now.Add(time.Hour), RevokedAt: &revoked}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Active(now); got != tt.want {
				t.Errorf("Active = %v, want %v", got, tt.want)
			}
		})
	}
}
