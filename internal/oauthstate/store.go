// Package oauthstate keeps in-flight OAuth2 authorization requests between the login redirect and the provider callback.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// Pending is what the callback needs to finish a login started with a given state.
type Pending struct {
	Provider string
	Verifier string // PKCE code verifier
}

// Store holds pending logins keyed by the opaque state parameter.
type Store interface {
	// Put stores p under state until expiresAt.
	Put(ctx context.Context, state string, p Pending, expiresAt time.Time)
	// Take returns and removes the pending login for state. Returns ok false if missing or expired.
	// A state can be taken at most once.
	Take(ctx context.Context, state string) (p Pending, ok bool)
}

type entry struct {
	pending   Pending
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation. States do not survive a restart and are not
// shared between replicas; logins in flight during a deploy have to start over.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores p for state until expiresAt. Expired entries are swept on each Put.
func (s *MemoryStore) Put(ctx context.Context, state string, p Pending, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	for k, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, k)
		}
	}
	s.m[state] = entry{pending: p, expiresAt: expiresAt}
}

// Take returns the pending login for state if present and not expired, and deletes it either way.
func (s *MemoryStore) Take(ctx context.Context, state string) (Pending, bool) {
	s.mu.Lock()
	e, ok := s.m[state]
	delete(s.m, state)
	s.mu.Unlock()
	if !ok || !e.expiresAt.After(s.nowF()) {
		return Pending{}, false
	}
	return e.pending, true
}

// Len returns the number of stored states, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// NewState returns a random URL-safe state value.
func NewState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
