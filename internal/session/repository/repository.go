package repository

import (
	"context"
	"time"

	"command-center/backend/internal/session/domain"
)

// Repository defines persistence for login sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// Revoke marks one session revoked. It touches no other session of the account.
	Revoke(ctx context.Context, id string, at time.Time) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
