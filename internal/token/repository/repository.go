package repository

import (
	"context"
	"time"

	"command-center/backend/internal/token/domain"
)

// Repository defines persistence for issued tokens and the revocation set.
type Repository interface {
	RecordIssued(ctx context.Context, tokens ...*domain.IssuedToken) error
	// Revoke adds r to the revocation set. It reports whether this call inserted the jti;
	// false means it was already revoked. Exactly one of several concurrent callers gets true.
	Revoke(ctx context.Context, r *domain.Revocation) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// RevokeBySession revokes every unexpired token issued under sessionID and returns the newly revoked jtis.
	RevokeBySession(ctx context.Context, sessionID, reason string, at time.Time) ([]*domain.Revocation, error)
	// RevokeRecentByAccount revokes unexpired tokens for the account issued at or after since.
	RevokeRecentByAccount(ctx context.Context, accountID string, since time.Time, reason string, at time.Time) ([]*domain.Revocation, error)
	// PruneExpired deletes issued and revoked rows that expired before the cutoff.
	PruneExpired(ctx context.Context, before time.Time) (int64, error)
}
