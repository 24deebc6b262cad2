package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"command-center/backend/internal/db"
	"command-center/backend/internal/session/domain"
)

const sessionColumns = `id, account_id, provider, token_hash, ip_address, user_agent, created_at, last_seen_at, expires_at, revoked_at`

// PostgresRepository stores login sessions in Postgres.
type PostgresRepository struct {
	q db.Querier
}

// NewPostgresRepository returns a session repository over q (a *sql.DB or *sql.Tx).
func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{q: q}
}

func (r *PostgresRepository) get(ctx context.Context, query string, arg string) (*domain.Session, error) {
	var s domain.Session
	var revokedAt sql.NullTime
	err := r.q.QueryRowContext(ctx, query, arg).Scan(
		&s.ID, &s.AccountID, &s.Provider, &s.TokenHash, &s.IPAddress, &s.UserAgent,
		&s.CreatedAt, &s.LastSeenAt, &s.ExpiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	return &s, nil
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.get(ctx, `SELECT `+sessionColumns+` FROM login_sessions WHERE id = $1`, id)
}

// GetByTokenHash returns the session whose cookie secret hashes to tokenHash, or nil.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	return r.get(ctx, `SELECT `+sessionColumns+` FROM login_sessions WHERE token_hash = $1`, tokenHash)
}

// Create persists the session. The session must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.q.ExecContext(ctx, `
INSERT INTO login_sessions (id, account_id, provider, token_hash, ip_address, user_agent, created_at, last_seen_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.AccountID, s.Provider, s.TokenHash, s.IPAddress, s.UserAgent, s.CreatedAt, s.LastSeenAt, s.ExpiresAt)
	return err
}

// Revoke sets revoked_at once; already revoked sessions keep their original timestamp.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `UPDATE login_sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	return err
}

// UpdateLastSeen stamps last activity.
func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `UPDATE login_sessions SET last_seen_at = $2 WHERE id = $1`, id, at)
	return err
}

// DeleteExpired removes sessions that expired before the cutoff.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM login_sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
