package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"command-center/backend/internal/db"
	"command-center/backend/internal/token/domain"
)

// PostgresRepository stores token bookkeeping in Postgres.
type PostgresRepository struct {
	q db.Querier
}

// NewPostgresRepository returns a token repository over q.
func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{q: q}
}

// RecordIssued inserts one row per token.
func (r *PostgresRepository) RecordIssued(ctx context.Context, tokens ...*domain.IssuedToken) error {
	for _, t := range tokens {
		_, err := r.q.ExecContext(ctx, `
INSERT INTO issued_tokens (jti, account_id, session_id, kind, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
			t.JTI, t.AccountID, db.NullString(t.SessionID), string(t.Kind), t.IssuedAt, t.ExpiresAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// Revoke inserts the jti with ON CONFLICT DO NOTHING; the affected row count decides the winner.
func (r *PostgresRepository) Revoke(ctx context.Context, rev *domain.Revocation) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
INSERT INTO revoked_tokens (jti, account_id, reason, revoked_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (jti) DO NOTHING`,
		rev.JTI, rev.AccountID, rev.Reason, rev.RevokedAt, rev.ExpiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IsRevoked reports whether jti is in the revocation set.
func (r *PostgresRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx, `SELECT 1 FROM revoked_tokens WHERE jti = $1`, jti).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *PostgresRepository) revokeSelect(ctx context.Context, query string, args ...any) ([]*domain.Revocation, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Revocation
	for rows.Next() {
		var rev domain.Revocation
		if err := rows.Scan(&rev.JTI, &rev.AccountID, &rev.Reason, &rev.RevokedAt, &rev.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, &rev)
	}
	return out, rows.Err()
}

// RevokeBySession copies the session's unexpired tokens into the revocation set in one statement.
func (r *PostgresRepository) RevokeBySession(ctx context.Context, sessionID, reason string, at time.Time) ([]*domain.Revocation, error) {
	return r.revokeSelect(ctx, `
INSERT INTO revoked_tokens (jti, account_id, reason, revoked_at, expires_at)
SELECT jti, account_id, $2, $3, expires_at FROM issued_tokens
WHERE session_id = $1 AND expires_at > $3
ON CONFLICT (jti) DO NOTHING
RETURNING jti, account_id, reason, revoked_at, expires_at`, sessionID, reason, at)
}

// RevokeRecentByAccount is bounded by issued_at so it never scans or revokes older tokens.
func (r *PostgresRepository) RevokeRecentByAccount(ctx context.Context, accountID string, since time.Time, reason string, at time.Time) ([]*domain.Revocation, error) {
	return r.revokeSelect(ctx, `
INSERT INTO revoked_tokens (jti, account_id, reason, revoked_at, expires_at)
SELECT jti, account_id, $3, $4, expires_at FROM issued_tokens
WHERE account_id = $1 AND issued_at >= $2 AND expires_at > $4
ON CONFLICT (jti) DO NOTHING
RETURNING jti, account_id, reason, revoked_at, expires_at`, accountID, since, reason, at)
}

// PruneExpired removes rows whose tokens can no longer validate anyway.
func (r *PostgresRepository) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM revoked_tokens WHERE expires_at < $1`,
		`DELETE FROM issued_tokens WHERE expires_at < $1`,
	} {
		res, err := r.q.ExecContext(ctx, q, before)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
