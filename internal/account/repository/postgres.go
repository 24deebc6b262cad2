package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"command-center/backend/internal/account/domain"
	"command-center/backend/internal/db"
)

const accountColumns = `id, username, coalesce(email, ''), first_name, last_name, created_at, updated_at, last_login_at`

// PostgresRepository stores accounts in Postgres.
type PostgresRepository struct {
	q db.Querier
}

// NewPostgresRepository returns an account repository over q (a *sql.DB or *sql.Tx).
func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{q: q}
}

func scanAccount(row interface{ Scan(...any) error }) (*domain.Account, error) {
	var a domain.Account
	var lastLogin sql.NullTime
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.FirstName, &a.LastName, &a.CreatedAt, &a.UpdatedAt, &lastLogin); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLoginAt = &t
	}
	return &a, nil
}

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	a, err := scanAccount(r.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// GetByUsername returns the account with the given username, or nil if not found.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	a, err := scanAccount(r.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// CreateIfAbsent inserts a with ON CONFLICT DO NOTHING and falls back to the existing row.
// A conflict on the email index (a different username already owns the email) resolves to that owner.
func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, a *domain.Account) (*domain.Account, bool, error) {
	if err := a.Validate(); err != nil {
		return nil, false, err
	}
	created, err := scanAccount(r.q.QueryRowContext(ctx, `
INSERT INTO accounts (id, username, email, first_name, last_name, created_at, updated_at, last_login_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT DO NOTHING
RETURNING `+accountColumns,
		a.ID, a.Username, db.NullString(a.Email), a.FirstName, a.LastName, a.CreatedAt, a.UpdatedAt, a.LastLoginAt))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	existing, err := scanAccount(r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = $1 OR ($2 <> '' AND lower(email) = $2) ORDER BY created_at LIMIT 1`,
		a.Username, a.Email))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpdateProfile sets names (when non-empty) and last_login_at.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, id, firstName, lastName string, loginAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `
UPDATE accounts
SET first_name = CASE WHEN $2 <> '' THEN $2 ELSE first_name END,
    last_name = CASE WHEN $3 <> '' THEN $3 ELSE last_name END,
    last_login_at = $4,
    updated_at = $4
WHERE id = $1`, id, firstName, lastName, loginAt)
	return err
}
