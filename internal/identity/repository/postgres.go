package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"command-center/backend/internal/db"
	"command-center/backend/internal/identity/domain"
)

const identityColumns = `id, account_id, provider, subject, extra_data, created_at, updated_at`

// PostgresRepository stores external identities in Postgres.
type PostgresRepository struct {
	q db.Querier
}

// NewPostgresRepository returns an identity repository over q (a *sql.DB or *sql.Tx).
func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{q: q}
}

func scanIdentity(row interface{ Scan(...any) error }) (*domain.ExternalIdentity, error) {
	var i domain.ExternalIdentity
	var provider string
	var extra []byte
	if err := row.Scan(&i.ID, &i.AccountID, &provider, &i.Subject, &extra, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	i.Provider = domain.Provider(provider)
	i.ExtraData = json.RawMessage(extra)
	return &i, nil
}

// GetByProviderSubject returns the identity for (provider, subject), or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByProviderSubject(ctx context.Context, provider domain.Provider, subject string) (*domain.ExternalIdentity, error) {
	i, err := scanIdentity(r.q.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM external_identities WHERE provider = $1 AND subject = $2`, string(provider), subject))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return i, nil
}

// ListByAccount returns every identity linked to the account, oldest first.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.ExternalIdentity, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM external_identities WHERE account_id = $1 ORDER BY created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ExternalIdentity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// CreateIfAbsent inserts i. When another request linked the same (provider, subject) first,
// the existing row is returned with created=false.
func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, i *domain.ExternalIdentity) (*domain.ExternalIdentity, bool, error) {
	extra := []byte(i.ExtraData)
	if len(extra) == 0 {
		extra = []byte("{}")
	}
	created, err := scanIdentity(r.q.QueryRowContext(ctx, `
INSERT INTO external_identities (id, account_id, provider, subject, extra_data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (provider, subject) DO NOTHING
RETURNING `+identityColumns,
		i.ID, i.AccountID, string(i.Provider), i.Subject, extra, i.CreatedAt, i.UpdatedAt))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	existing, err := r.GetByProviderSubject(ctx, i.Provider, i.Subject)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("external identity vanished after conflict")
	}
	return existing, false, nil
}

// UpdateExtraData replaces the stored provider claims.
func (r *PostgresRepository) UpdateExtraData(ctx context.Context, id string, extra json.RawMessage) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE external_identities SET extra_data = $2, updated_at = $3 WHERE id = $1`, id, []byte(extra), time.Now().UTC())
	return err
}
