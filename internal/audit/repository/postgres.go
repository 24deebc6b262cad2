package repository

import (
	"context"
	"database/sql"

	"command-center/backend/internal/audit/domain"
	"command-center/backend/internal/db"
)

type PostgresRepository struct {
	q db.Querier
}

// NewPostgresRepository returns an audit log repository over q.
func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{q: q}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	var meta any
	if a.Metadata != "" {
		meta = a.Metadata
	}
	_, err := r.q.ExecContext(ctx, `
INSERT INTO audit_logs (id, account_id, action, resource, ip, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, db.NullString(a.AccountID), a.Action, a.Resource, a.IP, meta, a.CreatedAt)
	return err
}

// ListByAccount returns the account's audit logs, newest first, paginated by limit and offset.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT id, account_id, action, resource, ip, metadata, created_at FROM audit_logs
WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		var account, meta sql.NullString
		if err := rows.Scan(&a.ID, &account, &a.Action, &a.Resource, &a.IP, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.AccountID = account.String
		a.Metadata = meta.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
