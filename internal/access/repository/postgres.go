package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"command-center/backend/internal/access/domain"
	"command-center/backend/internal/db"
)

const profileColumns = `id, account_id, email, is_authorized, created_at, updated_at`

// PostgresRepository stores access profiles and the catalog in Postgres.
type PostgresRepository struct {
	q db.Querier
}

// NewPostgresRepository returns an access repository over q (a *sql.DB or *sql.Tx).
func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{q: q}
}

func scanProfile(row interface{ Scan(...any) error }) (*domain.AccessProfile, error) {
	var p domain.AccessProfile
	var accountID, email sql.NullString
	if err := row.Scan(&p.ID, &accountID, &email, &p.IsAuthorized, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.AccountID = accountID.String
	p.Email = email.String
	return &p, nil
}

func (r *PostgresRepository) getProfile(ctx context.Context, query string, args ...any) (*domain.AccessProfile, error) {
	p, err := scanProfile(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// GetByAccount returns the account's profile, or nil if it has none.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByAccount(ctx context.Context, accountID string) (*domain.AccessProfile, error) {
	return r.getProfile(ctx, `SELECT `+profileColumns+` FROM access_profiles WHERE account_id = $1`, accountID)
}

// GetOrphanByEmail returns the unlinked profile for the email (any casing), or nil.
func (r *PostgresRepository) GetOrphanByEmail(ctx context.Context, email string) (*domain.AccessProfile, error) {
	return r.getProfile(ctx,
		`SELECT `+profileColumns+` FROM access_profiles WHERE account_id IS NULL AND lower(email) = $1`,
		domain.NormalizeEmail(email))
}

// Create inserts p after validating the creation rule. Unique violations map to domain errors.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.AccessProfile) error {
	if err := p.ValidateNew(); err != nil {
		return err
	}
	_, err := r.q.ExecContext(ctx, `
INSERT INTO access_profiles (id, account_id, email, is_authorized, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, db.NullString(p.AccountID), db.NullString(p.Email), p.IsAuthorized, p.CreatedAt, p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		if p.IsOrphan() {
			return domain.ErrDuplicateOrphanProfile
		}
		return domain.ErrProfileExists
	}
	return err
}

// AttachOrphan locks the oldest matching orphan and binds it to accountID. A concurrent
// attach or admin edit on the same row makes this call wait for it rather than skip it.
func (r *PostgresRepository) AttachOrphan(ctx context.Context, email, accountID string, at time.Time) (*domain.AccessProfile, error) {
	p, err := r.getProfile(ctx, `
UPDATE access_profiles SET account_id = $1, updated_at = $3
WHERE id = (
    SELECT id FROM access_profiles
    WHERE account_id IS NULL AND lower(email) = $2
    ORDER BY created_at
    LIMIT 1
    FOR UPDATE
)
RETURNING `+profileColumns, accountID, domain.NormalizeEmail(email), at)
	if db.IsUniqueViolation(err) {
		return nil, domain.ErrProfileExists
	}
	return p, err
}

// SetAuthorized flips is_authorized.
func (r *PostgresRepository) SetAuthorized(ctx context.Context, profileID string, authorized bool) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE access_profiles SET is_authorized = $2, updated_at = $3 WHERE id = $1`,
		profileID, authorized, time.Now().UTC())
	return err
}

// Grant adds catalog entries to the profile; existing grants are left as they are.
func (r *PostgresRepository) Grant(ctx context.Context, profileID string, g domain.Grants) error {
	for _, id := range g.CompanyIDs {
		if _, err := r.q.ExecContext(ctx,
			`INSERT INTO access_profile_companies (profile_id, company_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, profileID, id); err != nil {
			return err
		}
	}
	for _, id := range g.WarehouseIDs {
		if _, err := r.q.ExecContext(ctx,
			`INSERT INTO access_profile_warehouses (profile_id, warehouse_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, profileID, id); err != nil {
			return err
		}
	}
	for _, id := range g.TabIDs {
		if _, err := r.q.ExecContext(ctx,
			`INSERT INTO access_profile_tabs (profile_id, tab_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, profileID, id); err != nil {
			return err
		}
	}
	return nil
}

// Permissions loads the allowed companies, warehouses and tabs, each ordered by name.
func (r *PostgresRepository) Permissions(ctx context.Context, profileID string) (*domain.Permissions, error) {
	var perms domain.Permissions

	rows, err := r.q.QueryContext(ctx, `
SELECT c.id, c.name FROM companies c
JOIN access_profile_companies pc ON pc.company_id = c.id
WHERE pc.profile_id = $1 ORDER BY c.name`, profileID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var c domain.Company
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			rows.Close()
			return nil, err
		}
		perms.Companies = append(perms.Companies, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.q.QueryContext(ctx, `
SELECT w.id, w.name, w.company_id FROM warehouses w
JOIN access_profile_warehouses pw ON pw.warehouse_id = w.id
WHERE pw.profile_id = $1 ORDER BY w.name`, profileID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var w domain.Warehouse
		if err := rows.Scan(&w.ID, &w.Name, &w.CompanyID); err != nil {
			rows.Close()
			return nil, err
		}
		perms.Warehouses = append(perms.Warehouses, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.q.QueryContext(ctx, `
SELECT t.id, t.id_name, t.display_name FROM tabs t
JOIN access_profile_tabs pt ON pt.tab_id = t.id
WHERE pt.profile_id = $1 ORDER BY t.display_name`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.Tab
		if err := rows.Scan(&t.ID, &t.IDName, &t.DisplayName); err != nil {
			return nil, err
		}
		perms.Tabs = append(perms.Tabs, t)
	}
	return &perms, rows.Err()
}

// UpsertCompany inserts the company or returns the existing row with the same name.
func (r *PostgresRepository) UpsertCompany(ctx context.Context, c *domain.Company) (*domain.Company, error) {
	var out domain.Company
	err := r.q.QueryRowContext(ctx, `
INSERT INTO companies (id, name) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name`, c.ID, c.Name).Scan(&out.ID, &out.Name)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpsertWarehouse inserts the warehouse or returns the existing row with the same company and name.
func (r *PostgresRepository) UpsertWarehouse(ctx context.Context, w *domain.Warehouse) (*domain.Warehouse, error) {
	var out domain.Warehouse
	err := r.q.QueryRowContext(ctx, `
INSERT INTO warehouses (id, name, company_id) VALUES ($1, $2, $3)
ON CONFLICT (company_id, name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name, company_id`, w.ID, w.Name, w.CompanyID).Scan(&out.ID, &out.Name, &out.CompanyID)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpsertTab inserts the tab or updates the display name of the existing one.
func (r *PostgresRepository) UpsertTab(ctx context.Context, t *domain.Tab) (*domain.Tab, error) {
	var out domain.Tab
	err := r.q.QueryRowContext(ctx, `
INSERT INTO tabs (id, id_name, display_name) VALUES ($1, $2, $3)
ON CONFLICT (id_name) DO UPDATE SET display_name = EXCLUDED.display_name
RETURNING id, id_name, display_name`, t.ID, t.IDName, t.DisplayName).Scan(&out.ID, &out.IDName, &out.DisplayName)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTabByIDName returns the tab with the given key, or nil.
func (r *PostgresRepository) GetTabByIDName(ctx context.Context, idName string) (*domain.Tab, error) {
	var t domain.Tab
	err := r.q.QueryRowContext(ctx, `SELECT id, id_name, display_name FROM tabs WHERE id_name = $1`, idName).
		Scan(&t.ID, &t.IDName, &t.DisplayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
