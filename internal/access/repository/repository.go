package repository

import (
	"context"
	"time"

	"command-center/backend/internal/access/domain"
)

// Repository defines persistence for access profiles and their grants.
type Repository interface {
	GetByAccount(ctx context.Context, accountID string) (*domain.AccessProfile, error)
	GetOrphanByEmail(ctx context.Context, email string) (*domain.AccessProfile, error)
	// Create inserts a new profile. A second orphan for the same email returns domain.ErrDuplicateOrphanProfile.
	Create(ctx context.Context, p *domain.AccessProfile) error
	// AttachOrphan binds at most one orphan profile with the normalized email to accountID in a single
	// statement. It returns nil when no orphan matched.
	AttachOrphan(ctx context.Context, email, accountID string, at time.Time) (*domain.AccessProfile, error)
	SetAuthorized(ctx context.Context, profileID string, authorized bool) error
	Grant(ctx context.Context, profileID string, g domain.Grants) error
	Permissions(ctx context.Context, profileID string) (*domain.Permissions, error)
}

// CatalogRepository defines persistence for companies, warehouses and tabs.
type CatalogRepository interface {
	UpsertCompany(ctx context.Context, c *domain.Company) (*domain.Company, error)
	UpsertWarehouse(ctx context.Context, w *domain.Warehouse) (*domain.Warehouse, error)
	UpsertTab(ctx context.Context, t *domain.Tab) (*domain.Tab, error)
	GetTabByIDName(ctx context.Context, idName string) (*domain.Tab, error)
}
