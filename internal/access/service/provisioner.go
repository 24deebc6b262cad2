package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"command-center/backend/internal/access/domain"
	"command-center/backend/internal/access/repository"
)

// Provisioner creates access profiles ahead of first login and manages their grants.
type Provisioner struct {
	profiles repository.Repository
	catalog  repository.CatalogRepository
}

// NewProvisioner returns a Provisioner.
func NewProvisioner(profiles repository.Repository, catalog repository.CatalogRepository) *Provisioner {
	return &Provisioner{profiles: profiles, catalog: catalog}
}

// Preprovision creates an orphan profile for email and applies grants.
// A duplicate orphan in any casing returns domain.ErrDuplicateOrphanProfile.
func (p *Provisioner) Preprovision(ctx context.Context, email string, authorized bool, g domain.Grants) (*domain.AccessProfile, error) {
	profile, err := domain.NewOrphanProfile(uuid.New().String(), email, authorized, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := p.profiles.Create(ctx, profile); err != nil {
		return nil, err
	}
	if err := p.profiles.Grant(ctx, profile.ID, g); err != nil {
		return nil, fmt.Errorf("grant: %w", err)
	}
	return profile, nil
}

// EnsureCompany returns the company named name, creating it if needed.
func (p *Provisioner) EnsureCompany(ctx context.Context, name string) (*domain.Company, error) {
	return p.catalog.UpsertCompany(ctx, &domain.Company{ID: uuid.New().String(), Name: name})
}

// EnsureWarehouse returns the warehouse named name under companyID, creating it if needed.
func (p *Provisioner) EnsureWarehouse(ctx context.Context, companyID, name string) (*domain.Warehouse, error) {
	return p.catalog.UpsertWarehouse(ctx, &domain.Warehouse{ID: uuid.New().String(), Name: name, CompanyID: companyID})
}

// EnsureTab returns the tab keyed by idName, creating it or updating its display name.
func (p *Provisioner) EnsureTab(ctx context.Context, idName, displayName string) (*domain.Tab, error) {
	if displayName == "" {
		displayName = idName
	}
	return p.catalog.UpsertTab(ctx, &domain.Tab{ID: uuid.New().String(), IDName: idName, DisplayName: displayName})
}
