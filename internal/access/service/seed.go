package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"command-center/backend/internal/access/domain"
)

// TabSpec names a tab by key with an optional display name.
type TabSpec struct {
	IDName      string
	DisplayName string
}

// WarehouseSpec names a warehouse under a company.
type WarehouseSpec struct {
	Company string
	Name    string
}

// SeedPlan describes the catalog entries to ensure and, when Email is set, the profile to grant them to.
type SeedPlan struct {
	Email      string
	Authorized bool
	Companies  []string
	Warehouses []WarehouseSpec
	Tabs       []TabSpec
}

// ParseTabs parses "key[:Display Name]" entries.
func ParseTabs(items []string) ([]TabSpec, error) {
	out := make([]TabSpec, 0, len(items))
	for _, it := range items {
		key, display, _ := strings.Cut(it, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("tab %q: empty key", it)
		}
		out = append(out, TabSpec{IDName: key, DisplayName: strings.TrimSpace(display)})
	}
	return out, nil
}

// ParseWarehouses parses "Company/Warehouse" entries.
func ParseWarehouses(items []string) ([]WarehouseSpec, error) {
	out := make([]WarehouseSpec, 0, len(items))
	for _, it := range items {
		company, name, ok := strings.Cut(it, "/")
		company, name = strings.TrimSpace(company), strings.TrimSpace(name)
		if !ok || company == "" || name == "" {
			return nil, fmt.Errorf("warehouse %q: want Company/Warehouse", it)
		}
		out = append(out, WarehouseSpec{Company: company, Name: name})
	}
	return out, nil
}

// Apply ensures every catalog entry in plan exists and, when plan.Email is set, grants all of them to
// the email's orphan profile, creating it if needed. Running the same plan twice is harmless.
// It returns the profile, or nil when no email was given.
func (p *Provisioner) Apply(ctx context.Context, plan SeedPlan) (*domain.AccessProfile, error) {
	var g domain.Grants
	companies := map[string]string{}
	ensureCompany := func(name string) (string, error) {
		if id, ok := companies[name]; ok {
			return id, nil
		}
		c, err := p.EnsureCompany(ctx, name)
		if err != nil {
			return "", fmt.Errorf("company %s: %w", name, err)
		}
		companies[name] = c.ID
		g.CompanyIDs = append(g.CompanyIDs, c.ID)
		return c.ID, nil
	}
	for _, name := range plan.Companies {
		if _, err := ensureCompany(name); err != nil {
			return nil, err
		}
	}
	for _, w := range plan.Warehouses {
		companyID, err := ensureCompany(w.Company)
		if err != nil {
			return nil, err
		}
		wh, err := p.EnsureWarehouse(ctx, companyID, w.Name)
		if err != nil {
			return nil, fmt.Errorf("warehouse %s/%s: %w", w.Company, w.Name, err)
		}
		g.WarehouseIDs = append(g.WarehouseIDs, wh.ID)
	}
	for _, t := range plan.Tabs {
		tab, err := p.EnsureTab(ctx, t.IDName, t.DisplayName)
		if err != nil {
			return nil, fmt.Errorf("tab %s: %w", t.IDName, err)
		}
		g.TabIDs = append(g.TabIDs, tab.ID)
	}
	if strings.TrimSpace(plan.Email) == "" {
		return nil, nil
	}

	profile, err := p.Preprovision(ctx, plan.Email, plan.Authorized, g)
	if !errors.Is(err, domain.ErrDuplicateOrphanProfile) {
		return profile, err
	}
	profile, err = p.profiles.GetOrphanByEmail(ctx, domain.NormalizeEmail(plan.Email))
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrDuplicateOrphanProfile
	}
	if err := p.profiles.SetAuthorized(ctx, profile.ID, plan.Authorized); err != nil {
		return nil, err
	}
	profile.IsAuthorized = plan.Authorized
	if err := p.profiles.Grant(ctx, profile.ID, g); err != nil {
		return nil, fmt.Errorf("grant: %w", err)
	}
	return profile, nil
}
