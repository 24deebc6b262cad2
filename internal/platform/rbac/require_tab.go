package rbac

import (
	"context"
	"errors"
	"fmt"

	"command-center/backend/internal/access/domain"
	"command-center/backend/internal/policy/engine"
)

// ErrTabForbidden is returned when the policy denies the requested tab or scope.
var ErrTabForbidden = errors.New("tab not allowed for this profile")

// Scope is the capability a request asks for. Company and Warehouse are optional.
type Scope struct {
	Tab       string
	Company   string
	Warehouse string
}

// PermissionsGetter returns the capability set granted to a profile.
type PermissionsGetter interface {
	Permissions(ctx context.Context, profileID string) (*domain.Permissions, error)
}

// CheckScope evaluates the scope against the profile's grants. It reports the decision without
// mapping a denial to an error. A scope without a tab is always denied.
func CheckScope(ctx context.Context, checker engine.ScopeChecker, perms PermissionsGetter, p *domain.AccessProfile, s Scope) (bool, error) {
	if p == nil || s.Tab == "" {
		return false, nil
	}
	granted, err := perms.Permissions(ctx, p.ID)
	if err != nil {
		return false, fmt.Errorf("load permissions: %w", err)
	}
	allowed, err := checker.Allow(ctx, engine.ScopeInput{
		Authorized: p.IsAuthorized,
		Tabs:       granted.TabNames(),
		Companies:  granted.CompanyIDs(),
		Warehouses: granted.WarehouseIDs(),
		Tab:        s.Tab,
		Company:    s.Company,
		Warehouse:  s.Warehouse,
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// RequireTab is CheckScope with a denial mapped to ErrTabForbidden.
func RequireTab(ctx context.Context, checker engine.ScopeChecker, perms PermissionsGetter, p *domain.AccessProfile, s Scope) error {
	allowed, err := CheckScope(ctx, checker, perms, p, s)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrTabForbidden
	}
	return nil
}
