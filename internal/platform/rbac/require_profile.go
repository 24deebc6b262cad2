package rbac

import (
	"context"
	"errors"
	"fmt"

	"command-center/backend/internal/access/domain"
)

// ErrUnauthenticated is returned when no account is bound to the request.
var ErrUnauthenticated = errors.New("authentication required")

// ProfileGetter returns the account's access profile, or nil when it has none.
type ProfileGetter interface {
	GetByAccount(ctx context.Context, accountID string) (*domain.AccessProfile, error)
}

// RequireAuthorizedProfile loads the account's profile and checks it is authorized.
// Returns domain.ErrProfileNotFound or domain.ErrNotAuthorized on denial; storage failures are wrapped.
func RequireAuthorizedProfile(ctx context.Context, getter ProfileGetter, accountID string) (*domain.AccessProfile, error) {
	if accountID == "" {
		return nil, ErrUnauthenticated
	}
	p, err := getter.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load access profile: %w", err)
	}
	if err := domain.Authorize(p); err != nil {
		return nil, err
	}
	return p, nil
}
