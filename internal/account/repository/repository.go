package repository

import (
	"context"
	"time"

	"command-center/backend/internal/account/domain"
)

// Repository defines persistence for accounts.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	// CreateIfAbsent inserts the account unless its username (or email) is taken.
	// It returns the stored account and whether this call created it.
	CreateIfAbsent(ctx context.Context, a *domain.Account) (*domain.Account, bool, error)
	// UpdateProfile refreshes names from the latest provider claims and stamps last login.
	UpdateProfile(ctx context.Context, id, firstName, lastName string, loginAt time.Time) error
}
