package service

import (
	"context"
	"fmt"
	"time"

	"command-center/backend/internal/access/domain"
	"command-center/backend/internal/access/repository"
	accountdomain "command-center/backend/internal/account/domain"
)

// Linker binds a pre-provisioned (orphan) profile to a newly created account.
// It never creates a profile: an account without one is pending authorization.
type Linker struct {
	now func() time.Time
}

// NewLinker returns a Linker using the wall clock.
func NewLinker() *Linker {
	return &Linker{now: func() time.Time { return time.Now().UTC() }}
}

// Link attaches the orphan profile whose email equals the account's normalized email.
// profiles must be bound to the caller's transaction. It returns nil when nothing matched.
// Calling Link again for an account that is already linked returns its existing profile.
func (l *Linker) Link(ctx context.Context, profiles repository.Repository, acc *accountdomain.Account) (*domain.AccessProfile, error) {
	email := domain.NormalizeEmail(acc.Email)
	if email == "" {
		return nil, nil
	}
	existing, err := profiles.GetByAccount(ctx, acc.ID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	// ErrProfileExists cannot be recovered here: the failed statement has aborted the caller's transaction.
	p, err := profiles.AttachOrphan(ctx, email, acc.ID, l.now())
	if err != nil {
		return nil, fmt.Errorf("attach profile: %w", err)
	}
	return p, nil
}
