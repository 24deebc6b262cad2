package repository

import (
	"context"
	"encoding/json"

	"command-center/backend/internal/identity/domain"
)

// Repository defines persistence for external identities.
type Repository interface {
	GetByProviderSubject(ctx context.Context, provider domain.Provider, subject string) (*domain.ExternalIdentity, error)
	ListByAccount(ctx context.Context, accountID string) ([]*domain.ExternalIdentity, error)
	// CreateIfAbsent inserts i unless (provider, subject) already exists; it returns the stored row
	// and whether this call created it.
	CreateIfAbsent(ctx context.Context, i *domain.ExternalIdentity) (*domain.ExternalIdentity, bool, error)
	UpdateExtraData(ctx context.Context, id string, extra json.RawMessage) error
}
