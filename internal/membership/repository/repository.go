package repository

import (
	"context"

	"session-control-plane/internal/membership/domain"
)

// Repository stores org memberships. Get returns nil without error when the
// user has no membership in the org.
type Repository interface {
	Upsert(ctx context.Context, m *domain.OrgMembership) error
	Get(ctx context.Context, userID, orgID string) (*domain.OrgMembership, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.OrgMembership, error)
	DefaultForUser(ctx context.Context, userID string) (*domain.OrgMembership, error)
}
