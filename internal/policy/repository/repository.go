package repository

import (
	"context"

	"session-control-plane/internal/policy/domain"
)

// Repository stores org Rego policies.
type Repository interface {
	GetEnabledPoliciesByOrg(ctx context.Context, orgID string) ([]*domain.Policy, error)
	Upsert(ctx context.Context, p *domain.Policy) error
}
