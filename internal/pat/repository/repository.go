package repository

import (
	"context"
	"time"

	"session-control-plane/internal/pat/domain"
)

// Repository stores personal access tokens. GetByID returns nil without error
// when the token does not exist.
type Repository interface {
	Create(ctx context.Context, t *domain.PersonalAccessToken) error
	GetByID(ctx context.Context, id string) (*domain.PersonalAccessToken, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.PersonalAccessToken, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}
