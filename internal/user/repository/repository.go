package repository

import (
	"context"

	"session-control-plane/internal/user/domain"
)

// Repository stores user accounts. Lookups return nil without error when the
// user does not exist.
type Repository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}
