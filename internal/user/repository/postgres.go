package repository

import (
	"context"
	"database/sql"
	"errors"

	"session-control-plane/internal/user/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (p *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, created_at)
		VALUES ($1, lower($2), $3, $4)`,
		u.ID, u.Email, u.DisplayName, u.CreatedAt)
	return err
}

func (p *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, created_at FROM users WHERE id = $1`, id))
}

func (p *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, created_at FROM users WHERE email = lower($1)`, email))
}

func (p *PostgresRepository) scanOne(row *sql.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
