package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"session-control-plane/internal/pat/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (p *PostgresRepository) Create(ctx context.Context, t *domain.PersonalAccessToken) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO personal_access_tokens
			(id, user_id, org_id, name, secret_hash, scopes, created_at, expires_at, revoked_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NULL)`,
		t.ID, t.UserID, t.OrgID, t.Name, t.SecretHash,
		strings.Join(t.Scopes, ","), t.CreatedAt, t.ExpiresAt)
	return err
}

const patSelect = `
	SELECT id, user_id, org_id, name, secret_hash, scopes, created_at, expires_at, revoked_at, last_used_at
	FROM personal_access_tokens`

func (p *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.PersonalAccessToken, error) {
	t, err := scanPAT(p.db.QueryRowContext(ctx, patSelect+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (p *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.PersonalAccessToken, error) {
	rows, err := p.db.QueryContext(ctx, patSelect+` WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.PersonalAccessToken
	for rows.Next() {
		t, err := scanPAT(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE personal_access_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	return err
}

func (p *PostgresRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE personal_access_tokens SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPAT(r rowScanner) (*domain.PersonalAccessToken, error) {
	var t domain.PersonalAccessToken
	var scopes string
	var expiresAt, revokedAt, lastUsedAt sql.NullTime
	if err := r.Scan(&t.ID, &t.UserID, &t.OrgID, &t.Name, &t.SecretHash, &scopes, &t.CreatedAt, &expiresAt, &revokedAt, &lastUsedAt); err != nil {
		return nil, err
	}
	if scopes != "" {
		t.Scopes = strings.Split(scopes, ",")
	}
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	if lastUsedAt.Valid {
		t.LastUsedAt = &lastUsedAt.Time
	}
	return &t, nil
}
