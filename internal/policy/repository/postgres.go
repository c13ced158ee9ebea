package repository

import (
	"context"
	"database/sql"

	"session-control-plane/internal/policy/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (p *PostgresRepository) GetEnabledPoliciesByOrg(ctx context.Context, orgID string) ([]*domain.Policy, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, org_id, name, rules, enabled, created_at
		FROM policies WHERE org_id = $1 AND enabled ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Policy
	for rows.Next() {
		var pol domain.Policy
		if err := rows.Scan(&pol.ID, &pol.OrgID, &pol.Name, &pol.Rules, &pol.Enabled, &pol.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &pol)
	}
	return out, rows.Err()
}

func (p *PostgresRepository) Upsert(ctx context.Context, pol *domain.Policy) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO policies (id, org_id, name, rules, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, rules = EXCLUDED.rules, enabled = EXCLUDED.enabled`,
		pol.ID, pol.OrgID, pol.Name, pol.Rules, pol.Enabled, pol.CreatedAt)
	return err
}
