package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"session-control-plane/internal/membership/domain"
)

// PostgresRepository stores memberships in org_memberships. Scopes and topic
// grants are kept as comma separated text so the table works with plain
// database/sql scanning.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (p *PostgresRepository) Upsert(ctx context.Context, om *domain.OrgMembership) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO org_memberships (user_id, org_id, role, scopes, topic_grants, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, org_id) DO UPDATE
		SET role = EXCLUDED.role, scopes = EXCLUDED.scopes,
		    topic_grants = EXCLUDED.topic_grants, is_default = EXCLUDED.is_default`,
		om.UserID, om.OrgID, om.Role,
		strings.Join(om.Scopes, ","), strings.Join(om.TopicGrants, ","),
		om.Default, om.CreatedAt)
	return err
}

const membershipSelect = `
	SELECT user_id, org_id, role, scopes, topic_grants, is_default, created_at
	FROM org_memberships`

func (p *PostgresRepository) Get(ctx context.Context, userID, orgID string) (*domain.OrgMembership, error) {
	om, err := scanMembership(p.db.QueryRowContext(ctx, membershipSelect+` WHERE user_id = $1 AND org_id = $2`, userID, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return om, err
}

func (p *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.OrgMembership, error) {
	rows, err := p.db.QueryContext(ctx, membershipSelect+` WHERE user_id = $1 ORDER BY org_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.OrgMembership
	for rows.Next() {
		om, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, om)
	}
	return out, rows.Err()
}

func (p *PostgresRepository) DefaultForUser(ctx context.Context, userID string) (*domain.OrgMembership, error) {
	om, err := scanMembership(p.db.QueryRowContext(ctx, membershipSelect+` WHERE user_id = $1 AND is_default`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return om, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(r rowScanner) (*domain.OrgMembership, error) {
	var om domain.OrgMembership
	var scopes, grants string
	if err := r.Scan(&om.UserID, &om.OrgID, &om.Role, &scopes, &grants, &om.Default, &om.CreatedAt); err != nil {
		return nil, err
	}
	om.Scopes = splitList(scopes)
	om.TopicGrants = splitList(grants)
	return &om, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
