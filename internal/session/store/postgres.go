package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"session-control-plane/internal/security"
	"session-control-plane/internal/session/domain"
)

// PostgresStore is the Postgres Store implementation. ConsumeAndRotate and the
// revoke operations run inside a transaction with the refresh record and
// session rows locked (SELECT ... FOR UPDATE), so two writers racing on one
// record serialize at the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a session store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateSession persists a new session together with its initial refresh record.
func (p *PostgresStore) CreateSession(ctx context.Context, s *domain.Session, initial *domain.RefreshTokenRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, org_id, device_id, status, revoked_reason, token_name, created_at, last_rotated_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, '', $6, $7, NULL, NULL)`,
		s.ID, s.UserID, nullStr(s.OrgID), nullStr(s.DeviceID), string(s.Status), s.TokenName, s.CreatedAt,
	); err != nil {
		return err
	}
	if initial != nil {
		if err := insertRecord(ctx, tx, s.ID, initial); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetSession returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (p *PostgresStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := p.db.QueryRowContext(ctx, sessionSelect+` WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListSessionsByUser returns all sessions for the user, revoked included.
func (p *PostgresStore) ListSessionsByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := p.db.QueryContext(ctx, sessionSelect+` WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetSessionOrg rebinds the session's active org.
func (p *PostgresStore) SetSessionOrg(ctx context.Context, sessionID, orgID string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE sessions SET org_id = $2 WHERE id = $1`, sessionID, orgID)
	return err
}

// ConsumeAndRotate performs the single-use consumption state machine inside a
// transaction, with the record row locked for the duration.
func (p *PostgresStore) ConsumeAndRotate(ctx context.Context, cp ConsumeParams) (ConsumeResult, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return ConsumeResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	rec, err := lockRecord(ctx, tx, cp.RecordID)
	if err != nil {
		return ConsumeResult{}, err
	}
	if rec == nil {
		return ConsumeResult{Status: ConsumeNotFound}, tx.Commit()
	}
	sess, err := lockSession(ctx, tx, rec.SessionID)
	if err != nil {
		return ConsumeResult{}, err
	}

	if !security.OpaqueSecretEqual(cp.Secret, rec.Salt, rec.SecretHash) {
		if err := revokeSessionTx(ctx, tx, sess, domain.ReasonRefreshReuse, now); err != nil {
			return ConsumeResult{}, err
		}
		return ConsumeResult{Status: ConsumeSecretMismatch, Session: sess}, tx.Commit()
	}
	if sess == nil || !sess.Usable() {
		return ConsumeResult{Status: ConsumeSessionRevoked, Session: sess}, tx.Commit()
	}
	if rec.Consumed() {
		raced := now.Sub(*rec.ConsumedAt) <= raceWindow
		reason := domain.ReasonRefreshReuse
		if raced {
			reason = domain.ReasonRotationRace
		}
		if err := revokeSessionTx(ctx, tx, sess, reason, now); err != nil {
			return ConsumeResult{}, err
		}
		return ConsumeResult{Status: ConsumeReused, Session: sess, Raced: raced}, tx.Commit()
	}
	if now.After(rec.ExpiresAt) {
		return ConsumeResult{Status: ConsumeExpired, Session: sess}, tx.Commit()
	}
	if rec.DeviceID != "" && rec.DeviceID != cp.DeviceID {
		return ConsumeResult{Status: ConsumeDeviceMismatch, Session: sess}, tx.Commit()
	}
	if !cp.Rotate {
		return ConsumeResult{Status: ConsumeValid, Session: sess}, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET consumed_at = $2, succeeded_by = $3 WHERE id = $1`,
		rec.ID, now, cp.Successor.ID,
	); err != nil {
		return ConsumeResult{}, err
	}
	// Device binding is a chain property: the successor inherits it from the
	// record it replaces.
	cp.Successor.DeviceID = rec.DeviceID
	if err := insertRecord(ctx, tx, sess.ID, cp.Successor); err != nil {
		return ConsumeResult{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = $2, last_rotated_at = $3 WHERE id = $1`,
		sess.ID, string(domain.StatusRotated), now,
	); err != nil {
		return ConsumeResult{}, err
	}
	sess.Status = domain.StatusRotated
	sess.LastRotatedAt = &now
	return ConsumeResult{Status: ConsumeRotated, Session: sess}, tx.Commit()
}

// RevokeSession marks one session revoked with reason. Idempotent.
func (p *PostgresStore) RevokeSession(ctx context.Context, id, reason string) (*domain.Session, error) {
	revoked, err := p.revokeWhere(ctx, reason, `id = $3`, id)
	if err != nil || len(revoked) == 0 {
		return nil, err
	}
	return revoked[0], nil
}

// RevokeByDevice revokes the user's sessions bound to any of deviceIDs.
func (p *PostgresStore) RevokeByDevice(ctx context.Context, userID string, deviceIDs []string, reason, excludeSessionID string) ([]*domain.Session, error) {
	var out []*domain.Session
	for _, deviceID := range deviceIDs {
		revoked, err := p.revokeWhere(ctx, reason,
			`user_id = $3 AND device_id = $4 AND id <> $5`, userID, deviceID, excludeSessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, revoked...)
	}
	return out, nil
}

// RevokeBySessionIDs revokes the listed sessions owned by userID.
func (p *PostgresStore) RevokeBySessionIDs(ctx context.Context, userID string, sessionIDs []string, reason string) ([]*domain.Session, error) {
	var out []*domain.Session
	for _, id := range sessionIDs {
		revoked, err := p.revokeWhere(ctx, reason, `user_id = $3 AND id = $4`, userID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, revoked...)
	}
	return out, nil
}

// RevokeAll revokes every live session of the user.
func (p *PostgresStore) RevokeAll(ctx context.Context, userID, reason, excludeSessionID string) ([]*domain.Session, error) {
	return p.revokeWhere(ctx, reason, `user_id = $3 AND id <> $4`, userID, excludeSessionID)
}

// revokeWhere revokes all non-revoked sessions matching the extra condition
// and returns the rows that transitioned on this call.
func (p *PostgresStore) revokeWhere(ctx context.Context, reason, cond string, args ...any) ([]*domain.Session, error) {
	now := time.Now().UTC()
	query := `
		UPDATE sessions SET status = 'revoked', revoked_reason = $1, revoked_at = $2
		WHERE status <> 'revoked' AND ` + cond + `
		RETURNING id, user_id, org_id, device_id, status, revoked_reason, token_name, created_at, last_rotated_at, revoked_at`
	rows, err := p.db.QueryContext(ctx, query, append([]any{reason, now}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const sessionSelect = `
	SELECT id, user_id, org_id, device_id, status, revoked_reason, token_name, created_at, last_rotated_at, revoked_at
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*domain.Session, error) {
	var s domain.Session
	var orgID, deviceID sql.NullString
	var status string
	var lastRotatedAt, revokedAt sql.NullTime
	if err := r.Scan(&s.ID, &s.UserID, &orgID, &deviceID, &status, &s.RevokedReason, &s.TokenName, &s.CreatedAt, &lastRotatedAt, &revokedAt); err != nil {
		return nil, err
	}
	s.OrgID = orgID.String
	s.DeviceID = deviceID.String
	s.Status = domain.Status(status)
	s.LastRotatedAt = nullTimeToPtr(lastRotatedAt)
	s.RevokedAt = nullTimeToPtr(revokedAt)
	return &s, nil
}

func lockRecord(ctx context.Context, tx *sql.Tx, id string) (*domain.RefreshTokenRecord, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, session_id, salt, secret_hash, device_id, created_at, expires_at, consumed_at, succeeded_by
		FROM refresh_tokens WHERE id = $1 FOR UPDATE`, id)
	var rec domain.RefreshTokenRecord
	var deviceID, succeededBy sql.NullString
	var consumedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.Salt, &rec.SecretHash, &deviceID, &rec.CreatedAt, &rec.ExpiresAt, &consumedAt, &succeededBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.DeviceID = deviceID.String
	rec.SucceededBy = succeededBy.String
	rec.ConsumedAt = nullTimeToPtr(consumedAt)
	return &rec, nil
}

func lockSession(ctx context.Context, tx *sql.Tx, id string) (*domain.Session, error) {
	row := tx.QueryRowContext(ctx, sessionSelect+` WHERE id = $1 FOR UPDATE`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func revokeSessionTx(ctx context.Context, tx *sql.Tx, s *domain.Session, reason string, now time.Time) error {
	if s == nil || s.Status == domain.StatusRevoked {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = 'revoked', revoked_reason = $2, revoked_at = $3 WHERE id = $1`,
		s.ID, reason, now,
	); err != nil {
		return err
	}
	s.Status = domain.StatusRevoked
	s.RevokedReason = reason
	s.RevokedAt = &now
	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, sessionID string, rec *domain.RefreshTokenRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, session_id, salt, secret_hash, device_id, created_at, expires_at, consumed_at, succeeded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL)`,
		rec.ID, sessionID, rec.Salt, rec.SecretHash, nullStr(rec.DeviceID), rec.CreatedAt, rec.ExpiresAt)
	return err
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
