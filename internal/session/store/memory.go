package store

import (
	"context"
	"sync"
	"time"

	"session-control-plane/internal/security"
	"session-control-plane/internal/session/domain"
)

// MemoryStore is an in-memory Store implementation. A single mutex serializes
// every consume/revoke operation, which is the coarse-grained locking the
// engine's volumes allow; anything finer must still keep consume and
// check-already-consumed atomic together.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	records  map[string]*domain.RefreshTokenRecord
	nowF     func() time.Time
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		records:  make(map[string]*domain.RefreshTokenRecord),
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession persists a new session together with its initial refresh record.
func (m *MemoryStore) CreateSession(ctx context.Context, s *domain.Session, initial *domain.RefreshTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := *s
	m.sessions[s.ID] = &sc
	if initial != nil {
		rc := *initial
		rc.SessionID = s.ID
		m.records[initial.ID] = &rc
	}
	return nil
}

// GetSession returns a copy of the session for id, or nil if not found.
func (m *MemoryStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySession(m.sessions[id]), nil
}

// ListSessionsByUser returns all sessions for the user, revoked included.
func (m *MemoryStore) ListSessionsByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, copySession(s))
		}
	}
	return out, nil
}

// SetSessionOrg rebinds the session's active org.
func (m *MemoryStore) SetSessionOrg(ctx context.Context, sessionID, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.OrgID = orgID
	}
	return nil
}

// ConsumeAndRotate performs the single-use consumption state machine under the
// store lock. See the Store contract for outcome semantics.
func (m *MemoryStore) ConsumeAndRotate(ctx context.Context, p ConsumeParams) (ConsumeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowF()
	rec, ok := m.records[p.RecordID]
	if !ok {
		return ConsumeResult{Status: ConsumeNotFound}, nil
	}
	sess := m.sessions[rec.SessionID]
	if !security.OpaqueSecretEqual(p.Secret, rec.Salt, rec.SecretHash) {
		// A known record id with the wrong secret is treated like reuse of a
		// stolen chain: the whole session dies, not just this request.
		m.revokeLocked(sess, domain.ReasonRefreshReuse, now)
		return ConsumeResult{Status: ConsumeSecretMismatch, Session: copySession(sess)}, nil
	}
	if sess == nil || !sess.Usable() {
		return ConsumeResult{Status: ConsumeSessionRevoked, Session: copySession(sess)}, nil
	}
	if rec.Consumed() {
		raced := now.Sub(*rec.ConsumedAt) <= raceWindow
		reason := domain.ReasonRefreshReuse
		if raced {
			reason = domain.ReasonRotationRace
		}
		m.revokeLocked(sess, reason, now)
		return ConsumeResult{Status: ConsumeReused, Session: copySession(sess), Raced: raced}, nil
	}
	if now.After(rec.ExpiresAt) {
		return ConsumeResult{Status: ConsumeExpired, Session: copySession(sess)}, nil
	}
	if rec.DeviceID != "" && rec.DeviceID != p.DeviceID {
		return ConsumeResult{Status: ConsumeDeviceMismatch, Session: copySession(sess)}, nil
	}
	if !p.Rotate {
		return ConsumeResult{Status: ConsumeValid, Session: copySession(sess)}, nil
	}

	rec.ConsumedAt = &now
	rec.SucceededBy = p.Successor.ID
	succ := *p.Successor
	succ.SessionID = sess.ID
	// Device binding is a chain property: the successor inherits it from the
	// record it replaces.
	succ.DeviceID = rec.DeviceID
	m.records[succ.ID] = &succ

	sess.Status = domain.StatusRotated
	rotatedAt := now
	sess.LastRotatedAt = &rotatedAt
	return ConsumeResult{Status: ConsumeRotated, Session: copySession(sess)}, nil
}

// RevokeSession marks one session revoked with reason. Idempotent.
func (m *MemoryStore) RevokeSession(ctx context.Context, id, reason string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	if !m.revokeLocked(s, reason, m.nowF()) {
		return nil, nil
	}
	return copySession(s), nil
}

// RevokeByDevice revokes the user's sessions bound to any of deviceIDs.
func (m *MemoryStore) RevokeByDevice(ctx context.Context, userID string, deviceIDs []string, reason, excludeSessionID string) ([]*domain.Session, error) {
	wanted := make(map[string]struct{}, len(deviceIDs))
	for _, d := range deviceIDs {
		wanted[d] = struct{}{}
	}
	return m.revokeMatching(userID, reason, excludeSessionID, func(s *domain.Session) bool {
		_, ok := wanted[s.DeviceID]
		return s.DeviceID != "" && ok
	}), nil
}

// RevokeBySessionIDs revokes the listed sessions owned by userID.
func (m *MemoryStore) RevokeBySessionIDs(ctx context.Context, userID string, sessionIDs []string, reason string) ([]*domain.Session, error) {
	wanted := make(map[string]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		wanted[id] = struct{}{}
	}
	return m.revokeMatching(userID, reason, "", func(s *domain.Session) bool {
		_, ok := wanted[s.ID]
		return ok
	}), nil
}

// RevokeAll revokes every live session of the user.
func (m *MemoryStore) RevokeAll(ctx context.Context, userID, reason, excludeSessionID string) ([]*domain.Session, error) {
	return m.revokeMatching(userID, reason, excludeSessionID, func(*domain.Session) bool { return true }), nil
}

func (m *MemoryStore) revokeMatching(userID, reason, excludeSessionID string, match func(*domain.Session) bool) []*domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowF()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.UserID != userID || s.ID == excludeSessionID || !match(s) {
			continue
		}
		if m.revokeLocked(s, reason, now) {
			out = append(out, copySession(s))
		}
	}
	return out
}

// revokeLocked transitions s to revoked. Returns false when s is nil or
// already revoked. Caller holds the store lock.
func (m *MemoryStore) revokeLocked(s *domain.Session, reason string, now time.Time) bool {
	if s == nil || s.Status == domain.StatusRevoked {
		return false
	}
	s.Status = domain.StatusRevoked
	s.RevokedReason = reason
	revokedAt := now
	s.RevokedAt = &revokedAt
	return true
}

func copySession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	sc := *s
	return &sc
}
