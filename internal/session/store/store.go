// Package store holds the session store: the single source of truth for
// session and refresh-token chains. Consume and revoke are single atomic
// operations so that concurrent rotation attempts have a deterministic
// resolution instead of a read-then-write race.
package store

import (
	"context"
	"time"

	"session-control-plane/internal/session/domain"
)

// ConsumeStatus is the outcome of an atomic consume-and-rotate attempt.
type ConsumeStatus int

const (
	// ConsumeRotated: the record was unused and has been consumed; the
	// successor record is linked and the session stays live.
	ConsumeRotated ConsumeStatus = iota
	// ConsumeValid: the record was unused and left unconsumed (rotate=false).
	ConsumeValid
	// ConsumeNotFound: no record with that id exists.
	ConsumeNotFound
	// ConsumeSecretMismatch: record exists but the supplied secret is wrong.
	ConsumeSecretMismatch
	// ConsumeExpired: the record itself is past its expiry.
	ConsumeExpired
	// ConsumeSessionRevoked: the owning session is already revoked.
	ConsumeSessionRevoked
	// ConsumeReused: the record was already consumed. The store has revoked
	// the owning session's entire chain as a side effect.
	ConsumeReused
	// ConsumeDeviceMismatch: the record is device-bound and the caller's
	// device does not match. The record is left unconsumed.
	ConsumeDeviceMismatch
)

// ConsumeParams carries one rotation attempt into the store.
type ConsumeParams struct {
	RecordID string
	// Secret is the raw secret from the wire token; the store compares its
	// salted hash in constant time.
	Secret string
	// DeviceID is the caller's claimed device; checked only when the record
	// is device-bound.
	DeviceID string
	// Rotate consumes the record and links Successor when true; when false
	// the record is only validated.
	Rotate bool
	// Successor is the pre-generated next record (id, salt, hash, expiry set
	// by the caller). Linked only when Rotate is true and the attempt wins.
	Successor *domain.RefreshTokenRecord
}

// raceWindow bounds how long after consumption a reused presentation is
// attributed to a lost rotation race rather than a replayed stolen token.
// Concurrent rotation attempts land within milliseconds of each other; the
// chain is revoked either way, only the recorded reason differs.
const raceWindow = 5 * time.Second

// ConsumeResult is the outcome of ConsumeAndRotate.
type ConsumeResult struct {
	Status  ConsumeStatus
	Session *domain.Session
	// Raced is set with ConsumeReused when the record was consumed inside
	// the race window, marking this presentation as the loser of a
	// concurrent rotation rather than a later replay.
	Raced bool
}

// Store is the session store contract. Implementations must make
// ConsumeAndRotate and the revoke operations atomic per session: no two
// callers may observe the same unconsumed record as unconsumed.
type Store interface {
	// CreateSession persists a new session together with its initial refresh record.
	CreateSession(ctx context.Context, s *domain.Session, initial *domain.RefreshTokenRecord) error
	// GetSession returns the session for id, or nil if not found.
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	// ListSessionsByUser returns all sessions for the user, revoked included.
	ListSessionsByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// SetSessionOrg rebinds the session's active org.
	SetSessionOrg(ctx context.Context, sessionID, orgID string) error

	// ConsumeAndRotate performs the single-use consumption state machine for
	// one refresh record. Any presentation of an already-consumed record
	// revokes the owning session's whole chain before returning ConsumeReused.
	ConsumeAndRotate(ctx context.Context, p ConsumeParams) (ConsumeResult, error)

	// RevokeSession marks one session revoked with reason. Idempotent:
	// returns the session only if it transitioned on this call, nil when it
	// was missing or already revoked.
	RevokeSession(ctx context.Context, id, reason string) (*domain.Session, error)
	// RevokeByDevice revokes the user's sessions bound to any of deviceIDs,
	// skipping excludeSessionID ("" skips none). Returns sessions that
	// transitioned on this call.
	RevokeByDevice(ctx context.Context, userID string, deviceIDs []string, reason, excludeSessionID string) ([]*domain.Session, error)
	// RevokeBySessionIDs revokes the listed sessions, restricted to those
	// owned by userID. Returns sessions that transitioned on this call.
	RevokeBySessionIDs(ctx context.Context, userID string, sessionIDs []string, reason string) ([]*domain.Session, error)
	// RevokeAll revokes every live session of the user, skipping
	// excludeSessionID ("" skips none). Returns sessions that transitioned.
	RevokeAll(ctx context.Context, userID, reason, excludeSessionID string) ([]*domain.Session, error)
}
