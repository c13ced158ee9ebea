// Package service implements the revocation manager: bulk session teardown by
// device, by explicit list, or account-wide, with event emission and runtime
// propagation after the state change commits.
package service

import (
	"context"

	"session-control-plane/internal/events"
	"session-control-plane/internal/obs"
	"session-control-plane/internal/runtimenotify"
	"session-control-plane/internal/session/domain"
	"session-control-plane/internal/session/store"
)

// Outcome reports what a revocation call actually transitioned. Repeating a
// revocation yields empty lists; the operation itself never fails for already
// revoked targets.
type Outcome struct {
	RevokedSessionIDs []string
	RevokedDeviceIDs  []string
}

// RevocationService coordinates bulk revocations.
type RevocationService struct {
	store    store.Store
	emitter  events.Emitter
	notifier runtimenotify.Notifier
}

// NewRevocationService returns a RevocationService. emitter and notifier may
// be nil.
func NewRevocationService(st store.Store, emitter events.Emitter, notifier runtimenotify.Notifier) *RevocationService {
	return &RevocationService{store: st, emitter: emitter, notifier: notifier}
}

// ListSessions returns every session of the user, revoked ones included, so
// clients can render device activity.
func (s *RevocationService) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	return s.store.ListSessionsByUser(ctx, userID)
}

// RevokeDevices revokes all of the user's sessions bound to the given
// devices. The caller's own session survives unless includeCurrent is set.
func (s *RevocationService) RevokeDevices(ctx context.Context, userID string, deviceIDs []string, reason, currentSessionID string, includeCurrent bool) (*Outcome, error) {
	exclude := currentSessionID
	if includeCurrent {
		exclude = ""
	}
	revoked, err := s.store.RevokeByDevice(ctx, userID, deviceIDs, reason, exclude)
	if err != nil {
		return nil, err
	}
	return s.finish(userID, reason, revoked), nil
}

// RevokeSessions revokes the listed sessions. Sessions not owned by the user
// are silently skipped; an explicit list always may include the caller's own
// session.
func (s *RevocationService) RevokeSessions(ctx context.Context, userID string, sessionIDs []string, reason string) (*Outcome, error) {
	revoked, err := s.store.RevokeBySessionIDs(ctx, userID, sessionIDs, reason)
	if err != nil {
		return nil, err
	}
	return s.finish(userID, reason, revoked), nil
}

// RevokeAll revokes every live session of the user, keeping the caller's own
// session unless includeCurrent is set.
func (s *RevocationService) RevokeAll(ctx context.Context, userID, reason, currentSessionID string, includeCurrent bool) (*Outcome, error) {
	exclude := currentSessionID
	if includeCurrent {
		exclude = ""
	}
	revoked, err := s.store.RevokeAll(ctx, userID, reason, exclude)
	if err != nil {
		return nil, err
	}
	return s.finish(userID, reason, revoked), nil
}

// finish builds the outcome and, when anything transitioned, emits the event
// and notifies the runtime. Both run asynchronously after the store committed.
func (s *RevocationService) finish(userID, reason string, revoked []*domain.Session) *Outcome {
	out := &Outcome{
		RevokedSessionIDs: []string{},
		RevokedDeviceIDs:  []string{},
	}
	seenDevice := map[string]bool{}
	for _, sess := range revoked {
		out.RevokedSessionIDs = append(out.RevokedSessionIDs, sess.ID)
		if sess.DeviceID != "" && !seenDevice[sess.DeviceID] {
			seenDevice[sess.DeviceID] = true
			out.RevokedDeviceIDs = append(out.RevokedDeviceIDs, sess.DeviceID)
		}
	}
	if len(out.RevokedSessionIDs) == 0 {
		return out
	}
	obs.ObserveSessionsRevoked(reason, len(out.RevokedSessionIDs))
	events.EmitAsync(s.emitter, &events.SecurityEvent{
		Type:       events.TypeSessionRevoked,
		UserID:     userID,
		SessionIDs: out.RevokedSessionIDs,
		Reason:     reason,
	})
	runtimenotify.NotifyAsync(s.notifier, &runtimenotify.Notification{
		Reason:     reason,
		SessionIDs: out.RevokedSessionIDs,
		DeviceIDs:  out.RevokedDeviceIDs,
	})
	return out
}
