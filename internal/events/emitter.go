// Package events carries security lifecycle events (session revocations,
// refresh reuse, signature failures) to the configured sinks.
package events

import (
	"context"
	"log"
	"time"
)

// Event types recorded by the lifecycle engine.
const (
	TypeChallengeVerified = "challenge.verified"
	TypeSessionCreated    = "session.created"
	TypeSessionRotated    = "session.rotated"
	TypeSessionRevoked    = "session.revoked"
	TypeRefreshReuse      = "refresh.reuse_detected"
	TypeRotationRace      = "refresh.rotation_race"
	TypeSignatureFailure  = "machine.signature_failure"
	TypeNonceReplay       = "machine.nonce_replay"
	TypeScopedTokenMint   = "scoped_token.minted"
	TypePATRevoked        = "pat.revoked"
)

// SecurityEvent is a single lifecycle event. UserID, DeviceID, and SessionIDs
// are optional depending on the event type.
type SecurityEvent struct {
	Type       string            `json:"type"`
	UserID     string            `json:"user_id,omitempty"`
	OrgID      string            `json:"org_id,omitempty"`
	DeviceID   string            `json:"device_id,omitempty"`
	SessionIDs []string          `json:"session_ids,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Emitter sends security events to a sink. Best-effort; callers log and
// ignore errors.
type Emitter interface {
	Emit(ctx context.Context, event *SecurityEvent) error
}

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server stops before
// shutting down the OTel providers, so in-flight async emits can complete.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so request handlers
// are never blocked on a sink. The goroutine uses context.Background() so
// request cancellation does not abort an in-flight emit.
//
// emitter and event may be nil; EmitAsync then returns without starting a
// goroutine.
func EmitAsync(emitter Emitter, event *SecurityEvent) {
	if emitter == nil || event == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, event); err != nil {
			log.Printf("events: async emit failed: %v", err)
		}
	}()
}

// Multi fans one event out to every non-nil emitter, returning the last error.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, event *SecurityEvent) error {
	var last error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			last = err
		}
	}
	return last
}
