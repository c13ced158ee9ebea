package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"session-control-plane/internal/security"
	"session-control-plane/internal/session/domain"
)

func newTestRecord(t *testing.T, id, deviceID string, ttl time.Duration) (*domain.RefreshTokenRecord, string) {
	t.Helper()
	secret, salt, err := security.NewOpaqueSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	now := time.Now().UTC()
	return &domain.RefreshTokenRecord{
		ID:         id,
		Salt:       salt,
		SecretHash: security.HashOpaqueSecret(salt, secret),
		DeviceID:   deviceID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}, secret
}

func seedSession(t *testing.T, s *MemoryStore, sessionID, userID, deviceID string) (rec *domain.RefreshTokenRecord, secret string) {
	t.Helper()
	rec, secret = newTestRecord(t, sessionID+"-rt1", deviceID, time.Hour)
	sess := &domain.Session{
		ID:        sessionID,
		UserID:    userID,
		DeviceID:  deviceID,
		Status:    domain.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateSession(context.Background(), sess, rec); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return rec, secret
}

func TestConsumeAndRotate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, secret := seedSession(t, s, "s1", "u1", "d1")

	succ, _ := newTestRecord(t, "s1-rt2", "d1", time.Hour)
	res, err := s.ConsumeAndRotate(ctx, ConsumeParams{
		RecordID: rec.ID, Secret: secret, DeviceID: "d1", Rotate: true, Successor: succ,
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Status != ConsumeRotated {
		t.Fatalf("status = %v, want ConsumeRotated", res.Status)
	}
	if res.Session.Status != domain.StatusRotated {
		t.Fatalf("session status = %q, want rotated", res.Session.Status)
	}
	if res.Session.LastRotatedAt == nil {
		t.Fatal("LastRotatedAt not set")
	}
}

func TestConsumeReuseRevokesChain(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, secret := seedSession(t, s, "s1", "u1", "d1")

	succ, succSecret := newTestRecord(t, "s1-rt2", "d1", time.Hour)
	if res, _ := s.ConsumeAndRotate(ctx, ConsumeParams{RecordID: rec.ID, Secret: secret, DeviceID: "d1", Rotate: true, Successor: succ}); res.Status != ConsumeRotated {
		t.Fatalf("first rotate status = %v", res.Status)
	}

	// Second presentation of the consumed record kills the whole chain. An
	// immediate replay lands inside the race window and is attributed to a
	// lost rotation race.
	res, err := s.ConsumeAndRotate(ctx, ConsumeParams{RecordID: rec.ID, Secret: secret, DeviceID: "d1", Rotate: false})
	if err != nil {
		t.Fatalf("reuse consume: %v", err)
	}
	if res.Status != ConsumeReused {
		t.Fatalf("status = %v, want ConsumeReused", res.Status)
	}
	if !res.Raced {
		t.Fatal("immediate reuse must be flagged as a race")
	}
	if res.Session.RevokedReason != domain.ReasonRotationRace {
		t.Fatalf("revoked reason = %q, want rotation_race", res.Session.RevokedReason)
	}

	// The successor minted by the winner is dead too.
	res, err = s.ConsumeAndRotate(ctx, ConsumeParams{RecordID: succ.ID, Secret: succSecret, DeviceID: "d1", Rotate: false})
	if err != nil {
		t.Fatalf("successor consume: %v", err)
	}
	if res.Status != ConsumeSessionRevoked {
		t.Fatalf("successor status = %v, want ConsumeSessionRevoked", res.Status)
	}
}

// Reuse long after consumption is a replayed stolen token, not a race.
func TestConsumeReuseAfterRaceWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, secret := seedSession(t, s, "s1", "u1", "d1")

	succ, _ := newTestRecord(t, "s1-rt2", "d1", time.Hour)
	if res, _ := s.ConsumeAndRotate(ctx, ConsumeParams{RecordID: rec.ID, Secret: secret, DeviceID: "d1", Rotate: true, Successor: succ}); res.Status != ConsumeRotated {
		t.Fatalf("first rotate status = %v", res.Status)
	}

	s.nowF = func() time.Time { return time.Now().UTC().Add(raceWindow + time.Minute) }
	res, err := s.ConsumeAndRotate(ctx, ConsumeParams{RecordID: rec.ID, Secret: secret, DeviceID: "d1", Rotate: false})
	if err != nil {
		t.Fatalf("reuse consume: %v", err)
	}
	if res.Status != ConsumeReused {
		t.Fatalf("status = %v, want ConsumeReused", res.Status)
	}
	if res.Raced {
		t.Fatal("late reuse must not be flagged as a race")
	}
	if res.Session.RevokedReason != domain.ReasonRefreshReuse {
		t.Fatalf("revoked reason = %q, want refresh_reuse", res.Session.RevokedReason)
	}
}

func TestConsumeSecretMismatchRevokesChain(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, _ := seedSession(t, s, "s1", "u1", "")

	res, err := s.ConsumeAndRotate(ctx, ConsumeParams{RecordID: rec.ID, Secret: "guessed", Rotate: false})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Status != ConsumeSecretMismatch {
		t.Fatalf("status = %v, want ConsumeSecretMismatch", res.Status)
	}
	got, _ := s.GetSession(ctx, "s1")
	if got.Status != domain.StatusRevoked || got.RevokedReason != domain.ReasonRefreshReuse {
		t.Fatalf("session = %+v, want revoked for refresh_reuse", got)
	}
}

func TestConsumeDeviceMismatchDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, secret := seedSession(t, s, "s1", "u1", "d1")

	res, err := s.ConsumeAndRotate(ctx, ConsumeParams{RecordID: rec.ID, Secret: secret, DeviceID: "d2", Rotate: false})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Status != ConsumeDeviceMismatch {
		t.Fatalf("status = %v, want ConsumeDeviceMismatch", res.Status)
	}

	// The record survives and works from the bound device afterwards.
	res, err = s.ConsumeAndRotate(ctx, ConsumeParams{RecordID: rec.ID, Secret: secret, DeviceID: "d1", Rotate: false})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Status != ConsumeValid {
		t.Fatalf("status = %v, want ConsumeValid", res.Status)
	}
}

func TestConsumeExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, secret := newTestRecord(t, "s1-rt1", "", -time.Minute)
	sess := &domain.Session{ID: "s1", UserID: "u1", Status: domain.StatusActive, CreatedAt: time.Now().UTC()}
	if err := s.CreateSession(ctx, sess, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := s.ConsumeAndRotate(ctx, ConsumeParams{RecordID: rec.ID, Secret: secret, Rotate: false})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Status != ConsumeExpired {
		t.Fatalf("status = %v, want ConsumeExpired", res.Status)
	}
}

func TestConsumeNotFound(t *testing.T) {
	s := NewMemoryStore()
	res, err := s.ConsumeAndRotate(context.Background(), ConsumeParams{RecordID: "nope", Secret: "x", Rotate: false})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Status != ConsumeNotFound {
		t.Fatalf("status = %v, want ConsumeNotFound", res.Status)
	}
}

// Two goroutines racing on the same record: exactly one rotates, the loser
// reports reuse, and afterwards the session and the winner's successor are dead.
func TestConsumeRotationRace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec, secret := seedSession(t, s, "s1", "u1", "d1")

	succA, _ := newTestRecord(t, "s1-rtA", "d1", time.Hour)
	succB, _ := newTestRecord(t, "s1-rtB", "d1", time.Hour)

	var wg sync.WaitGroup
	results := make([]ConsumeResult, 2)
	for i, succ := range []*domain.RefreshTokenRecord{succA, succB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.ConsumeAndRotate(ctx, ConsumeParams{
				RecordID: rec.ID, Secret: secret, DeviceID: "d1", Rotate: true, Successor: succ,
			})
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			results[i] = res
		}()
	}
	wg.Wait()

	var rotated, reused int
	for _, res := range results {
		switch res.Status {
		case ConsumeRotated:
			rotated++
		case ConsumeReused:
			reused++
			if !res.Raced {
				t.Fatal("concurrent loser must be flagged as a race")
			}
		default:
			t.Fatalf("unexpected status %v", res.Status)
		}
	}
	if rotated != 1 || reused != 1 {
		t.Fatalf("rotated=%d reused=%d, want exactly one of each", rotated, reused)
	}

	got, _ := s.GetSession(ctx, "s1")
	if got.Status != domain.StatusRevoked {
		t.Fatalf("session status = %q, want revoked after race", got.Status)
	}
	if got.RevokedReason != domain.ReasonRotationRace {
		t.Fatalf("revoked reason = %q, want rotation_race", got.RevokedReason)
	}
}

func TestRevokeByDeviceScoping(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedSession(t, s, "s1", "u1", "d1")
	seedSession(t, s, "s2", "u1", "d1")
	seedSession(t, s, "s3", "u1", "d2")
	seedSession(t, s, "s4", "u2", "d1")

	revoked, err := s.RevokeByDevice(ctx, "u1", []string{"d1"}, domain.ReasonUserRequest, "")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(revoked) != 2 {
		t.Fatalf("revoked %d sessions, want 2", len(revoked))
	}
	for _, id := range []string{"s3", "s4"} {
		got, _ := s.GetSession(ctx, id)
		if got.Status == domain.StatusRevoked {
			t.Fatalf("session %s revoked, should be untouched", id)
		}
	}

	// Repeat is idempotent: nothing transitions a second time.
	again, err := s.RevokeByDevice(ctx, "u1", []string{"d1"}, domain.ReasonUserRequest, "")
	if err != nil {
		t.Fatalf("revoke again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second revoke transitioned %d sessions, want 0", len(again))
	}
}

func TestRevokeAllExcludesCurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedSession(t, s, "s1", "u1", "d1")
	seedSession(t, s, "s2", "u1", "d2")
	seedSession(t, s, "s3", "u1", "d3")

	revoked, err := s.RevokeAll(ctx, "u1", domain.ReasonUserRequest, "s2")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if len(revoked) != 2 {
		t.Fatalf("revoked %d, want 2", len(revoked))
	}
	got, _ := s.GetSession(ctx, "s2")
	if got.Status == domain.StatusRevoked {
		t.Fatal("excluded session was revoked")
	}
}
