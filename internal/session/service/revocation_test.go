package service

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"session-control-plane/internal/runtimenotify"
	"session-control-plane/internal/security"
	"session-control-plane/internal/session/domain"
	"session-control-plane/internal/session/store"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []*runtimenotify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n *runtimenotify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, n)
	return nil
}

func (r *recordingNotifier) wait(t *testing.T, want int) []*runtimenotify.Notification {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		n := len(r.calls)
		calls := slices.Clone(r.calls)
		r.mu.Unlock()
		if n >= want {
			return calls
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("notifier received %d calls, want %d", len(r.calls), want)
	return nil
}

func seed(t *testing.T, st *store.MemoryStore, sessionID, userID, deviceID string) {
	t.Helper()
	secret, salt, err := security.NewOpaqueSecret()
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	now := time.Now().UTC()
	err = st.CreateSession(context.Background(), &domain.Session{
		ID: sessionID, UserID: userID, DeviceID: deviceID,
		Status: domain.StatusActive, CreatedAt: now,
	}, &domain.RefreshTokenRecord{
		ID: sessionID + "-rt", Salt: salt,
		SecretHash: security.HashOpaqueSecret(salt, secret),
		DeviceID:   deviceID, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestRevokeDevicesReportsActualOutcome(t *testing.T) {
	st := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	svc := NewRevocationService(st, nil, notifier)
	seed(t, st, "s1", "u1", "d1")
	seed(t, st, "s2", "u1", "d1")
	seed(t, st, "s3", "u1", "d2")

	out, err := svc.RevokeDevices(context.Background(), "u1", []string{"d1"}, domain.ReasonUserRequest, "s3", false)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(out.RevokedSessionIDs) != 2 {
		t.Fatalf("revoked sessions = %v, want s1 and s2", out.RevokedSessionIDs)
	}
	if !slices.Equal(out.RevokedDeviceIDs, []string{"d1"}) {
		t.Fatalf("revoked devices = %v", out.RevokedDeviceIDs)
	}

	calls := notifier.wait(t, 1)
	if calls[0].Reason != domain.ReasonUserRequest || len(calls[0].SessionIDs) != 2 {
		t.Fatalf("notification = %+v", calls[0])
	}

	// Second call transitions nothing and stays quiet.
	out, err = svc.RevokeDevices(context.Background(), "u1", []string{"d1"}, domain.ReasonUserRequest, "s3", false)
	if err != nil {
		t.Fatalf("repeat revoke: %v", err)
	}
	if len(out.RevokedSessionIDs) != 0 || len(out.RevokedDeviceIDs) != 0 {
		t.Fatalf("repeat outcome = %+v, want empty", out)
	}
	if out.RevokedSessionIDs == nil || out.RevokedDeviceIDs == nil {
		t.Fatal("outcome lists must be empty, not nil")
	}
}

func TestRevokeAllIncludeCurrent(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewRevocationService(st, nil, nil)
	seed(t, st, "s1", "u1", "d1")
	seed(t, st, "s2", "u1", "d2")

	out, err := svc.RevokeAll(context.Background(), "u1", domain.ReasonUserRequest, "s1", false)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if !slices.Equal(out.RevokedSessionIDs, []string{"s2"}) {
		t.Fatalf("revoked = %v, want only s2", out.RevokedSessionIDs)
	}

	out, err = svc.RevokeAll(context.Background(), "u1", domain.ReasonUserRequest, "s1", true)
	if err != nil {
		t.Fatalf("revoke all include current: %v", err)
	}
	if !slices.Equal(out.RevokedSessionIDs, []string{"s1"}) {
		t.Fatalf("revoked = %v, want s1", out.RevokedSessionIDs)
	}
}

func TestRevokeSessionsSkipsForeignSessions(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewRevocationService(st, nil, nil)
	seed(t, st, "s1", "u1", "d1")
	seed(t, st, "s2", "u2", "d2")

	out, err := svc.RevokeSessions(context.Background(), "u1", []string{"s1", "s2", "missing"}, domain.ReasonAdminAction)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !slices.Equal(out.RevokedSessionIDs, []string{"s1"}) {
		t.Fatalf("revoked = %v, want only s1", out.RevokedSessionIDs)
	}
	got, _ := st.GetSession(context.Background(), "s2")
	if got.Status == domain.StatusRevoked {
		t.Fatal("foreign session revoked")
	}
}
