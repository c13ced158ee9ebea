package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"session-control-plane/internal/pat/repository"
	"session-control-plane/internal/security"
)

func newTestService() *PATService {
	// bcrypt min cost keeps the tests fast.
	return NewPATService(repository.NewMemoryRepository(), security.NewHasher(4))
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	raw, token, err := svc.Issue(ctx, "u1", "org-1", "ci-runner", []string{"sync.read"}, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(raw, security.PATPrefix) {
		t.Fatalf("wire form %q missing prefix", raw)
	}
	if token.SecretHash == "" || strings.Contains(raw, token.SecretHash) {
		t.Fatal("secret hash missing or leaked into wire form")
	}

	p, err := svc.Authenticate(ctx, raw)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.Subject != "pat:"+token.ID || p.UserID != "u1" || p.OrgID != "org-1" {
		t.Fatalf("principal = %+v", p)
	}
	if len(p.Scopes) != 1 || p.Scopes[0] != "sync.read" {
		t.Fatalf("scopes = %v", p.Scopes)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	raw, token, err := svc.Issue(ctx, "u1", "org-1", "ci", nil, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []string{
		"",
		"garbage",
		"rt_" + strings.TrimPrefix(raw, security.PATPrefix),
		security.EncodeOpaqueToken(security.PATPrefix, token.ID, "wrong-secret"),
		security.EncodeOpaqueToken(security.PATPrefix, "no-such-id", "secret"),
	}
	for _, c := range cases {
		if _, err := svc.Authenticate(ctx, c); !errors.Is(err, ErrInvalidPAT) {
			t.Fatalf("Authenticate(%q) err = %v, want ErrInvalidPAT", c, err)
		}
	}
}

func TestRevokeStopsAuthentication(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	raw, token, err := svc.Issue(ctx, "u1", "org-1", "ci", nil, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := svc.Revoke(ctx, "other-user", token.ID); !errors.Is(err, ErrInvalidPAT) {
		t.Fatalf("foreign revoke err = %v, want ErrInvalidPAT", err)
	}
	if err := svc.Revoke(ctx, "u1", token.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := svc.Revoke(ctx, "u1", token.ID); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if _, err := svc.Authenticate(ctx, raw); !errors.Is(err, ErrInvalidPAT) {
		t.Fatalf("authenticate after revoke err = %v, want ErrInvalidPAT", err)
	}
}

func TestIssueExpiry(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, token, err := svc.Issue(ctx, "u1", "org-1", "short", nil, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token.ExpiresAt == nil {
		t.Fatal("expiry not set")
	}
	if !token.Usable(time.Now().UTC()) {
		t.Fatal("token should be usable before expiry")
	}
	if token.Usable(token.ExpiresAt.Add(time.Minute)) {
		t.Fatal("token usable past expiry")
	}
}

func TestIssueDuplicateName(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, _, err := svc.Issue(ctx, "u1", "org-1", "ci", nil, 0); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := svc.Issue(ctx, "u1", "org-1", "ci", nil, 0); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("err = %v, want ErrNameTaken", err)
	}
}
