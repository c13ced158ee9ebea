package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"slices"
	"testing"
	"time"

	membershipdomain "session-control-plane/internal/membership/domain"
	membershiprepo "session-control-plane/internal/membership/repository"
	"session-control-plane/internal/policy/engine"
	"session-control-plane/internal/security"
)

func newTestMinter(t *testing.T) (*Minter, *security.ClaimsSigner, *security.ClaimsSigner) {
	t.Helper()
	syncKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	khalaKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	syncSigner := security.NewClaimsSigner(syncKey, syncKey.Public(), "scp-auth", "scp-sync", 1, 5*time.Minute)
	khalaSigner := security.NewClaimsSigner(khalaKey, khalaKey.Public(), "scp-khala", "scp-khala-runtime", 2, 5*time.Minute)

	memberships := membershiprepo.NewMemoryRepository()
	_ = memberships.Upsert(context.Background(), &membershipdomain.OrgMembership{
		UserID:      "u1",
		OrgID:       "org-1",
		Role:        "member",
		Scopes:      []string{"sync.read", "sync.write", "khala.subscribe"},
		TopicGrants: []string{"org/org-1", "autopilot/*"},
	})
	m := NewMinter(syncSigner, khalaSigner, memberships, engine.NewOPAEvaluator(nil), nil)
	return m, syncSigner, khalaSigner
}

func TestMintSyncToken(t *testing.T) {
	m, syncSigner, _ := newTestMinter(t)
	res, err := m.Mint(context.Background(), MintRequest{
		Family:    FamilySync,
		Subject:   "u1",
		UserID:    "u1",
		SessionID: "s1",
		OrgID:     "org-1",
		Scopes:    []string{"sync.read", "sync.write"},
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if res.ClaimsVersion != 1 {
		t.Fatalf("claims version = %d, want 1", res.ClaimsVersion)
	}
	claims, err := syncSigner.Validate(res.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "u1" || claims.SessionID != "s1" || claims.OrgID != "org-1" {
		t.Fatalf("claims = %+v", claims)
	}
	if !slices.Equal(claims.Scopes, []string{"sync.read", "sync.write"}) {
		t.Fatalf("scopes = %v", claims.Scopes)
	}
}

func TestMintKhalaTokenWithTopics(t *testing.T) {
	m, _, khalaSigner := newTestMinter(t)
	res, err := m.Mint(context.Background(), MintRequest{
		Family:  FamilyKhala,
		Subject: "u1",
		UserID:  "u1",
		OrgID:   "org-1",
		Scopes:  []string{"khala.subscribe"},
		Topics:  []string{"org/org-1", "autopilot/ap-9"},
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := khalaSigner.Validate(res.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.ClaimsVersion != 2 {
		t.Fatalf("claims version = %d, want 2", claims.ClaimsVersion)
	}
	if !slices.Equal(claims.GrantedTopics, []string{"org/org-1", "autopilot/ap-9"}) {
		t.Fatalf("granted topics = %v", claims.GrantedTopics)
	}

	// One ungranted topic sinks the whole request, even though the others
	// and the scope itself were grantable.
	_, err = m.Mint(context.Background(), MintRequest{
		Family:  FamilyKhala,
		Subject: "u1",
		UserID:  "u1",
		OrgID:   "org-1",
		Scopes:  []string{"khala.subscribe"},
		Topics:  []string{"org/org-1", "device/d-3"},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestMintUnknownScope(t *testing.T) {
	m, _, _ := newTestMinter(t)
	_, err := m.Mint(context.Background(), MintRequest{
		Family: FamilySync, Subject: "u1", UserID: "u1", OrgID: "org-1",
		Scopes: []string{"sync.read", "fleet.admin"},
	})
	if !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("err = %v, want ErrInvalidScope", err)
	}
	// Empty scope lists are requests for nothing.
	_, err = m.Mint(context.Background(), MintRequest{
		Family: FamilySync, Subject: "u1", UserID: "u1", OrgID: "org-1",
	})
	if !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("err = %v, want ErrInvalidScope", err)
	}
}

func TestMintMalformedTopics(t *testing.T) {
	m, _, _ := newTestMinter(t)
	for _, topic := range []string{"orgs/org-1", "org", "org/", "org/*", "org/a/b"} {
		_, err := m.Mint(context.Background(), MintRequest{
			Family: FamilyKhala, Subject: "u1", UserID: "u1", OrgID: "org-1",
			Scopes: []string{"khala.subscribe"},
			Topics: []string{topic},
		})
		if !errors.Is(err, ErrInvalidTopic) {
			t.Fatalf("topic %q err = %v, want ErrInvalidTopic", topic, err)
		}
	}
}

func TestMintPolicyDenial(t *testing.T) {
	m, _, _ := newTestMinter(t)
	// khala.publish is a known scope the membership does not carry.
	_, err := m.Mint(context.Background(), MintRequest{
		Family: FamilyKhala, Subject: "u1", UserID: "u1", OrgID: "org-1",
		Scopes: []string{"khala.publish"},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	// A topic outside the member's grants fails the request.
	_, err = m.Mint(context.Background(), MintRequest{
		Family: FamilyKhala, Subject: "u1", UserID: "u1", OrgID: "org-1",
		Scopes: []string{"khala.subscribe"},
		Topics: []string{"device/d-1"},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestMintNonMember(t *testing.T) {
	m, _, _ := newTestMinter(t)
	_, err := m.Mint(context.Background(), MintRequest{
		Family: FamilySync, Subject: "u2", UserID: "u2", OrgID: "org-1",
		Scopes: []string{"sync.read"},
	})
	if !errors.Is(err, ErrNotOrgMember) {
		t.Fatalf("err = %v, want ErrNotOrgMember", err)
	}
}

func TestMintSubjectScopeNarrowing(t *testing.T) {
	m, _, _ := newTestMinter(t)
	// A PAT carrying only sync.read cannot mint sync.write even though the
	// membership grants it.
	_, err := m.Mint(context.Background(), MintRequest{
		Family: FamilySync, Subject: "pat:t1", UserID: "u1", OrgID: "org-1",
		Scopes:        []string{"sync.write"},
		SubjectScopes: []string{"sync.read"},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	res, err := m.Mint(context.Background(), MintRequest{
		Family: FamilySync, Subject: "pat:t1", UserID: "u1", OrgID: "org-1",
		Scopes:        []string{"sync.read"},
		SubjectScopes: []string{"sync.read"},
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !slices.Equal(res.Scopes, []string{"sync.read"}) {
		t.Fatalf("scopes = %v", res.Scopes)
	}
}

func TestMintUnavailableSigner(t *testing.T) {
	memberships := membershiprepo.NewMemoryRepository()
	_ = memberships.Upsert(context.Background(), &membershipdomain.OrgMembership{
		UserID: "u1", OrgID: "org-1", Scopes: []string{"sync.read"},
	})
	m := NewMinter(nil, nil, memberships, engine.NewOPAEvaluator(nil), nil)
	_, err := m.Mint(context.Background(), MintRequest{
		Family: FamilySync, Subject: "u1", UserID: "u1", OrgID: "org-1",
		Scopes: []string{"sync.read"},
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if _, err := m.Mint(context.Background(), MintRequest{Family: "bogus"}); !errors.Is(err, ErrUnknownFamily) {
		t.Fatalf("err = %v, want ErrUnknownFamily", err)
	}
}
