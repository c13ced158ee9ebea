package engine

import (
	"context"
	"slices"
	"testing"
	"time"

	"session-control-plane/internal/policy/domain"
	"session-control-plane/internal/policy/repository"
)

func TestHealthCheck(t *testing.T) {
	e := NewOPAEvaluator(nil)
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
}

func TestAuthorizeDefaultPolicy(t *testing.T) {
	e := NewOPAEvaluator(nil)
	d, err := e.Authorize(context.Background(), Input{
		Principal:       "u1",
		OrgID:           "org-1",
		MemberScopes:    []string{"sync.read", "sync.write"},
		TopicGrants:     []string{"org/org-1", "autopilot/*"},
		RequestedScopes: []string{"sync.read", "khala.publish"},
		RequestedTopics: []string{"org/org-1", "autopilot/ap-7", "device/d-2"},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !slices.Equal(d.AllowedScopes, []string{"sync.read"}) {
		t.Fatalf("allowed scopes = %v", d.AllowedScopes)
	}
	if !slices.Equal(d.AllowedTopics, []string{"org/org-1", "autopilot/ap-7"}) {
		t.Fatalf("allowed topics = %v", d.AllowedTopics)
	}
}

func TestAuthorizeEmptyMembership(t *testing.T) {
	e := NewOPAEvaluator(nil)
	d, err := e.Authorize(context.Background(), Input{
		Principal:       "u1",
		OrgID:           "org-1",
		RequestedScopes: []string{"sync.read"},
		RequestedTopics: []string{"org/org-1"},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if len(d.AllowedScopes) != 0 || len(d.AllowedTopics) != 0 {
		t.Fatalf("decision = %+v, want nothing allowed", d)
	}
}

func TestAuthorizeOrgPolicyOverridesDefault(t *testing.T) {
	repo := repository.NewMemoryRepository()
	// Org policy refuses every topic regardless of grants.
	_ = repo.Upsert(context.Background(), &domain.Policy{
		ID:    "p1",
		OrgID: "org-1",
		Name:  "no-topics",
		Rules: `package scp.token_scopes

default allowed_topics := []

allowed_scopes := [s |
	some s in input.requested.scopes
	s in input.membership.scopes
]
`,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	})
	e := NewOPAEvaluator(repo)
	d, err := e.Authorize(context.Background(), Input{
		Principal:       "u1",
		OrgID:           "org-1",
		MemberScopes:    []string{"sync.read"},
		TopicGrants:     []string{"org/org-1"},
		RequestedScopes: []string{"sync.read"},
		RequestedTopics: []string{"org/org-1"},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !slices.Equal(d.AllowedScopes, []string{"sync.read"}) {
		t.Fatalf("allowed scopes = %v", d.AllowedScopes)
	}
	if len(d.AllowedTopics) != 0 {
		t.Fatalf("allowed topics = %v, want none under org policy", d.AllowedTopics)
	}
}

func TestAuthorizeBrokenOrgPolicyFallsBack(t *testing.T) {
	repo := repository.NewMemoryRepository()
	_ = repo.Upsert(context.Background(), &domain.Policy{
		ID: "p1", OrgID: "org-1", Name: "broken",
		Rules:   "package scp.token_scopes\n\nthis is not rego",
		Enabled: true,
	})
	e := NewOPAEvaluator(repo)
	d, err := e.Authorize(context.Background(), Input{
		Principal:       "u1",
		OrgID:           "org-1",
		MemberScopes:    []string{"sync.read"},
		RequestedScopes: []string{"sync.read"},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !slices.Equal(d.AllowedScopes, []string{"sync.read"}) {
		t.Fatalf("allowed scopes = %v, want default policy result", d.AllowedScopes)
	}
}
