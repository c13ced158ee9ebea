package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"session-control-plane/internal/events"
	membershipdomain "session-control-plane/internal/membership/domain"
	"session-control-plane/internal/policy/engine"
	"session-control-plane/internal/security"
)

// Family selects which signing identity a scoped token is minted under.
type Family string

const (
	// FamilySync tokens authorize data-plane sync calls.
	FamilySync Family = "sync"
	// FamilyKhala tokens authorize realtime pub/sub subscriptions.
	FamilyKhala Family = "khala"
)

// Sentinel errors; the HTTP layer maps them to error codes and status lines.
var (
	ErrInvalidScope  = errors.New("requested scope is not recognized")
	ErrInvalidTopic  = errors.New("requested topic is malformed")
	ErrForbidden     = errors.New("policy denies the requested grant")
	ErrNotOrgMember  = errors.New("principal has no membership in the org")
	ErrUnavailable   = errors.New("token signer is not configured")
	ErrUnknownFamily = errors.New("unknown token family")
)

// knownScopes is the closed scope vocabulary. Anything outside it is an
// invalid request, not a policy denial.
var knownScopes = map[string]bool{
	"runtime.read":    true,
	"runtime.write":   true,
	"sync.read":       true,
	"sync.write":      true,
	"khala.subscribe": true,
	"khala.publish":   true,
}

// knownTopicKinds closes the topic namespace. Topics are "<kind>/<resource>".
var knownTopicKinds = map[string]bool{
	"org":       true,
	"autopilot": true,
	"device":    true,
}

// MintRequest describes one scoped token request. Subject is the user id or
// "pat:<id>". SubjectScopes narrows the membership grant for PAT principals;
// nil means no narrowing.
type MintRequest struct {
	Family        Family
	Subject       string
	UserID        string
	SessionID     string
	OrgID         string
	DeviceID      string
	Scopes        []string
	Topics        []string
	SubjectScopes []string
}

// MintResult is the minted token plus the grants it carries.
type MintResult struct {
	Token         string
	ExpiresAt     time.Time
	ClaimsVersion int
	Scopes        []string
	Topics        []string
}

// MembershipRepo is the minimal membership lookup the minter needs.
type MembershipRepo interface {
	Get(ctx context.Context, userID, orgID string) (*membershipdomain.OrgMembership, error)
}

// Minter mints policy-scoped sync and khala tokens. The caller has already
// authenticated the principal and checked session liveness; the minter owns
// scope vocabulary, topic syntax, and the policy consultation.
type Minter struct {
	syncSigner  *security.ClaimsSigner
	khalaSigner *security.ClaimsSigner
	memberships MembershipRepo
	policy      engine.Evaluator
	emitter     events.Emitter
}

// NewMinter returns a Minter. Either signer may be unconfigured; requests for
// that family then fail with ErrUnavailable.
func NewMinter(syncSigner, khalaSigner *security.ClaimsSigner, memberships MembershipRepo, policy engine.Evaluator, emitter events.Emitter) *Minter {
	return &Minter{
		syncSigner:  syncSigner,
		khalaSigner: khalaSigner,
		memberships: memberships,
		policy:      policy,
		emitter:     emitter,
	}
}

// Mint validates the request, consults policy, and signs the token.
// Grants are all or nothing: one denied scope or one topic outside the org's
// policy fails the whole request, even when everything else was grantable.
func (m *Minter) Mint(ctx context.Context, req MintRequest) (*MintResult, error) {
	signer, err := m.signerFor(req.Family)
	if err != nil {
		return nil, err
	}
	if err := validateScopes(req.Scopes); err != nil {
		return nil, err
	}
	if err := validateTopics(req.Topics); err != nil {
		return nil, err
	}

	member, err := m.memberships.Get(ctx, req.UserID, req.OrgID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotOrgMember
	}
	memberScopes := member.Scopes
	if req.SubjectScopes != nil {
		memberScopes = intersect(memberScopes, req.SubjectScopes)
	}

	decision, err := m.policy.Authorize(ctx, engine.Input{
		Principal:       req.Subject,
		OrgID:           req.OrgID,
		DeviceID:        req.DeviceID,
		MemberRole:      member.Role,
		MemberScopes:    memberScopes,
		TopicGrants:     member.TopicGrants,
		RequestedScopes: req.Scopes,
		RequestedTopics: req.Topics,
	})
	if err != nil {
		return nil, err
	}

	for _, s := range req.Scopes {
		if !slices.Contains(decision.AllowedScopes, s) {
			return nil, ErrForbidden
		}
	}
	for _, t := range req.Topics {
		if !slices.Contains(decision.AllowedTopics, t) {
			return nil, ErrForbidden
		}
	}

	token, expiresAt, err := signer.Mint(req.Subject, req.SessionID, req.OrgID, req.DeviceID, decision.AllowedScopes, decision.AllowedTopics)
	if err != nil {
		return nil, err
	}

	events.EmitAsync(m.emitter, &events.SecurityEvent{
		Type:   events.TypeScopedTokenMint,
		UserID: req.UserID,
		OrgID:  req.OrgID,
		Detail: map[string]string{
			"family": string(req.Family),
			"scopes": strings.Join(decision.AllowedScopes, " "),
			"topics": strings.Join(decision.AllowedTopics, " "),
		},
	})

	return &MintResult{
		Token:         token,
		ExpiresAt:     expiresAt,
		ClaimsVersion: signer.Version(),
		Scopes:        decision.AllowedScopes,
		Topics:        decision.AllowedTopics,
	}, nil
}

func (m *Minter) signerFor(f Family) (*security.ClaimsSigner, error) {
	var signer *security.ClaimsSigner
	switch f {
	case FamilySync:
		signer = m.syncSigner
	case FamilyKhala:
		signer = m.khalaSigner
	default:
		return nil, ErrUnknownFamily
	}
	if !signer.Configured() {
		return nil, ErrUnavailable
	}
	return signer, nil
}

func validateScopes(scopes []string) error {
	if len(scopes) == 0 {
		return ErrInvalidScope
	}
	for _, s := range scopes {
		if !knownScopes[s] {
			return ErrInvalidScope
		}
	}
	return nil
}

// validateTopics checks the "<kind>/<resource>" shape. Wildcard resources are
// grant-side only; a request must name concrete resources.
func validateTopics(topics []string) error {
	for _, t := range topics {
		kind, resource, ok := strings.Cut(t, "/")
		if !ok || !knownTopicKinds[kind] {
			return ErrInvalidTopic
		}
		if resource == "" || resource == "*" || strings.Contains(resource, "/") {
			return ErrInvalidTopic
		}
	}
	return nil
}

func intersect(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, s := range a {
		if slices.Contains(b, s) {
			out = append(out, s)
		}
	}
	return out
}
