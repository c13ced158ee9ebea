package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"session-control-plane/internal/ids"
	"session-control-plane/internal/pat/domain"
	"session-control-plane/internal/pat/repository"
	"session-control-plane/internal/security"
)

var (
	// ErrInvalidPAT covers unknown, malformed, expired, and revoked tokens.
	// Callers get no distinction, the audit trail does.
	ErrInvalidPAT = errors.New("invalid personal access token")
	ErrNameTaken  = errors.New("a token with this name already exists")
)

// Principal is the verified identity behind a personal access token.
// Subject is the "pat:<id>" form used in scoped token claims.
type Principal struct {
	Subject string
	PATID   string
	UserID  string
	OrgID   string
	Scopes  []string
}

// PATService issues, authenticates, and revokes personal access tokens.
type PATService struct {
	repo   repository.Repository
	hasher *security.Hasher
}

func NewPATService(repo repository.Repository, hasher *security.Hasher) *PATService {
	return &PATService{repo: repo, hasher: hasher}
}

// Issue mints a token for the user. The returned wire form is shown once;
// only its bcrypt hash is stored. ttl of zero means no expiry.
func (s *PATService) Issue(ctx context.Context, userID, orgID, name string, scopes []string, ttl time.Duration) (string, *domain.PersonalAccessToken, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "token"
	}
	existing, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	for _, t := range existing {
		if t.RevokedAt == nil && t.Name == name {
			return "", nil, ErrNameTaken
		}
	}

	secret, _, err := security.NewOpaqueSecret()
	if err != nil {
		return "", nil, err
	}
	hash, err := s.hasher.Hash([]byte(secret))
	if err != nil {
		return "", nil, err
	}
	now := time.Now().UTC()
	token := &domain.PersonalAccessToken{
		ID:         ids.New(),
		UserID:     userID,
		OrgID:      orgID,
		Name:       name,
		SecretHash: hash,
		Scopes:     append([]string(nil), scopes...),
		CreatedAt:  now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		token.ExpiresAt = &exp
	}
	if err := s.repo.Create(ctx, token); err != nil {
		return "", nil, err
	}
	return security.EncodeOpaqueToken(security.PATPrefix, token.ID, secret), token, nil
}

// Authenticate resolves the wire form to its principal. Unknown ids, wrong
// secrets, expired and revoked tokens all return ErrInvalidPAT.
func (s *PATService) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	id, secret, err := security.SplitOpaqueToken(security.PATPrefix, raw)
	if err != nil {
		return nil, ErrInvalidPAT
	}
	token, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if token == nil || !token.Usable(now) {
		return nil, ErrInvalidPAT
	}
	if err := s.hasher.Compare(token.SecretHash, []byte(secret)); err != nil {
		return nil, ErrInvalidPAT
	}
	_ = s.repo.TouchLastUsed(ctx, token.ID, now)
	return &Principal{
		Subject: "pat:" + token.ID,
		PATID:   token.ID,
		UserID:  token.UserID,
		OrgID:   token.OrgID,
		Scopes:  append([]string(nil), token.Scopes...),
	}, nil
}

// List returns the user's tokens, revoked ones included.
func (s *PATService) List(ctx context.Context, userID string) ([]*domain.PersonalAccessToken, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Revoke disables the token. Idempotent; revoking a token owned by someone
// else reports ErrInvalidPAT.
func (s *PATService) Revoke(ctx context.Context, userID, tokenID string) error {
	token, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		return err
	}
	if token == nil || token.UserID != userID {
		return ErrInvalidPAT
	}
	return s.repo.Revoke(ctx, tokenID, time.Now().UTC())
}
