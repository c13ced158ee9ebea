package security

import (
	"crypto"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopedClaims holds JWT claims for a short-lived, narrowly-scoped token
// derived from a live session (the "sync" and "khala" families).
type ScopedClaims struct {
	jwt.RegisteredClaims
	Scopes        []string `json:"scopes"`
	GrantedTopics []string `json:"granted_topics,omitempty"`
	OrgID         string   `json:"org_id,omitempty"`
	DeviceID      string   `json:"device_id,omitempty"`
	SessionID     string   `json:"session_id,omitempty"`
	ClaimsVersion int      `json:"claims_version"`
}

// ClaimsSigner mints one family of scoped claim tokens. Each family has its
// own key material, issuer, audience, and claims version, so a token from one
// family never validates against another.
type ClaimsSigner struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	version    int
	ttl        time.Duration
}

// NewClaimsSigner returns a ClaimsSigner for one claim family. privateKey may
// be nil; Configured then reports false and Mint fails.
func NewClaimsSigner(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, version int, ttl time.Duration) *ClaimsSigner {
	return &ClaimsSigner{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		version:    version,
		ttl:        ttl,
	}
}

// Configured reports whether signing key material is present for this family.
func (s *ClaimsSigner) Configured() bool {
	return s != nil && s.privateKey != nil
}

// Version returns the claims_version this family stamps on its tokens.
func (s *ClaimsSigner) Version() int {
	if s == nil {
		return 0
	}
	return s.version
}

// Mint signs a scoped claims token for subject (a user id or "pat:<id>").
// sessionID, deviceID, and topics may be empty.
func (s *ClaimsSigner) Mint(subject, sessionID, orgID, deviceID string, scopes, topics []string) (token string, expiresAt time.Time, err error) {
	if !s.Configured() {
		return "", time.Time{}, ErrInvalidToken
	}
	jti, err := GenerateID()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(s.ttl)
	claims := ScopedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scopes:        scopes,
		GrantedTopics: topics,
		OrgID:         orgID,
		DeviceID:      deviceID,
		SessionID:     sessionID,
		ClaimsVersion: s.version,
	}
	signer := &TokenProvider{privateKey: s.privateKey, publicKey: s.publicKey}
	token, err = signer.sign(claims)
	return token, expiresAt, err
}

// Validate parses and validates a scoped token minted by this family.
// Used by tests and by the policy authorize endpoint when a scoped token is presented.
func (s *ClaimsSigner) Validate(tokenString string) (*ScopedClaims, error) {
	if s == nil || s.publicKey == nil {
		return nil, ErrInvalidToken
	}
	verifier := &TokenProvider{publicKey: s.publicKey}
	token, err := jwt.ParseWithClaims(tokenString, &ScopedClaims{}, verifier.keyFunc)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*ScopedClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != s.issuer || !hasAudience(claims.Audience, s.audience) {
		return nil, ErrInvalidToken
	}
	if claims.ClaimsVersion != s.version {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
