package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessClaims holds JWT claims for the access token. Refresh tokens are
// opaque store-backed secrets and never JWTs.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	OrgID     string `json:"org_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	// TokenName records the client identity the token was minted for
	// (e.g. "mobile:ios-app").
	TokenName string `json:"token_name,omitempty"`
}

// AccessIdentity is the verified identity carried by an access token.
type AccessIdentity struct {
	SessionID string
	UserID    string
	OrgID     string
	DeviceID  string
	TokenName string
}

// TokenProvider issues and validates JWT access tokens using RS256 or ES256 (private/public key).
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and validated on every access check.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
	}
}

// Configured reports whether signing key material is present.
func (p *TokenProvider) Configured() bool {
	return p != nil && p.privateKey != nil && p.publicKey != nil
}

// IssueAccess issues a short-lived access JWT bound to the given session.
// deviceID and name may be empty. Returns the token string and expiration time.
func (p *TokenProvider) IssueAccess(sessionID, userID, orgID, deviceID, name string) (token string, expiresAt time.Time, err error) {
	if !p.Configured() {
		return "", time.Time{}, ErrInvalidToken
	}
	jti, err := GenerateID()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
		OrgID:     orgID,
		DeviceID:  deviceID,
		TokenName: name,
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud).
// The session behind the token may still be revoked; callers must consult the
// session store before trusting the identity.
func (p *TokenProvider) ValidateAccess(tokenString string) (AccessIdentity, error) {
	if !p.Configured() {
		return AccessIdentity{}, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, p.keyFunc)
	if err != nil {
		return AccessIdentity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return AccessIdentity{}, ErrInvalidToken
	}
	if claims.Issuer != p.issuer || !hasAudience(claims.Audience, p.audience) {
		return AccessIdentity{}, ErrInvalidToken
	}
	return AccessIdentity{
		SessionID: claims.SessionID,
		UserID:    claims.Subject,
		OrgID:     claims.OrgID,
		DeviceID:  claims.DeviceID,
		TokenName: claims.TokenName,
	}, nil
}

func (p *TokenProvider) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		return p.publicKey, nil
	}
	return nil, ErrInvalidToken
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

// GenerateID returns a random 128-bit hex string, used for jti values and
// opaque record ids.
func GenerateID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
