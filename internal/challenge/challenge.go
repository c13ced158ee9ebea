// Package challenge implements the stateless email challenge that bootstraps
// sessions. A pending challenge is never server-side state: it is an
// HMAC-signed, time-bound value carried in a cookie and verified purely by
// signature and expiry.
package challenge

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const codeDigits = 6

// Sentinel errors; the HTTP layer maps all of them to invalid_request.
var (
	ErrMalformed    = errors.New("challenge: malformed value")
	ErrBadSignature = errors.New("challenge: signature mismatch")
	ErrExpired      = errors.New("challenge: expired")
	ErrCodeMismatch = errors.New("challenge: code mismatch")
)

// payload is the signed body of a pending challenge. The one-time code is
// never embedded directly, only its hash.
type payload struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	CodeHash string `json:"code_hash"`
	Expires  int64  `json:"exp"`
}

// Issuer mints and verifies signed challenge values.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	// staticCode, when non-empty, replaces the random code. Dev/test only.
	staticCode string
	now        func() time.Time
}

// NewIssuer returns an Issuer signing with secret. staticCode may be empty.
func NewIssuer(secret string, ttl time.Duration, staticCode string) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		ttl:        ttl,
		staticCode: staticCode,
		now:        time.Now,
	}
}

// Configured reports whether a signing secret is present.
func (i *Issuer) Configured() bool {
	return i != nil && len(i.secret) > 0
}

// Mint creates a pending challenge for email. Returns the one-time code to be
// delivered out of band and the signed opaque value to set as a cookie.
func (i *Issuer) Mint(email, displayName string) (code, signed string, err error) {
	if !i.Configured() {
		return "", "", ErrMalformed
	}
	code = i.staticCode
	if code == "" {
		code, err = generateCode()
		if err != nil {
			return "", "", err
		}
	}
	p := payload{
		Email:    strings.TrimSpace(strings.ToLower(email)),
		Name:     strings.TrimSpace(displayName),
		CodeHash: hashCode(code),
		Expires:  i.now().Add(i.ttl).Unix(),
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", "", err
	}
	seg := base64.RawURLEncoding.EncodeToString(body)
	return code, seg + "." + i.sign(seg), nil
}

// Verify checks the signed challenge value and the supplied code.
// Returns the challenge email and display name on success.
func (i *Issuer) Verify(signed, code string) (email, displayName string, err error) {
	if !i.Configured() {
		return "", "", ErrMalformed
	}
	seg, sig, ok := strings.Cut(signed, ".")
	if !ok || seg == "" || sig == "" {
		return "", "", ErrMalformed
	}
	if subtle.ConstantTimeCompare([]byte(i.sign(seg)), []byte(sig)) != 1 {
		return "", "", ErrBadSignature
	}
	body, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return "", "", ErrMalformed
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", "", ErrMalformed
	}
	if i.now().Unix() > p.Expires {
		return "", "", ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(p.CodeHash)) != 1 {
		return "", "", ErrCodeMismatch
	}
	return p.Email, p.Name, nil
}

func (i *Issuer) sign(seg string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(seg))
	return hex.EncodeToString(mac.Sum(nil))
}

// generateCode returns a 6-digit numeric one-time code using crypto/rand.
func generateCode() (string, error) {
	b := make([]byte, codeDigits)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := make([]byte, codeDigits)
	for i := 0; i < codeDigits; i++ {
		s[i] = '0' + (b[i] % 10)
	}
	return string(s), nil
}

func hashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}
