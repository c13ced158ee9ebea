package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// Opaque bearer secrets (refresh tokens, personal access tokens) travel as
// "<prefix><record-id>.<secret>". Only a salted SHA-256 hash of the secret is
// stored; the record id makes lookup possible without an index on the hash.
const (
	RefreshTokenPrefix = "rt_"
	PATPrefix          = "pat_"
)

var errMalformedOpaqueToken = errors.New("malformed opaque token")

// NewOpaqueSecret returns a fresh 256-bit URL-safe secret and its random salt.
func NewOpaqueSecret() (secret, salt string, err error) {
	sb := make([]byte, 32)
	if _, err := rand.Read(sb); err != nil {
		return "", "", err
	}
	saltb := make([]byte, 16)
	if _, err := rand.Read(saltb); err != nil {
		return "", "", err
	}
	return base64.RawURLEncoding.EncodeToString(sb), hex.EncodeToString(saltb), nil
}

// HashOpaqueSecret returns the hex SHA-256 of salt||secret for storage.
func HashOpaqueSecret(salt, secret string) string {
	h := sha256.Sum256([]byte(salt + secret))
	return hex.EncodeToString(h[:])
}

// OpaqueSecretEqual performs constant-time comparison of the provided secret's
// salted hash with the stored hash. Returns true only if they match.
func OpaqueSecretEqual(secret, salt, storedHash string) bool {
	providedHash := HashOpaqueSecret(salt, secret)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// EncodeOpaqueToken builds the wire form "<prefix><id>.<secret>".
func EncodeOpaqueToken(prefix, id, secret string) string {
	return prefix + id + "." + secret
}

// SplitOpaqueToken parses the wire form back into record id and secret.
// Returns an error when the prefix is wrong or either part is empty.
func SplitOpaqueToken(prefix, raw string) (id, secret string, err error) {
	if !strings.HasPrefix(raw, prefix) {
		return "", "", errMalformedOpaqueToken
	}
	id, secret, ok := strings.Cut(raw[len(prefix):], ".")
	if !ok || id == "" || secret == "" {
		return "", "", errMalformedOpaqueToken
	}
	return id, secret, nil
}
