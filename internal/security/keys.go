package security

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"
)

// ErrInvalidKey is returned when signing key material cannot be parsed.
var ErrInvalidKey = errors.New("security: invalid signing key")

// SigningKeys is the loaded key material for one claim family (access/sync or
// khala). Each family signs with its own private key.
type SigningKeys struct {
	Signer crypto.Signer
	Public crypto.PublicKey
}

// LoadSigningKeys loads a family's key pair. Both specs accept inline PEM or a
// path to a PEM file. An empty pubSpec derives the public half from the
// signer, which covers single-key deployments where only the private key is
// distributed.
func LoadSigningKeys(privSpec, pubSpec string) (SigningKeys, error) {
	signer, err := parseSigner(privSpec)
	if err != nil {
		return SigningKeys{}, err
	}
	if pubSpec == "" {
		return SigningKeys{Signer: signer, Public: signer.Public()}, nil
	}
	pub, err := parseVerifier(pubSpec)
	if err != nil {
		return SigningKeys{}, err
	}
	return SigningKeys{Signer: signer, Public: pub}, nil
}

// keyMaterial resolves a key spec to PEM bytes: inline PEM is used as-is,
// anything else is treated as a file path.
func keyMaterial(spec string) ([]byte, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(spec, "-----BEGIN") {
		return []byte(spec), nil
	}
	return os.ReadFile(spec)
}

// parseSigner parses an RSA or ECDSA private key from a key spec.
func parseSigner(spec string) (crypto.Signer, error) {
	block, err := decodeBlock(spec)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// parseVerifier parses an RSA or ECDSA public key from a key spec.
func parseVerifier(spec string) (crypto.PublicKey, error) {
	block, err := decodeBlock(spec)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

func decodeBlock(spec string) (*pem.Block, error) {
	raw, err := keyMaterial(spec)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}
