package jwtx

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Supported signing algorithms. HS256 signs with a shared secret; EdDSA signs
// with an Ed25519 private key in PKCS8 PEM form.
const (
	AlgHS256 = "HS256"
	AlgEdDSA = "EdDSA"
)

// MinHMACSecretLen is the smallest HS256 secret accepted, in bytes.
const MinHMACSecretLen = 32

// Signer is anything that can turn Claims into a compact signed token.
type Signer interface {
	Alg() string
	Sign(Claims) (string, error)
}

// HS256Signer signs tokens with an HMAC-SHA256 shared secret.
type HS256Signer struct {
	secret []byte
}

// NewSignerHS256 builds an HMAC signer. Secrets shorter than MinHMACSecretLen
// are refused outright; a guessable key invalidates every other control.
func NewSignerHS256(secret []byte) (*HS256Signer, error) {
	if len(secret) < MinHMACSecretLen {
		return nil, fmt.Errorf("jwtx: HS256 secret must be at least %d bytes, got %d", MinHMACSecretLen, len(secret))
	}
	return &HS256Signer{secret: secret}, nil
}

func (s *HS256Signer) Alg() string { return AlgHS256 }

func (s *HS256Signer) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// EdDSASigner signs tokens with an Ed25519 private key.
type EdDSASigner struct {
	key ed25519.PrivateKey
	pub ed25519.PublicKey
}

// NewSignerEdDSA loads an Ed25519 private key from PKCS8 PEM bytes.
func NewSignerEdDSA(pemKey []byte) (*EdDSASigner, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM for Ed25519 key")
	}
	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("jwtx: expected PRIVATE KEY block, got %q (Ed25519 requires PKCS8)", block.Type)
	}

	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse PKCS8: %w", err)
	}
	key, ok := priv.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwtx: not an Ed25519 private key")
	}

	return &EdDSASigner{key: key, pub: key.Public().(ed25519.PublicKey)}, nil
}

func (s *EdDSASigner) Alg() string { return AlgEdDSA }

func (s *EdDSASigner) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.key)
}

// PublicKey exposes the verification half for wiring up a Verifier.
func (s *EdDSASigner) PublicKey() ed25519.PublicKey { return s.pub }
