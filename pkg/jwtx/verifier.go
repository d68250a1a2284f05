package jwtx

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

// Verifier validates a compact token string and returns its claims.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// algVerifier validates tokens under exactly one configured algorithm. A token
// whose header names any other algorithm fails with ErrAlgMismatch even when
// its signature would verify under that other scheme.
type algVerifier struct {
	alg    string
	key    any // []byte for HS256, ed25519.PublicKey for EdDSA
	issuer string
}

// NewVerifierHS256 builds a verifier for HMAC-SHA256 tokens.
func NewVerifierHS256(secret []byte, issuer string) Verifier {
	return &algVerifier{alg: AlgHS256, key: secret, issuer: issuer}
}

// NewVerifierEdDSA builds a verifier for Ed25519 tokens.
func NewVerifierEdDSA(pub ed25519.PublicKey, issuer string) Verifier {
	return &algVerifier{alg: AlgEdDSA, key: pub, issuer: issuer}
}

func (v *algVerifier) Verify(tokenStr string) (Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{v.alg}))

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != v.alg {
			return nil, ErrAlgMismatch
		}
		return v.key, nil
	})
	if err != nil {
		return Claims{}, mapParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidClaim
	}

	if err := claims.ValidateIssuer(v.issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiry(time.Now().UTC()); err != nil {
		return Claims{}, err
	}

	return *claims, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrAlgMismatch):
		return ErrAlgMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// WithValidMethods rejections land here before the keyfunc runs.
		return ErrAlgMismatch
	default:
		return ErrInvalidClaim
	}
}
