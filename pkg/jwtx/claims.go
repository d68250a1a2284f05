// Package jwtx mints and verifies the signed access tokens the service hands
// to machine clients. One process-wide signing key, loaded at startup; the
// verifier is pinned to the configured algorithm so tokens signed under a
// different scheme never validate.
package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes. Access tokens are deliberately short; refresh
// tokens carry the long-lived session.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Claims are the access-token claims. The subject is always a client_id;
// scopes and role are snapshots of the client record at mint time.
type Claims struct {
	jwt.RegisteredClaims

	// Scopes the client held when the token was minted, e.g. ["read","write"].
	Scopes []string `json:"scopes,omitempty"`

	// Role is the client's single role string, e.g. "admin" or "service".
	Role string `json:"role,omitempty"`
}

// NewAccessClaims builds minimally-correct claims for a machine client.
func NewAccessClaims(
	clientID string,
	scopes []string,
	role string,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Scopes: scopes,
		Role:   role,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks the iss claim against the expected value, when set.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected != "" && c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateExpiry checks only the embedded absolute exp/nbf instants. The TTL
// is never re-derived, so clock skew between issuer and verifier reduces to
// a single wall-clock comparison.
func (c *Claims) ValidateExpiry(now time.Time) error {
	if c.ExpiresAt == nil {
		return ErrInvalidClaim
	}
	if !now.Before(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}

// HasScope reports whether the token carries the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
