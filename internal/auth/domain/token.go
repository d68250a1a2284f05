package domain

import "time"

// TokenPair is what a successful authenticate or refresh returns: the signed
// access token and the opaque single-use refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string // "Bearer"
	ExpiresIn    time.Duration
	Scope        string // space-delimited
}

// RefreshToken models a stored refresh-token record. The opaque value itself
// is never stored; TokenHash is its SHA-256 fingerprint.
//
// A token is in exactly one state at any time:
//   - active:   ConsumedAt == nil, !Revoked, not expired
//   - consumed: ConsumedAt != nil (exchanged exactly once; seeing it again is
//     a reuse signal)
//   - anything else behaves as unknown at the API boundary
type RefreshToken struct {
	ID         string
	ClientID   string
	TokenHash  string
	LineageID  string // rotation family, assigned at authenticate and inherited across refreshes
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	Revoked    bool // set only by lineage remediation after reuse detection
	CreatedAt  time.Time
}

// Active reports whether the token could still be redeemed at the given time.
func (t RefreshToken) Active(now time.Time) bool {
	return t.ConsumedAt == nil && !t.Revoked && now.Before(t.ExpiresAt)
}
