package domain

import "time"

// Audit event types. The set is closed; monitoring keys off these exact strings.
const (
	AuditLoginSuccess        = "login_success"
	AuditLoginFailure        = "login_failure"
	AuditRefreshTokenReuse   = "refresh_token_reuse"
	AuditRefreshTokenInvalid = "refresh_token_invalid"
	AuditTokenRevoked        = "token_revoked"
	AuditTokenInvalid        = "token_invalid"
	AuditRateLimitExceeded   = "rate_limit_exceeded"
)

// AuditEvent is an immutable security-event record. Appended, never mutated.
type AuditEvent struct {
	ID        string
	EventType string
	ClientID  string // empty when the identity is unknown
	Origin    string // originating address, empty when not applicable
	Reason    string
	CreatedAt time.Time
}
