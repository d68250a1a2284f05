package service

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized covers every credential failure the caller should not
	// be able to distinguish: unknown client, secret mismatch, unknown or
	// expired refresh token, bad access token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrReuseDetected is returned when an already-consumed refresh token is
	// presented again. The whole lineage has been revoked by the time the
	// caller sees this.
	ErrReuseDetected = errors.New("refresh_token_reuse")

	// ErrForbidden means the client authenticated fine but asked for more
	// than it is allowed, such as scopes outside its grant.
	ErrForbidden = errors.New("forbidden")

	// ErrThrottled means the per-client rate limit window is exhausted.
	ErrThrottled = errors.New("rate_limited")

	// ErrTransient wraps store failures and timeouts. Callers should surface
	// it as a retryable condition, never as a credential failure.
	ErrTransient = errors.New("transient")
)

// ReuseDetectedError carries the lineage that was revoked in response to a
// replayed refresh token. It unwraps to ErrReuseDetected.
type ReuseDetectedError struct {
	ClientID  string
	LineageID string
}

func (e *ReuseDetectedError) Error() string {
	return fmt.Sprintf("refresh token reuse detected for client %s (lineage %s)", e.ClientID, e.LineageID)
}

func (e *ReuseDetectedError) Unwrap() error { return ErrReuseDetected }

// transientf wraps a store error so it surfaces as ErrTransient while keeping
// the cause in the message.
func transientf(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}
