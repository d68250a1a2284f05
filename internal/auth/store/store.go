package store

import (
	"context"
	"errors"
	"time"

	"github.com/tanglebox/keywarden/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, plus the
// optional redis cache tier for the hot collections) implement this. Exposing
// sub-repositories keeps concerns tidy and lets a transaction hand out the
// same repos scoped to itself.
type Store interface {
	Clients() Clients
	RefreshTokens() RefreshTokens
	RevokedTokens() RevokedTokens
	RateLimits() RateLimits
	AuditEvents() AuditEvents

	ApplyMigrations() error

	// WithTx executes fn within a transaction, rolling back if fn errors.
	// Refresh rotation (consume + reissue) is the one multi-step operation
	// that must be atomic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped Store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Clients interface {
	// GetClientByID fetches one client for the client_credentials grant.
	GetClientByID(ctx context.Context, id string) (domain.Client, error)

	// CreateClient inserts a client. Provisioning is out of band; this exists
	// for seeding and operator tooling.
	CreateClient(ctx context.Context, c domain.Client) error
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new active refresh-token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the record for a token fingerprint,
	// whatever its state.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// ConsumeRefreshToken atomically transitions an active, unexpired token
	// to consumed. Returns true only for the single caller that performed
	// the transition; every concurrent or later attempt gets false. This is
	// the ledger's linearization point.
	ConsumeRefreshToken(ctx context.Context, hash string, at time.Time) (bool, error)

	// RevokeLineage revokes every still-active token in a rotation family.
	// Invoked on reuse detection. Returns the number of tokens revoked.
	RevokeLineage(ctx context.Context, lineageID string) (int64, error)

	// DeleteExpiredRefreshTokens sweeps rows past their expiry, returning
	// how many were removed. Housekeeping.
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

type RevokedTokens interface {
	// Revoke adds an access-token fingerprint to the denylist. Idempotent.
	// expiresAt bounds how long the entry must be retained: once the token
	// would have expired anyway, the entry is garbage.
	Revoke(ctx context.Context, fingerprint string, expiresAt time.Time) error

	// IsRevoked reports denylist membership.
	IsRevoked(ctx context.Context, fingerprint string) (bool, error)

	// DeleteExpired drops entries whose tokens have expired naturally.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type RateLimits interface {
	// IncrWithin atomically creates-at-1 or increments the bucket for key,
	// but never past max: once the bucket holds max the call reports
	// allowed=false without incrementing. windowStart identifies the fixed
	// window the bucket belongs to.
	IncrWithin(ctx context.Context, key string, windowStart time.Time, max int) (allowed bool, err error)

	// DeleteStaleBuckets sweeps buckets from windows that have rolled over.
	DeleteStaleBuckets(ctx context.Context, before time.Time) (int64, error)
}

type AuditEvents interface {
	// Append records an event. The log is append-only; there is no update
	// or delete surface on the request path.
	Append(ctx context.Context, ev domain.AuditEvent) error

	// ListRecentByClient returns the newest events for a client, newest
	// first. Operator/diagnostic surface.
	ListRecentByClient(ctx context.Context, clientID string, limit int) ([]domain.AuditEvent, error)

	// DeleteOlderThan trims aged events. Housekeeping, driven by retention
	// policy, never by the request path.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
