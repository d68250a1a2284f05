package service

import (
	"context"
	"time"

	"github.com/tanglebox/keywarden/internal/auth/domain"
	"github.com/tanglebox/keywarden/internal/auth/store"
)

// DefaultRateLimitMax is the number of authentication attempts allowed per
// client and origin within one window.
const DefaultRateLimitMax = 10

// DefaultRateLimitWindow is the fixed window size. Windows are aligned, the
// bucket for 10:04:31 starts at 10:04:00.
const DefaultRateLimitWindow = time.Minute

// RateLimiter enforces a fixed-window limit keyed by (client, origin). The
// counter lives in the store so every instance sees the same buckets.
type RateLimiter struct {
	Store   store.Store
	Auditor *Auditor
	Max     int
	Window  time.Duration
}

// Allow consumes one slot from the (clientID, origin) bucket for the current
// window. It returns ErrThrottled once the bucket is full and ErrTransient if
// the store cannot answer.
func (r *RateLimiter) Allow(ctx context.Context, clientID, origin string) error {
	windowStart := time.Now().UTC().Truncate(r.Window)
	key := clientID + "|" + origin

	allowed, err := r.Store.RateLimits().IncrWithin(ctx, key, windowStart, r.Max)
	if err != nil {
		return transientf("rate limit increment", err)
	}
	if !allowed {
		r.Auditor.Record(domain.AuditRateLimitExceeded, clientID, origin, "window exhausted")
		return ErrThrottled
	}
	return nil
}
