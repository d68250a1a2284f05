package store

import "context"

// WithCache overlays cache-tier implementations of the two hot collections
// (revocation denylist, rate buckets) on top of a durable base store. The
// remaining collections, migrations, and transactions all pass through to
// base; the overlaid collections are deliberately outside transaction scope
// since both are single-command atomic in their own right.
func WithCache(base Store, revoked RevokedTokens, rates RateLimits) Store {
	return &cachedStore{Store: base, revoked: revoked, rates: rates}
}

type cachedStore struct {
	Store

	revoked RevokedTokens
	rates   RateLimits
}

func (s *cachedStore) RevokedTokens() RevokedTokens { return s.revoked }
func (s *cachedStore) RateLimits() RateLimits       { return s.rates }

func (s *cachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.Store.WithTx(ctx, fn)
}
