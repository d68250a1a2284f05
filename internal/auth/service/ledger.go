package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tanglebox/keywarden/internal/auth/domain"
	"github.com/tanglebox/keywarden/internal/auth/store"
	"github.com/tanglebox/keywarden/pkg/cryptox"
	"github.com/tanglebox/keywarden/pkg/idx"
	"github.com/tanglebox/keywarden/pkg/slogx"
)

// RefreshLedger owns the stored half of refresh-token rotation: minting
// opaque tokens, redeeming them exactly once, and revoking a lineage when a
// consumed token comes back.
type RefreshLedger struct {
	Store store.Store
	TTL   time.Duration
}

// Redemption is the result of a successful Redeem: who the token belonged to
// and the freshly minted replacement in the same lineage.
type Redemption struct {
	ClientID    string
	LineageID   string
	Replacement string
}

// Issue mints a new opaque refresh token for the client and stores its
// fingerprint. An empty lineageID starts a new lineage.
func (l *RefreshLedger) Issue(ctx context.Context, clientID, lineageID string, now time.Time) (string, error) {
	return l.issue(ctx, l.Store, clientID, lineageID, now)
}

func (l *RefreshLedger) issue(ctx context.Context, st store.Store, clientID, lineageID string, now time.Time) (string, error) {
	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	if lineageID == "" {
		lineageID = idx.New().String()
	}

	rt := domain.RefreshToken{
		ID:        idx.New().String(),
		ClientID:  clientID,
		TokenHash: cryptox.FingerprintToken(opaque),
		LineageID: lineageID,
		ExpiresAt: now.Add(l.TTL),
		CreatedAt: now,
	}

	if err := st.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
		return "", transientf("create refresh token", err)
	}
	return opaque, nil
}

// Redeem exchanges an opaque refresh token for a Redemption. The conditional
// consume in the store is the linearization point: under concurrent redemption
// of the same token exactly one caller wins, every other caller takes the
// reuse path. Consume and reissue commit in one transaction, so a failed
// reissue rolls the consume back and the token stays active for a retry, and
// a loser revoking the lineage can never run between the winner's consume and
// its replacement landing.
//
// Errors:
//   - ErrUnauthorized for unknown, expired, or already-revoked tokens
//   - *ReuseDetectedError (unwraps to ErrReuseDetected) for consumed tokens;
//     the lineage's remaining active tokens are revoked before returning
//   - ErrTransient when the store cannot answer
func (l *RefreshLedger) Redeem(ctx context.Context, opaque string, now time.Time) (Redemption, error) {
	log := slogx.FromContext(ctx)
	hash := cryptox.FingerprintToken(opaque)

	rt, err := l.Store.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Redemption{}, ErrUnauthorized
		}
		return Redemption{}, transientf("lookup refresh token", err)
	}

	var (
		red    Redemption
		reuse  *ReuseDetectedError
		denied bool
	)
	err = l.Store.WithTx(ctx, func(tx store.Tx) error {
		won, err := tx.RefreshTokens().ConsumeRefreshToken(ctx, hash, now)
		if err != nil {
			return transientf("consume refresh token", err)
		}

		if !won {
			// Losing the consume race and presenting a long-consumed token look
			// identical from here, and both mean the same thing: this opaque
			// value has been exchanged before.
			fresh, err := tx.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return transientf("re-read refresh token", err)
			}
			if err == nil && fresh.ConsumedAt != nil {
				n, revErr := tx.RefreshTokens().RevokeLineage(ctx, fresh.LineageID)
				if revErr != nil {
					return transientf("revoke lineage", revErr)
				}
				log.Warn("refresh token reuse detected",
					slog.String("client_id", fresh.ClientID),
					slog.String("lineage_id", fresh.LineageID),
					slog.Int64("revoked_tokens", n),
				)
				// Return nil so the lineage revocation commits.
				reuse = &ReuseDetectedError{ClientID: fresh.ClientID, LineageID: fresh.LineageID}
				return nil
			}
			// Expired or revoked, treat like any other unknown token.
			denied = true
			return nil
		}

		replacement, err := l.issue(ctx, tx, rt.ClientID, rt.LineageID, now)
		if err != nil {
			return err
		}
		red = Redemption{
			ClientID:    rt.ClientID,
			LineageID:   rt.LineageID,
			Replacement: replacement,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTransient) {
			return Redemption{}, err
		}
		return Redemption{}, transientf("redeem refresh token", err)
	}
	if reuse != nil {
		return Redemption{}, reuse
	}
	if denied {
		return Redemption{}, ErrUnauthorized
	}
	return red, nil
}

// Peek resolves an opaque token to its stored record without consuming it.
// Used for attributing rate limit buckets before the redeem races.
func (l *RefreshLedger) Peek(ctx context.Context, opaque string) (domain.RefreshToken, error) {
	rt, err := l.Store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(opaque))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.RefreshToken{}, ErrUnauthorized
		}
		return domain.RefreshToken{}, transientf("lookup refresh token", err)
	}
	return rt, nil
}
