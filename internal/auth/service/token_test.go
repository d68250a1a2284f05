package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tanglebox/keywarden/internal/auth/domain"
	"github.com/tanglebox/keywarden/internal/auth/store"
	"github.com/tanglebox/keywarden/internal/auth/store/drivers/sqlite"
	"github.com/tanglebox/keywarden/pkg/cryptox"
	"github.com/tanglebox/keywarden/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "service-test")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

const testIssuer = "https://keywarden.test"

func newTestService(t *testing.T, opts ...func(*TokenService)) (*TokenService, store.Store) {
	t.Helper()

	st, err := sqlite.NewStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	signer, err := jwtx.NewSignerHS256([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	verifier := jwtx.NewVerifierHS256([]byte("0123456789abcdef0123456789abcdef"), testIssuer)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditor := &Auditor{Store: st, Logger: logger}

	svc := &TokenService{
		Store:    st,
		Signer:   signer,
		Verifier: verifier,
		Ledger:   &RefreshLedger{Store: st, TTL: time.Hour},
		Limiter:  &RateLimiter{Store: st, Auditor: auditor, Max: 100, Window: time.Minute},
		Auditor:  auditor,

		Issuer:    testIssuer,
		AccessTTL: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, st
}

func seedClient(t *testing.T, st store.Store, id, secret string, scopes []string, role string) {
	t.Helper()

	hash, err := cryptox.HashSecret(secret)
	require.NoError(t, err)
	require.NoError(t, st.Clients().CreateClient(context.Background(), domain.Client{
		ID:         id,
		Name:       id,
		SecretHash: hash,
		Scopes:     scopes,
		Role:       role,
	}))
}

func lastAuditTypes(t *testing.T, st store.Store, clientID string, limit int) []string {
	t.Helper()

	events, err := st.AuditEvents().ListRecentByClient(context.Background(), clientID, limit)
	require.NoError(t, err)
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.EventType
	}
	return types
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	seedClient(t, st, "svc1", "s3cr3t", []string{"read", "write"}, "service")
	ctx := context.Background()

	t.Run("valid credentials issue a pair", func(t *testing.T) {
		pair, err := svc.Authenticate(ctx, "svc1", "s3cr3t", nil, "10.0.0.1")
		require.NoError(t, err)
		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)
		require.Equal(t, "Bearer", pair.TokenType)
		require.Equal(t, "read write", pair.Scope)

		claims, err := svc.Verifier.Verify(pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "svc1", claims.Subject)
		require.Equal(t, []string{"read", "write"}, claims.Scopes)
		require.Equal(t, "service", claims.Role)

		require.Contains(t, lastAuditTypes(t, st, "svc1", 5), domain.AuditLoginSuccess)
	})

	t.Run("wrong secret is unauthorized", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "svc1", "wrong", nil, "10.0.0.1")
		require.ErrorIs(t, err, ErrUnauthorized)
		require.Contains(t, lastAuditTypes(t, st, "svc1", 5), domain.AuditLoginFailure)
	})

	t.Run("unknown client is unauthorized", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "ghost", "s3cr3t", nil, "10.0.0.1")
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("narrowed scopes are honoured", func(t *testing.T) {
		pair, err := svc.Authenticate(ctx, "svc1", "s3cr3t", []string{"read"}, "10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, "read", pair.Scope)
	})

	t.Run("scope outside the grant is forbidden", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "svc1", "s3cr3t", []string{"read", "admin"}, "10.0.0.1")
		require.ErrorIs(t, err, ErrForbidden)
	})
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	seedClient(t, st, "svc1", "s3cr3t", []string{"read"}, "")
	ctx := context.Background()

	pair, err := svc.Authenticate(ctx, "svc1", "s3cr3t", nil, "10.0.0.1")
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, pair.RefreshToken, "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, next.AccessToken)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	t.Run("replaying the spent token trips reuse detection", func(t *testing.T) {
		_, err := svc.Refresh(ctx, pair.RefreshToken, "10.0.0.1")
		require.ErrorIs(t, err, ErrReuseDetected)

		var reuse *ReuseDetectedError
		require.ErrorAs(t, err, &reuse)
		require.Equal(t, "svc1", reuse.ClientID)
		require.Contains(t, lastAuditTypes(t, st, "svc1", 10), domain.AuditRefreshTokenReuse)
	})

	t.Run("the whole lineage dies with the replay", func(t *testing.T) {
		_, err := svc.Refresh(ctx, next.RefreshToken, "10.0.0.1")
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestRefreshUnknownToken(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	seedClient(t, st, "svc1", "s3cr3t", []string{"read"}, "")

	_, err := svc.Refresh(context.Background(), "not-a-token", "10.0.0.1")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Contains(t, lastAuditTypes(t, st, "", 5), domain.AuditRefreshTokenInvalid)
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	seedClient(t, st, "svc1", "s3cr3t", []string{"read"}, "")
	ctx := context.Background()

	pair, err := svc.Authenticate(ctx, "svc1", "s3cr3t", nil, "10.0.0.1")
	require.NoError(t, err)

	type outcome struct {
		pair *domain.TokenPair
		err  error
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan outcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := svc.Refresh(ctx, pair.RefreshToken, "10.0.0.1")
			results <- outcome{pair: next, err: err}
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	var replacement string
	for res := range results {
		if res.err == nil {
			winners++
			replacement = res.pair.RefreshToken
		} else {
			require.True(t,
				errors.Is(res.err, ErrReuseDetected) || errors.Is(res.err, ErrUnauthorized),
				"unexpected error: %v", res.err)
		}
	}
	require.Equal(t, 1, winners)

	// The losers detected reuse and revoked the lineage, which must take the
	// winner's freshly minted replacement with it.
	_, err = svc.Refresh(ctx, replacement, "10.0.0.1")
	require.ErrorIs(t, err, ErrUnauthorized)
}

// flakyStore injects a bounded number of CreateRefreshToken failures into
// transactions while passing everything else through.
type flakyStore struct {
	store.Store
	createFailures int
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(&flakyTx{Tx: tx, owner: s})
	})
}

type flakyTx struct {
	store.Tx
	owner *flakyStore
}

func (t *flakyTx) RefreshTokens() store.RefreshTokens {
	return &flakyRefreshTokens{RefreshTokens: t.Tx.RefreshTokens(), owner: t.owner}
}

type flakyRefreshTokens struct {
	store.RefreshTokens
	owner *flakyStore
}

func (r *flakyRefreshTokens) CreateRefreshToken(ctx context.Context, rt domain.RefreshToken) error {
	if r.owner.createFailures > 0 {
		r.owner.createFailures--
		return errors.New("store offline")
	}
	return r.RefreshTokens.CreateRefreshToken(ctx, rt)
}

func TestRefreshReissueFailureKeepsTokenActive(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	seedClient(t, st, "svc1", "s3cr3t", []string{"read"}, "")
	ctx := context.Background()

	pair, err := svc.Authenticate(ctx, "svc1", "s3cr3t", nil, "10.0.0.1")
	require.NoError(t, err)

	svc.Ledger.Store = &flakyStore{Store: st, createFailures: 1}

	// The reissue fails after the consume won, so the whole exchange must
	// roll back and surface as retryable.
	_, err = svc.Refresh(ctx, pair.RefreshToken, "10.0.0.1")
	require.ErrorIs(t, err, ErrTransient)

	// The retry redeems the same token cleanly. It must not be classified as
	// reuse, and the lineage must still be intact.
	next, err := svc.Refresh(ctx, pair.RefreshToken, "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, next.RefreshToken)

	after, err := svc.Refresh(ctx, next.RefreshToken, "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, after.RefreshToken)
}

func TestRateLimitWindow(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t, func(s *TokenService) {
		s.Limiter.Max = 5
	})
	seedClient(t, st, "svc1", "s3cr3t", []string{"read"}, "")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Authenticate(ctx, "svc1", "wrong-secret", nil, "10.0.0.1")
		require.ErrorIs(t, err, ErrUnauthorized, "attempt %d", i+1)
	}

	// Sixth attempt in the same window is throttled even with the right
	// secret.
	_, err := svc.Authenticate(ctx, "svc1", "s3cr3t", nil, "10.0.0.1")
	require.ErrorIs(t, err, ErrThrottled)
	require.Contains(t, lastAuditTypes(t, st, "svc1", 10), domain.AuditRateLimitExceeded)

	// A different origin gets its own bucket.
	_, err = svc.Authenticate(ctx, "svc1", "s3cr3t", nil, "10.0.0.2")
	require.NoError(t, err)
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	seedClient(t, st, "svc1", "s3cr3t", []string{"read", "write"}, "admin")
	ctx := context.Background()

	pair, err := svc.Authenticate(ctx, "svc1", "s3cr3t", nil, "10.0.0.1")
	require.NoError(t, err)

	t.Run("valid token resolves to an identity", func(t *testing.T) {
		id, err := svc.Authorize(ctx, pair.AccessToken, "10.0.0.1")
		require.NoError(t, err)
		require.Equal(t, "svc1", id.ClientID)
		require.Equal(t, []string{"read", "write"}, id.Scopes)
		require.Equal(t, "admin", id.Role)
		require.True(t, id.ExpiresAt.After(time.Now()))
	})

	t.Run("tampered token is unauthorized", func(t *testing.T) {
		_, err := svc.Authorize(ctx, pair.AccessToken+"x", "10.0.0.1")
		require.ErrorIs(t, err, ErrUnauthorized)
		require.Contains(t, lastAuditTypes(t, st, "", 5), domain.AuditTokenInvalid)
	})

	t.Run("garbage token is unauthorized", func(t *testing.T) {
		_, err := svc.Authorize(ctx, "definitely-not-a-jwt", "10.0.0.1")
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestAuthorizeExpired(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t, func(s *TokenService) {
		s.AccessTTL = 0
	})
	seedClient(t, st, "svc1", "s3cr3t", []string{"read"}, "")
	ctx := context.Background()

	pair, err := svc.Authenticate(ctx, "svc1", "s3cr3t", nil, "10.0.0.1")
	require.NoError(t, err)

	// Zero TTL makes the token expired at the instant it was minted.
	_, err = svc.Authorize(ctx, pair.AccessToken, "10.0.0.1")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	seedClient(t, st, "svc1", "s3cr3t", []string{"read"}, "")
	ctx := context.Background()

	pair, err := svc.Authenticate(ctx, "svc1", "s3cr3t", nil, "10.0.0.1")
	require.NoError(t, err)

	t.Run("revoked access token fails authorize despite a valid signature", func(t *testing.T) {
		require.NoError(t, svc.Revoke(ctx, pair.AccessToken, "10.0.0.1"))

		_, err := svc.Authorize(ctx, pair.AccessToken, "10.0.0.1")
		require.ErrorIs(t, err, ErrUnauthorized)

		// The rejection is audited as a revocation event attributed to the
		// client, not as a generic invalid token.
		events, err := st.AuditEvents().ListRecentByClient(ctx, "svc1", 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, domain.AuditTokenRevoked, events[0].EventType)
		require.Equal(t, "revoked token presented", events[0].Reason)
	})

	t.Run("revocation is idempotent", func(t *testing.T) {
		require.NoError(t, svc.Revoke(ctx, pair.AccessToken, "10.0.0.1"))
		require.NoError(t, svc.Revoke(ctx, pair.AccessToken, "10.0.0.1"))
	})

	t.Run("unknown tokens revoke without error", func(t *testing.T) {
		require.NoError(t, svc.Revoke(ctx, "never-issued", "10.0.0.1"))
	})

	t.Run("revoking a refresh token kills its lineage", func(t *testing.T) {
		require.NoError(t, svc.Revoke(ctx, pair.RefreshToken, "10.0.0.1"))

		_, err := svc.Refresh(ctx, pair.RefreshToken, "10.0.0.1")
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestLedgerIssueStoresFingerprintOnly(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)
	seedClient(t, st, "svc1", "s3cr3t", []string{"read"}, "")
	ctx := context.Background()

	opaque, err := svc.Ledger.Issue(ctx, "svc1", "", time.Now().UTC())
	require.NoError(t, err)

	// The stored record holds the fingerprint, never the opaque value.
	rt, err := st.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(opaque))
	require.NoError(t, err)
	require.NotEqual(t, opaque, rt.TokenHash)
	require.NotEmpty(t, rt.LineageID)
	require.True(t, rt.Active(time.Now().UTC()))
}
