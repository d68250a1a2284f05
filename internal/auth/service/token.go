package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tanglebox/keywarden/internal/auth/domain"
	"github.com/tanglebox/keywarden/internal/auth/store"
	"github.com/tanglebox/keywarden/pkg/cryptox"
	"github.com/tanglebox/keywarden/pkg/jwtx"
	"github.com/tanglebox/keywarden/pkg/slogx"
)

// storeTimeout bounds each credential-path store access. Transport-level
// callers see ErrTransient rather than hanging on a stuck database.
const storeTimeout = 5 * time.Second

// TokenService is the core credential engine: it authenticates machine
// clients, mints and rotates token pairs, maintains the revocation denylist,
// and validates presented access tokens.
type TokenService struct {
	Store    store.Store
	Signer   jwtx.Signer
	Verifier jwtx.Verifier
	Ledger   *RefreshLedger
	Limiter  *RateLimiter
	Auditor  *Auditor

	Issuer    string
	AccessTTL time.Duration
}

// Identity is what a validated access token resolves to.
type Identity struct {
	ClientID  string
	Scopes    []string
	Role      string
	ExpiresAt time.Time
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// dummySecretHash is verified against when the client id is unknown, so a
// missing client costs the same argon2 work as a wrong secret.
func dummySecretHash() string {
	dummyHashOnce.Do(func() {
		h, err := cryptox.HashSecret("keywarden-nonexistent-client")
		if err != nil {
			panic("cryptox: cannot hash dummy secret: " + err.Error())
		}
		dummyHash = h
	})
	return dummyHash
}

// Authenticate implements the client_credentials exchange: verify the shared
// secret, check the requested scopes against the client's grant, and mint a
// fresh token pair with a new refresh lineage.
//
// Errors: ErrThrottled, ErrUnauthorized, ErrForbidden, ErrTransient.
func (s *TokenService) Authenticate(
	ctx context.Context,
	clientID, clientSecret string,
	requestedScopes []string,
	origin string,
) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := s.Limiter.Allow(sctx, clientID, origin); err != nil {
		return nil, err
	}

	client, err := s.Store.Clients().GetClientByID(sctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn the same work as a real verification before failing.
			_ = cryptox.VerifySecret(clientSecret, dummySecretHash())
			s.Auditor.Record(domain.AuditLoginFailure, clientID, origin, "unknown client")
			return nil, ErrUnauthorized
		}
		return nil, transientf("lookup client", err)
	}

	if err := cryptox.VerifySecret(clientSecret, client.SecretHash); err != nil {
		l.Info("client secret verification failed", slog.String("client_id", clientID))
		s.Auditor.Record(domain.AuditLoginFailure, clientID, origin, "secret mismatch")
		return nil, ErrUnauthorized
	}

	effective := client.Scopes
	if len(requestedScopes) > 0 {
		// The client may narrow its grant but never widen it. Asking for a
		// scope outside the grant is a hard failure, not a silent intersect.
		if !subsetOf(requestedScopes, client.Scopes) {
			s.Auditor.Record(domain.AuditLoginFailure, clientID, origin, "scope outside grant")
			return nil, ErrForbidden
		}
		effective = requestedScopes
	}

	accessToken, err := s.signAccess(client, effective, now)
	if err != nil {
		l.Error("failed to sign access token", slog.Any("error", err))
		return nil, err
	}

	refreshOpaque, err := s.Ledger.Issue(sctx, client.ID, "", now)
	if err != nil {
		return nil, err
	}

	s.Auditor.Record(domain.AuditLoginSuccess, clientID, origin, "client_credentials")

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshOpaque,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
		Scope:        strings.Join(effective, " "),
	}, nil
}

// Refresh exchanges an opaque refresh token for a new token pair. The spent
// token is consumed exactly once; presenting it again revokes its whole
// lineage.
//
// Errors: ErrThrottled, ErrUnauthorized, ErrReuseDetected (as
// *ReuseDetectedError), ErrTransient.
func (s *TokenService) Refresh(ctx context.Context, refreshOpaque, origin string) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	// Attribute the rate limit bucket before racing on the consume. The peek
	// is read-only, so it cannot affect which redeemer wins.
	known, err := s.Ledger.Peek(sctx, refreshOpaque)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			if lerr := s.Limiter.Allow(sctx, "", origin); lerr != nil {
				return nil, lerr
			}
			s.Auditor.Record(domain.AuditRefreshTokenInvalid, "", origin, "unknown refresh token")
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	if err := s.Limiter.Allow(sctx, known.ClientID, origin); err != nil {
		return nil, err
	}

	red, err := s.Ledger.Redeem(sctx, refreshOpaque, now)
	if err != nil {
		var reuse *ReuseDetectedError
		switch {
		case errors.As(err, &reuse):
			s.Auditor.Record(domain.AuditRefreshTokenReuse, reuse.ClientID, origin, "consumed token replayed")
			return nil, err
		case errors.Is(err, ErrUnauthorized):
			s.Auditor.Record(domain.AuditRefreshTokenInvalid, known.ClientID, origin, "expired or revoked refresh token")
			return nil, err
		default:
			return nil, err
		}
	}

	// Re-read the client so rotated scopes and roles take effect on the
	// next access token, not just at the original login.
	client, err := s.Store.Clients().GetClientByID(sctx, red.ClientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Auditor.Record(domain.AuditRefreshTokenInvalid, red.ClientID, origin, "client no longer exists")
			return nil, ErrUnauthorized
		}
		return nil, transientf("lookup client", err)
	}

	accessToken, err := s.signAccess(client, client.Scopes, now)
	if err != nil {
		l.Error("failed to sign access token", slog.Any("error", err))
		return nil, err
	}

	s.Auditor.Record(domain.AuditLoginSuccess, client.ID, origin, "refresh_token")

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: red.Replacement,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
		Scope:        strings.Join(client.Scopes, " "),
	}, nil
}

// Revoke invalidates a presented token. Access tokens land on the denylist
// under their fingerprint; refresh tokens take their whole lineage down.
// Revoking an unknown or already-revoked token is not an error.
func (s *TokenService) Revoke(ctx context.Context, token, origin string) error {
	now := time.Now().UTC()

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	fp := cryptox.FingerprintToken(token)

	// Refresh tokens are recognised by their stored fingerprint.
	if rt, err := s.Store.RefreshTokens().GetRefreshTokenByHash(sctx, fp); err == nil {
		if _, err := s.Store.RefreshTokens().RevokeLineage(sctx, rt.LineageID); err != nil {
			return transientf("revoke lineage", err)
		}
		s.Auditor.Record(domain.AuditTokenRevoked, rt.ClientID, origin, "refresh token revoked")
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return transientf("lookup refresh token", err)
	}

	// Denylist entries expire with the token they block; for anything we
	// cannot date, fall back to the access TTL horizon.
	expiresAt := now.Add(s.AccessTTL)
	clientID := ""
	if claims, err := s.Verifier.Verify(token); err == nil {
		expiresAt = claims.ExpiresAt.Time
		clientID = claims.Subject
	}

	if err := s.Store.RevokedTokens().Revoke(sctx, fp, expiresAt); err != nil {
		return transientf("revoke token", err)
	}
	s.Auditor.Record(domain.AuditTokenRevoked, clientID, origin, "access token revoked")
	return nil
}

// Authorize validates a presented access token and resolves it to an
// Identity. The denylist is consulted before the signature so a revoked
// token fails closed even when it would otherwise verify.
//
// Errors: ErrUnauthorized, ErrTransient.
func (s *TokenService) Authorize(ctx context.Context, accessToken, origin string) (Identity, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	revoked, err := s.Store.RevokedTokens().IsRevoked(sctx, cryptox.FingerprintToken(accessToken))
	if err != nil {
		return Identity{}, transientf("revocation check", err)
	}
	if revoked {
		// The denylist decided the rejection; the signature is only checked
		// here to attribute the event to a client.
		clientID := ""
		if claims, err := s.Verifier.Verify(accessToken); err == nil {
			clientID = claims.Subject
		}
		s.Auditor.Record(domain.AuditTokenRevoked, clientID, origin, "revoked token presented")
		return Identity{}, ErrUnauthorized
	}

	claims, err := s.Verifier.Verify(accessToken)
	if err != nil {
		s.Auditor.Record(domain.AuditTokenInvalid, "", origin, err.Error())
		return Identity{}, ErrUnauthorized
	}

	return Identity{
		ClientID:  claims.Subject,
		Scopes:    claims.Scopes,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *TokenService) signAccess(c domain.Client, scopes []string, now time.Time) (string, error) {
	claims := jwtx.NewAccessClaims(c.ID, scopes, c.Role, s.AccessTTL, s.Issuer, now)
	return s.Signer.Sign(claims)
}

// subsetOf reports whether every element of want is present in have.
func subsetOf(want, have []string) bool {
	allowed := make(map[string]struct{}, len(have))
	for _, s := range have {
		allowed[s] = struct{}{}
	}
	for _, s := range want {
		if _, ok := allowed[s]; !ok {
			return false
		}
	}
	return true
}
