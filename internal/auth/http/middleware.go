package http

import (
	"net/http"
	"strings"

	"github.com/tanglebox/keywarden/internal/auth/service"
	"github.com/tanglebox/keywarden/pkg/httpx"
	"github.com/tanglebox/keywarden/pkg/wardensdk"
)

// BearerToken extracts the bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}

// AuthnMiddleware resolves the bearer token through the token service, so
// revoked tokens are rejected here even when their signature still verifies,
// and stores the resulting identity on the request context.
func AuthnMiddleware(svc *service.TokenService) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				wardensdk.ErrInvalidToken.WriteError(w)
				return
			}

			id, err := svc.Authorize(r.Context(), token, httpx.ClientIP(r))
			if err != nil {
				wardensdk.ErrInvalidToken.WriteError(w)
				return
			}

			ctx := httpx.WithIdentity(r.Context(), id.ClientID, id.Scopes, id.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAnyScope rejects identities that carry none of the given scopes.
// Must run after AuthnMiddleware.
func RequireAnyScope(scopes ...string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			held := httpx.ScopesFromCtx(r.Context())
			for _, want := range scopes {
				for _, have := range held {
					if want == have {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			wardensdk.ErrInsufficientScope.WriteError(w)
		})
	}
}
