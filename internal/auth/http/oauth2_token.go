package http

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tanglebox/keywarden/internal/auth/service"
	"github.com/tanglebox/keywarden/pkg/httpx"
	"github.com/tanglebox/keywarden/pkg/slogx"
	"github.com/tanglebox/keywarden/pkg/wardensdk"
)

// TokenHandler serves POST /v1/oauth2/token
// Accepts application/x-www-form-urlencoded per the RFC 6749 framework.
type TokenHandler struct {
	TokenService *service.TokenService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Endpoint
//	@Description	Issues access and refresh tokens using the client_credentials and refresh_token grant types.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			grant_type		formData	string					true	"Grant type"	Enums(client_credentials, refresh_token)
//	@Param			client_id		formData	string					false	"Client identifier (required for client_credentials)"
//	@Param			client_secret	formData	string					false	"Client secret (required for client_credentials)"
//	@Param			refresh_token	formData	string					false	"Refresh token (required for refresh_token grant)"
//	@Param			scope			formData	string					false	"Space-delimited list of scopes"
//	@Success		200				{object}	wardensdk.TokenResponse	"access_token, refresh_token, token_type, expires_in, scope"
//	@Failure		400				{object}	wardensdk.ErrorResponse	"error, error_description"
//	@Failure		401				{object}	wardensdk.ErrorResponse	"error, error_description"
//	@Failure		403				{object}	wardensdk.ErrorResponse	"error, error_description"
//	@Failure		429				{object}	wardensdk.ErrorResponse	"error, error_description"
//	@Failure		503				{object}	wardensdk.ErrorResponse	"error, error_description"
//	@Header			200				{string}	Cache-Control			"no-store"
//	@Header			200				{string}	Pragma					"no-cache"
//	@Router			/v1/oauth2/token [post].
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		wardensdk.ErrInvalidContentType.WriteError(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		wardensdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	switch r.Form.Get("grant_type") {
	case "client_credentials":
		h.handleClientCredentialsGrant(w, r, r.Form)
	case "refresh_token":
		h.handleRefreshGrant(w, r, r.Form)
	default:
		wardensdk.ErrUnsupportedGrantType.WriteError(w)
	}
}

func (h *TokenHandler) handleClientCredentialsGrant(
	w http.ResponseWriter,
	r *http.Request,
	form url.Values,
) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	clientID := strings.TrimSpace(form.Get("client_id"))
	clientSecret := form.Get("client_secret")
	requested := httpx.ParseSpaceDelimitedFields(form.Get("scope"))

	if clientID == "" || clientSecret == "" {
		wardensdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.Authenticate(ctx, clientID, clientSecret, requested, httpx.ClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthorized):
			wardensdk.ErrInvalidClient.WriteError(w)
		case errors.Is(err, service.ErrForbidden):
			wardensdk.ErrInvalidScope.WriteError(w)
		case errors.Is(err, service.ErrThrottled):
			writeThrottled(w)
		case errors.Is(err, service.ErrTransient):
			log.Warn("client_credentials grant hit transient store failure", "err", err)
			wardensdk.ErrTemporarilyUnavailable.WriteError(w)
		default:
			log.Error("client_credentials grant failed", "err", err)
			wardensdk.ErrServerError.WriteError(w)
		}
		return
	}

	writeTokenPairResponse(w, pair.AccessToken, pair.RefreshToken, int(pair.ExpiresIn.Seconds()), pair.Scope)
}

func (h *TokenHandler) handleRefreshGrant(w http.ResponseWriter, r *http.Request, form url.Values) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	refresh := form.Get("refresh_token")
	if refresh == "" {
		wardensdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.Refresh(ctx, refresh, httpx.ClientIP(r))
	if err != nil {
		switch {
		// Reuse detection deliberately answers exactly like any other bad
		// grant; the audit trail keeps the distinction.
		case errors.Is(err, service.ErrReuseDetected),
			errors.Is(err, service.ErrUnauthorized):
			wardensdk.ErrInvalidGrant.WriteError(w)
		case errors.Is(err, service.ErrThrottled):
			writeThrottled(w)
		case errors.Is(err, service.ErrTransient):
			log.Warn("refresh_token grant hit transient store failure", "err", err)
			wardensdk.ErrTemporarilyUnavailable.WriteError(w)
		default:
			log.Error("refresh_token grant failed", "err", err)
			wardensdk.ErrServerError.WriteError(w)
		}
		return
	}

	writeTokenPairResponse(w, pair.AccessToken, pair.RefreshToken, int(pair.ExpiresIn.Seconds()), pair.Scope)
}

func writeTokenPairResponse(w http.ResponseWriter, access, refresh string, expiresIn int, scope string) {
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, wardensdk.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		Scope:        strings.TrimSpace(scope),
	})
}

func writeThrottled(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(int(service.DefaultRateLimitWindow.Seconds())))
	wardensdk.ErrRateLimited.WriteError(w)
}
