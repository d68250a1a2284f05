package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tanglebox/keywarden/internal/auth/service"
	"github.com/tanglebox/keywarden/pkg/httpx"
	"github.com/tanglebox/keywarden/pkg/slogx"
	"github.com/tanglebox/keywarden/pkg/wardensdk"
)

// RevokeHandler serves POST /v1/oauth2/revoke per the RFC 7009 shape: the
// endpoint answers 200 whether or not the presented token ever existed.
type RevokeHandler struct {
	TokenService *service.TokenService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Revocation Endpoint
//	@Description	Revokes an access or refresh token. Always returns 200 for unknown or already-revoked tokens.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			token	formData	string					true	"The token to revoke"
//	@Success		200		{object}	nil						"token revoked (or was never valid)"
//	@Failure		400		{object}	wardensdk.ErrorResponse	"error, error_description"
//	@Failure		503		{object}	wardensdk.ErrorResponse	"error, error_description"
//	@Router			/v1/oauth2/revoke [post].
func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		wardensdk.ErrInvalidContentType.WriteError(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		wardensdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	token := r.Form.Get("token")
	if token == "" {
		wardensdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.TokenService.Revoke(r.Context(), token, httpx.ClientIP(r)); err != nil {
		log := slogx.FromContext(r.Context())
		if errors.Is(err, service.ErrTransient) {
			log.Warn("revocation hit transient store failure", "err", err)
			wardensdk.ErrTemporarilyUnavailable.WriteError(w)
			return
		}
		log.Error("revocation failed", "err", err)
		wardensdk.ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusOK)
}
