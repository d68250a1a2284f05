package http

import (
	"errors"
	"net/http"

	"github.com/tanglebox/keywarden/internal/auth/service"
	"github.com/tanglebox/keywarden/pkg/httpx"
	"github.com/tanglebox/keywarden/pkg/slogx"
	"github.com/tanglebox/keywarden/pkg/wardensdk"
)

// VerifyHandler serves /v1/oauth2/verify. Resource servers call it with the
// bearer token they were handed to resolve it to a client identity. The POST
// form may additionally carry `scope` and `role` fields, which the identity
// must then satisfy.
type VerifyHandler struct {
	TokenService *service.TokenService
}

// ServeHTTP godoc
//
//	@Summary		Access Token Verification Endpoint
//	@Description	Validates the bearer access token and returns the client identity, scopes and role it carries.
//	@Description	POST requests may include scope (space-delimited) and role form fields the token must satisfy.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			scope	formData	string						false	"Scopes the token must carry"
//	@Param			role	formData	string						false	"Role the token must carry"
//	@Success		200		{object}	wardensdk.VerifyResponse	"client_id, scopes, role, expires_at"
//	@Failure		401		{object}	wardensdk.ErrorResponse		"error, error_description"
//	@Failure		403		{object}	wardensdk.ErrorResponse		"error, error_description"
//	@Failure		503		{object}	wardensdk.ErrorResponse		"error, error_description"
//	@Security		BearerAuth
//	@Router			/v1/oauth2/verify [post].
func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := BearerToken(r)
	if !ok {
		wardensdk.ErrInvalidToken.WriteError(w)
		return
	}

	id, err := h.TokenService.Authorize(r.Context(), token, httpx.ClientIP(r))
	if err != nil {
		if errors.Is(err, service.ErrTransient) {
			slogx.FromContext(r.Context()).Warn("verification hit transient store failure", "err", err)
			wardensdk.ErrTemporarilyUnavailable.WriteError(w)
			return
		}
		wardensdk.ErrInvalidToken.WriteError(w)
		return
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			wardensdk.ErrInvalidFormBody.WriteError(w)
			return
		}
		if !satisfies(id, r.Form.Get("scope"), r.Form.Get("role")) {
			wardensdk.ErrInsufficientScope.WriteError(w)
			return
		}
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, wardensdk.VerifyResponse{
		ClientID:  id.ClientID,
		Scopes:    id.Scopes,
		Role:      id.Role,
		ExpiresAt: id.ExpiresAt.Unix(),
	})
}

// satisfies checks requested scope/role constraints against the identity.
// Empty constraints always pass.
func satisfies(id service.Identity, scope, role string) bool {
	if role != "" && role != id.Role {
		return false
	}
	for _, want := range httpx.ParseSpaceDelimitedFields(scope) {
		found := false
		for _, have := range id.Scopes {
			if want == have {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
