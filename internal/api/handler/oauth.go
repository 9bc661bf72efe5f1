package handler

import (
	"net/http"

	"github.com/appy-one/acebase-server-sub001/internal/api/middleware"
	"github.com/appy-one/acebase-server-sub001/internal/api/response"
	"github.com/appy-one/acebase-server-sub001/internal/auth"
	"github.com/appy-one/acebase-server-sub001/internal/oauth"
)

// OAuthHandler handles the /oauth2/{db}/* endpoints bridging provider
// adapters into the sign-in flow.
type OAuthHandler struct {
	providers *oauth.Registry
	service   *auth.Service
}

// NewOAuthHandler creates a new OAuthHandler.
func NewOAuthHandler(providers *oauth.Registry, service *auth.Service) *OAuthHandler {
	return &OAuthHandler{providers: providers, service: service}
}

// Init handles GET /oauth2/{db}/init: starts a provider authorization
// flow and returns the URL to redirect the user to.
func (h *OAuthHandler) Init(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider, err := h.providers.Get(q.Get("provider"))
	if err != nil {
		response.Err(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	authURL, err := provider.Init(r.Context(), oauth.RedirectInfo{
		RedirectURL: q.Get("callbackUrl"),
		State:       q.Get("state"),
	})
	if err != nil {
		response.Unexpected(w, err)
		return
	}
	response.OK(w, map[string]any{"auth_url": authURL})
}

// SignIn handles GET /oauth2/{db}/signin: exchanges the provider code,
// resolves the profile and signs the user in.
func (h *OAuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider, err := h.providers.Get(q.Get("provider"))
	if err != nil {
		response.Err(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	code := q.Get("code")
	if code == "" {
		response.Err(w, http.StatusUnprocessableEntity, "invalid_request", "code is required")
		return
	}

	tokens, err := provider.GetAccessToken(r.Context(), code)
	if err != nil {
		response.Err(w, http.StatusUnauthorized, "provider_error", "code exchange failed")
		return
	}
	profile, err := provider.GetUserInfo(r.Context(), tokens.AccessToken)
	if err != nil {
		response.Err(w, http.StatusUnauthorized, "provider_error", "profile lookup failed")
		return
	}

	clientIP := middleware.ClientIP(r)
	account, err := h.service.SignInOAuth(r.Context(), auth.OAuthProfile{
		Provider:      provider.Name(),
		Email:         profile.Email,
		DisplayName:   profile.DisplayName,
		Picture:       profile.Picture,
		EmailVerified: profile.EmailVerified,
	}, clientIP)
	if err != nil {
		writeSignInError(w, err)
		return
	}

	publicToken, err := h.service.IssuePublicToken(account, clientIP)
	if err != nil {
		response.Unexpected(w, err)
		return
	}
	response.OK(w, signInResponse{AccessToken: publicToken, User: userToResponse(account)})
}
