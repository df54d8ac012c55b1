package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"wechat-gateway/internal/common/errors"
	"wechat-gateway/internal/common/logging"
	"wechat-gateway/internal/oauth2"
)

const (
	// StateCookieName carries the signed binding of the OAuth state
	StateCookieName = "wechat_oauth_state"
	stateCookiePath = "/oauth"
)

// CallbackResponse is returned once a user completed authorization. Tokens
// stay server side.
type CallbackResponse struct {
	OpenID    string `json:"openid"`
	Scope     string `json:"scope,omitempty"`
	UnionID   string `json:"unionid,omitempty"`
	ExpiresIn int    `json:"expires_in"`
	State     string `json:"state,omitempty"`
}

// Authorize redirects the user to the platform's authorization page
// @Summary Start user authorization
// @Tags oauth
// @Param redirect_uri query string false "Callback URL, defaults to OAUTH_REDIRECT_URI"
// @Param state query string false "Letters and digits, generated when absent"
// @Success 302
// @Failure 400 {object} map[string]interface{}
// @Router /oauth/authorize [get]
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	redirectURI := query.Get("redirect_uri")
	if redirectURI == "" {
		redirectURI = h.config.OAuthRedirectURI
	}
	if redirectURI == "" {
		err := errors.ValidationError("redirect_uri is required")
		h.sendJSONError(w, r, err, "Authorization requested without redirect_uri", "redirect_uri is required", http.StatusBadRequest)
		return
	}

	if h.states == nil {
		h.sendJSONError(w, r, errors.ConfigError("oauth state signing is not configured"), "Authorization requested without a state signer", "Authorization unavailable", 0)
		return
	}

	state := query.Get("state")
	if state == "" {
		state = oauth2.NewState()
	}
	binding, err := h.states.Issue(state)
	if err != nil {
		h.sendJSONError(w, r, err, "Authorization requested with an unusable state", "state must be 1 to 128 letters or digits", 0)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    binding,
		Path:     stateCookiePath,
		MaxAge:   int(h.states.TTL().Seconds()),
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.session.AuthorizeURL(redirectURI, state), http.StatusFound)
}

// OAuthCallback exchanges the authorization code for a user token
// @Summary Complete user authorization
// @Tags oauth
// @Produce json
// @Param code query string true "Authorization code"
// @Param state query string true "State issued by authorize, checked against the state cookie"
// @Success 200 {object} CallbackResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 502 {object} map[string]interface{}
// @Router /oauth/callback [get]
func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		// the user declined, the platform calls back with state only
		err := errors.ValidationError("authorization code is required")
		h.sendJSONError(w, r, err, "Callback without authorization code", "Authorization was not granted", http.StatusBadRequest)
		return
	}

	if h.states == nil {
		h.sendJSONError(w, r, errors.ConfigError("oauth state signing is not configured"), "Callback without a state signer", "Authorization unavailable", 0)
		return
	}
	state := r.URL.Query().Get("state")
	var binding string
	if cookie, err := r.Cookie(StateCookieName); err == nil {
		binding = cookie.Value
	}
	// single use
	http.SetCookie(w, &http.Cookie{Name: StateCookieName, Path: stateCookiePath, MaxAge: -1, HttpOnly: true, Secure: isHTTPS(r)})
	if err := h.states.Verify(binding, state); err != nil {
		h.sendJSONError(w, r, err, "Callback state rejected", "Authorization state is invalid", http.StatusBadRequest)
		return
	}

	token, err := h.session.ExchangeCode(r.Context(), code)
	if err != nil && token == nil {
		h.sendJSONError(w, r, err, "Authorization code exchange failed", "Authorization failed", 0)
		return
	}
	if err != nil {
		h.logger.WithContext(logging.ContextWithOpenID(r.Context(), token.OpenID)).
			Warn("User token not cached, profile lookups will fail until the next authorization", logging.Err(err))
	}

	h.sendJSONResponse(w, CallbackResponse{
		OpenID:    token.OpenID,
		Scope:     token.Scope,
		UnionID:   token.UnionID,
		ExpiresIn: token.ExpiresIn,
		State:     state,
	})
}

// GetUserProfile returns the profile of an authorized user
// @Summary Get user profile
// @Tags oauth
// @Produce json
// @Param openid path string true "User open id"
// @Success 200 {object} oauth2.UserProfile
// @Failure 404 {object} map[string]interface{}
// @Router /oauth/users/{openid} [get]
func (h *Handlers) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	openID := mux.Vars(r)["openid"]
	ctx := logging.ContextWithOpenID(r.Context(), openID)

	profile, err := h.session.FetchUserProfile(ctx, openID)
	if err != nil {
		h.sendJSONError(w, r.WithContext(ctx), err, "Failed to fetch user profile", "Failed to fetch user profile", 0)
		return
	}

	h.sendJSONResponse(w, profile)
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
