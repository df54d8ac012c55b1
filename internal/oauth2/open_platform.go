package oauth2

import (
	"context"
	"time"

	"wechat-gateway/internal/common/cache"
	"wechat-gateway/internal/platform"
)

// DefaultOpenTokenTTL matches the platform's user access token lifetime
const DefaultOpenTokenTTL = 2 * time.Hour

// OpenPlatform authorizes users of a website through a QR login page. The raw
// access token is cached under the open id and the refresh token under the
// app id.
type OpenPlatform struct {
	*session
}

// NewOpenPlatform creates the open platform session. The scope is always
// snsapi_login.
func NewOpenPlatform(api *platform.APIClient, store cache.CredentialStore, config Config) (*OpenPlatform, error) {
	config.Scope = ScopeLogin
	s, err := newSession(api, store, config, DefaultOpenTokenTTL)
	if err != nil {
		return nil, err
	}

	o := &OpenPlatform{session: s}
	s.persist = o.persistToken
	return o, nil
}

// AuthorizeURL returns the QR login page
func (o *OpenPlatform) AuthorizeURL(redirectURI, state string) string {
	return o.authorizeURL("/connect/qrconnect", redirectURI, ScopeLogin, state)
}

func (o *OpenPlatform) persistToken(ctx context.Context, token *UserToken) error {
	if err := o.store.SetWithTTL(ctx, token.OpenID, token.AccessToken, o.config.UserTokenTTL); err != nil {
		return err
	}
	if token.RefreshToken == "" {
		return nil
	}
	return o.store.SetWithTTL(ctx, o.config.AppID, token.RefreshToken, o.config.RefreshTokenTTL)
}
