package oauth2

import (
	"context"
	"encoding/json"
	"time"

	"wechat-gateway/internal/common/cache"
	"wechat-gateway/internal/common/errors"
	"wechat-gateway/internal/platform"
)

// DefaultOfficialTokenTTL bounds the cached user token of an official account
const DefaultOfficialTokenTTL = 24 * time.Hour

// OfficialAccount authorizes users inside the messaging app. The whole token
// response is cached as JSON under the user's open id.
type OfficialAccount struct {
	*session
}

// NewOfficialAccount creates the official account session. Scope defaults to
// snsapi_base.
func NewOfficialAccount(api *platform.APIClient, store cache.CredentialStore, config Config) (*OfficialAccount, error) {
	if config.Scope == "" {
		config.Scope = ScopeBase
	}
	s, err := newSession(api, store, config, DefaultOfficialTokenTTL)
	if err != nil {
		return nil, err
	}

	o := &OfficialAccount{session: s}
	s.persist = o.persistToken
	return o, nil
}

// AuthorizeURL returns the in-app authorization page
func (o *OfficialAccount) AuthorizeURL(redirectURI, state string) string {
	return o.authorizeURL("/connect/oauth2/authorize", redirectURI, o.config.Scope, state) + "#wechat_redirect"
}

func (o *OfficialAccount) persistToken(ctx context.Context, token *UserToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return errors.InternalError("encode user token", err)
	}
	return o.store.SetWithTTL(ctx, token.OpenID, string(data), o.config.UserTokenTTL)
}
