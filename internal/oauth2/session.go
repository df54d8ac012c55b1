package oauth2

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"wechat-gateway/internal/common/cache"
	"wechat-gateway/internal/common/errors"
	"wechat-gateway/internal/common/logging"
	"wechat-gateway/internal/platform"
)

// Platform variants selectable at construction
const (
	PlatformOfficialAccount = "official_account"
	PlatformOpenPlatform    = "open_platform"
)

// Authorization scopes
const (
	ScopeBase     = "snsapi_base"
	ScopeUserInfo = "snsapi_userinfo"
	ScopeLogin    = "snsapi_login"
)

const (
	// DefaultOpenBaseURL hosts the user-facing authorization pages
	DefaultOpenBaseURL = "https://open.weixin.qq.com"
	// DefaultLang is the language requested for profile fields
	DefaultLang = "zh_CN"
	// DefaultRefreshTokenTTL matches the platform's refresh token lifetime
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	exchangePath = "/sns/oauth2/access_token"
	refreshPath  = "/sns/oauth2/refresh_token"
	authPath     = "/sns/auth"
	userInfoPath = "/sns/userinfo"
)

var openIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Session runs the per-user authorization-code flow for one platform variant
type Session interface {
	// AuthorizeURL returns the page the user is sent to in order to grant access
	AuthorizeURL(redirectURI, state string) string
	// ExchangeCode trades a one-time code for a user token and caches it
	ExchangeCode(ctx context.Context, code string) (*UserToken, error)
	// Refresh renews a user token. An empty refreshToken is read from the
	// cache entry keyed by appID.
	Refresh(ctx context.Context, appID, refreshToken string) (*UserToken, error)
	// CheckValid asks the platform whether a user token is still accepted.
	// An empty accessToken is read from the cache entry keyed by openID.
	CheckValid(ctx context.Context, openID, accessToken string) (*AuthResult, error)
	// FetchUserProfile loads the user's profile with the cached user token
	FetchUserProfile(ctx context.Context, openID string) (*UserProfile, error)
}

// Config holds the application credentials and cache policy of a session
type Config struct {
	AppID     string
	AppSecret string
	// OpenBaseURL hosts the authorization pages
	OpenBaseURL string
	// Scope requested by the official account variant
	Scope string
	// Lang for profile fields
	Lang string
	// UserTokenTTL bounds the cache entry keyed by open id. Zero selects the
	// variant default.
	UserTokenTTL time.Duration
	// RefreshTokenTTL bounds the cache entry keyed by app id
	RefreshTokenTTL time.Duration
	// PersistRefreshed writes refreshed tokens back to the cache
	PersistRefreshed bool
	Logger           logging.Logger
}

// NewSession builds the session for the named platform variant
func NewSession(kind string, api *platform.APIClient, store cache.CredentialStore, config Config) (Session, error) {
	switch kind {
	case PlatformOfficialAccount, "":
		return NewOfficialAccount(api, store, config)
	case PlatformOpenPlatform:
		return NewOpenPlatform(api, store, config)
	default:
		return nil, errors.ConfigError("unknown platform variant: " + kind)
	}
}

// session carries the calls both variants share. The variant supplies how a
// fresh token is written to the cache.
type session struct {
	api     *platform.APIClient
	store   cache.CredentialStore
	config  Config
	logger  logging.Logger
	persist func(ctx context.Context, token *UserToken) error
}

func newSession(api *platform.APIClient, store cache.CredentialStore, config Config, defaultTokenTTL time.Duration) (*session, error) {
	if api == nil || store == nil {
		return nil, errors.ConfigError("oauth session requires an API client and a credential store")
	}
	if config.AppID == "" || config.AppSecret == "" {
		return nil, errors.ConfigError("oauth session requires app id and app secret")
	}
	if config.OpenBaseURL == "" {
		config.OpenBaseURL = DefaultOpenBaseURL
	}
	config.OpenBaseURL = strings.TrimRight(config.OpenBaseURL, "/")
	if config.Lang == "" {
		config.Lang = DefaultLang
	}
	if config.UserTokenTTL <= 0 {
		config.UserTokenTTL = defaultTokenTTL
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.Logger == nil {
		config.Logger = logging.GetGlobalLogger()
	}

	return &session{
		api:    api,
		store:  store,
		config: config,
		logger: config.Logger,
	}, nil
}

// authorizeURL keeps the parameter order the authorization page matches on
func (s *session) authorizeURL(path, redirectURI, scope, state string) string {
	pairs := [][2]string{
		{"appid", s.config.AppID},
		{"redirect_uri", redirectURI},
		{"response_type", "code"},
		{"scope", scope},
		{"state", state},
	}

	var b strings.Builder
	b.WriteString(s.config.OpenBaseURL)
	b.WriteString(path)
	for i, pair := range pairs {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(pair[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pair[1]))
	}
	return b.String()
}

// ExchangeCode trades code for a user token and persists it. When the
// write fails the token is still returned together with the cache error.
func (s *session) ExchangeCode(ctx context.Context, code string) (*UserToken, error) {
	if code == "" {
		return nil, errors.ValidationError("authorization code is required")
	}

	query := url.Values{
		"appid":      {s.config.AppID},
		"secret":     {s.config.AppSecret},
		"code":       {code},
		"grant_type": {"authorization_code"},
	}
	token, err := s.requestToken(ctx, exchangePath, query)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpenID(token.OpenID); err != nil {
		return nil, errors.DecodeError("response carries an unusable openid", err)
	}

	logger := s.logger.WithContext(logging.ContextWithOpenID(ctx, token.OpenID))
	logger.Info("User authorized",
		logging.String("scope", token.Scope),
		logging.Int("expires_in", token.ExpiresIn),
	)

	if err := s.persist(ctx, token); err != nil {
		logger.Warn("Failed to cache user token", logging.Err(err))
		return token, err
	}
	return token, nil
}

func (s *session) Refresh(ctx context.Context, appID, refreshToken string) (*UserToken, error) {
	if appID == "" {
		appID = s.config.AppID
	}
	if refreshToken == "" {
		value, found, err := s.store.Get(ctx, appID)
		if err != nil {
			return nil, err
		}
		if !found || value == "" {
			return nil, errors.AccessTokenNotFoundError(appID)
		}
		refreshToken = value
	}

	query := url.Values{
		"appid":         {appID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	token, err := s.requestToken(ctx, refreshPath, query)
	if err != nil {
		return nil, err
	}

	if s.config.PersistRefreshed {
		if err := s.persist(ctx, token); err != nil {
			return token, err
		}
	}
	return token, nil
}

func (s *session) CheckValid(ctx context.Context, openID, accessToken string) (*AuthResult, error) {
	if err := s.checkOpenID(openID); err != nil {
		return nil, err
	}
	if accessToken == "" {
		var err error
		if accessToken, err = s.cachedAccessToken(ctx, openID); err != nil {
			return nil, err
		}
	}

	var envelope platform.Envelope
	err := s.api.Get(ctx, authPath, url.Values{
		"access_token": {accessToken},
		"openid":       {openID},
	}, &envelope)
	if err != nil {
		if rejected, ok := platform.AsEnvelope(err); ok {
			return &AuthResult{ErrCode: rejected.PlatformCode, ErrMsg: rejected.Message}, nil
		}
		return nil, err
	}
	return &AuthResult{OK: true, ErrCode: envelope.ErrCode, ErrMsg: envelope.ErrMsg}, nil
}

func (s *session) FetchUserProfile(ctx context.Context, openID string) (*UserProfile, error) {
	if err := s.checkOpenID(openID); err != nil {
		return nil, err
	}
	accessToken, err := s.cachedAccessToken(ctx, openID)
	if err != nil {
		return nil, err
	}

	var profile UserProfile
	err = s.api.Get(ctx, userInfoPath, url.Values{
		"access_token": {accessToken},
		"openid":       {openID},
		"lang":         {s.config.Lang},
	}, &profile)
	if err != nil {
		return nil, err
	}
	if profile.OpenID == "" {
		return nil, errMissingField("openid")
	}
	return &profile, nil
}

func (s *session) requestToken(ctx context.Context, path string, query url.Values) (*UserToken, error) {
	var token UserToken
	if err := s.api.Get(ctx, path, query, &token); err != nil {
		return nil, err
	}
	if err := token.validate(); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *session) cachedAccessToken(ctx context.Context, openID string) (string, error) {
	value, found, err := s.store.Get(ctx, openID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", errors.AccessTokenNotFoundError(openID)
	}
	token := accessTokenFrom(value)
	if token == "" {
		return "", errors.AccessTokenNotFoundError(openID)
	}
	return token, nil
}

// checkOpenID rejects ids that would read another kind of cache entry. The
// platform credential and refresh tokens share the key space with user tokens.
func (s *session) checkOpenID(openID string) error {
	switch {
	case openID == "":
		return errors.ValidationError("openid is required")
	case openID == platform.GlobalTokenKey || openID == s.config.AppID:
		return errors.ValidationError("openid names a reserved cache entry")
	case !openIDPattern.MatchString(openID):
		return errors.ValidationError("openid is malformed")
	}
	return nil
}

func errMissingField(name string) error {
	return errors.DecodeError("response is missing "+name, nil)
}
