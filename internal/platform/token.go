package platform

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"wechat-gateway/internal/common/cache"
	"wechat-gateway/internal/common/errors"
	"wechat-gateway/internal/common/logging"
	"wechat-gateway/internal/locks"
)

const (
	// GlobalTokenKey is the store key holding the platform credential
	GlobalTokenKey = "GLOBAL_TOKEN"

	credentialPath = "/cgi-bin/token"

	// DefaultSafetyMargin is subtracted from the declared expiry so a cached
	// credential is never handed out in its last minutes of validity
	DefaultSafetyMargin = 20 * time.Minute
	// DefaultRefreshTimeout bounds a refresh shared by several callers
	DefaultRefreshTimeout = 15 * time.Second

	// legacyExpiresIn is assumed for credentials cached as a bare string
	legacyExpiresIn = 7200

	forceRefreshKey = GlobalTokenKey + ":force"
)

// Credential is the platform-wide access credential
type Credential struct {
	Value      string
	IssuedAt   time.Time
	TTLSeconds int
}

// ExpiresAt returns when the platform stops accepting the credential
func (c *Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(time.Duration(c.TTLSeconds) * time.Second)
}

type cachedCredential struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	IssuedAt    int64  `json:"issued_at"`
}

type credentialResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// CacheTTL returns how long a credential declared valid for expiresIn seconds
// may stay cached: the expiry minus margin, or half the expiry when the margin
// would leave nothing.
func CacheTTL(expiresIn int, margin time.Duration) time.Duration {
	declared := time.Duration(expiresIn) * time.Second
	if ttl := declared - margin; ttl > 0 {
		return ttl
	}
	return declared / 2
}

// TokenProviderConfig configures a TokenProvider
type TokenProviderConfig struct {
	AppID     string
	AppSecret string
	// SafetyMargin defaults to DefaultSafetyMargin
	SafetyMargin time.Duration
	// RefreshTimeout bounds the shared refresh, default DefaultRefreshTimeout
	RefreshTimeout time.Duration
}

// TokenProviderOption customises a TokenProvider
type TokenProviderOption func(*TokenProvider)

// WithRefreshLock serialises refreshes across processes through a distributed lock
func WithRefreshLock(manager locks.LockManager) TokenProviderOption {
	return func(p *TokenProvider) {
		p.locker = manager
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) TokenProviderOption {
	return func(p *TokenProvider) {
		p.now = now
	}
}

// WithLogger replaces the global logger
func WithLogger(logger logging.Logger) TokenProviderOption {
	return func(p *TokenProvider) {
		p.logger = logger
	}
}

// TokenProvider hands out the platform credential, refreshing it through the
// platform when the store has none. Concurrent refreshes in one process share
// a single remote call.
type TokenProvider struct {
	api    *APIClient
	store  cache.CredentialStore
	config TokenProviderConfig
	locker locks.LockManager
	group  singleflight.Group
	now    func() time.Time
	logger logging.Logger
}

// NewTokenProvider creates a provider backed by store
func NewTokenProvider(api *APIClient, store cache.CredentialStore, config TokenProviderConfig, opts ...TokenProviderOption) (*TokenProvider, error) {
	if api == nil || store == nil {
		return nil, errors.ConfigError("token provider requires an API client and a credential store")
	}
	if config.AppID == "" || config.AppSecret == "" {
		return nil, errors.ConfigError("token provider requires an app id and app secret")
	}
	if config.SafetyMargin <= 0 {
		config.SafetyMargin = DefaultSafetyMargin
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = DefaultRefreshTimeout
	}

	p := &TokenProvider{
		api:    api,
		store:  store,
		config: config,
		now:    time.Now,
		logger: logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithFields(logging.Field{Key: "component", Value: "token_provider"})
	return p, nil
}

// Get returns the cached credential, refreshing it when absent. A store read
// failure is returned as cache_unavailable; a failed refresh as token_unavailable.
func (p *TokenProvider) Get(ctx context.Context) (*Credential, error) {
	credential, err := p.cached(ctx)
	if err != nil {
		return nil, err
	}
	if credential != nil {
		return credential, nil
	}
	return p.refresh(ctx, false)
}

// Token returns only the credential value
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	credential, err := p.Get(ctx)
	if err != nil {
		return "", err
	}
	return credential.Value, nil
}

// ForceRefresh fetches a new credential even if one is cached. Use it when the
// platform rejects the cached value.
func (p *TokenProvider) ForceRefresh(ctx context.Context) (*Credential, error) {
	return p.refresh(ctx, true)
}

func (p *TokenProvider) cached(ctx context.Context) (*Credential, error) {
	raw, found, err := p.store.Get(ctx, GlobalTokenKey)
	if err != nil {
		if !errors.IsType(err, errors.ErrTypeCacheUnavailable) {
			err = errors.CacheUnavailableError("read "+GlobalTokenKey, err)
		}
		return nil, err
	}
	if !found || raw == "" {
		return nil, nil
	}

	var entry cachedCredential
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.AccessToken == "" {
		// bare string written by older deployments
		return &Credential{Value: raw, TTLSeconds: legacyExpiresIn}, nil
	}

	ttl := entry.ExpiresIn
	if ttl <= 0 {
		ttl = legacyExpiresIn
	}
	return &Credential{
		Value:      entry.AccessToken,
		IssuedAt:   time.Unix(entry.IssuedAt, 0),
		TTLSeconds: ttl,
	}, nil
}

// refresh joins or starts the shared refresh. The shared work runs on its own
// context so one caller giving up does not fail the others; each caller only
// waits as long as its own ctx allows.
func (p *TokenProvider) refresh(ctx context.Context, force bool) (*Credential, error) {
	key := GlobalTokenKey
	if force {
		key = forceRefreshKey
	}

	requestID, _ := logging.RequestIDFromContext(ctx)
	result := p.group.DoChan(key, func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.Background(), p.config.RefreshTimeout)
		defer cancel()
		if requestID != "" {
			refreshCtx = logging.ContextWithRequestID(refreshCtx, requestID)
		}
		return p.doRefresh(refreshCtx, force)
	})

	select {
	case <-ctx.Done():
		return nil, errors.TokenUnavailableError("gave up waiting for credential refresh",
			errors.TimeoutError("credential refresh", ctx.Err()))
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		credential := *res.Val.(*Credential)
		return &credential, nil
	}
}

func (p *TokenProvider) doRefresh(ctx context.Context, force bool) (*Credential, error) {
	started := p.now()

	if !force {
		if credential, err := p.cached(ctx); err == nil && credential != nil {
			return credential, nil
		}
	}

	if p.locker != nil {
		lock, err := p.locker.AcquireLock(ctx, GlobalTokenKey, p.config.RefreshTimeout)
		if err != nil {
			p.logger.WithContext(ctx).Warn("Refresh lock unavailable, refreshing unguarded", logging.Err(err))
		} else {
			defer func() {
				if err := lock.Release(context.Background()); err != nil {
					p.logger.Warn("Failed to release refresh lock", logging.Err(err))
				}
			}()
			// another instance may have refreshed while this one waited
			if credential, err := p.cached(ctx); err == nil && credential != nil {
				if !force || !credential.IssuedAt.Before(started.Truncate(time.Second)) {
					return credential, nil
				}
			}
		}
	}

	return p.fetch(ctx)
}

func (p *TokenProvider) fetch(ctx context.Context) (*Credential, error) {
	logger := p.logger.WithContext(ctx)

	query := url.Values{}
	query.Set("grant_type", "client_credential")
	query.Set("appid", p.config.AppID)
	query.Set("secret", p.config.AppSecret)

	var resp credentialResponse
	if err := p.api.Get(ctx, credentialPath, query, &resp); err != nil {
		return nil, errors.TokenUnavailableError("credential refresh failed", err)
	}
	if resp.AccessToken == "" {
		return nil, errors.TokenUnavailableError("credential refresh failed",
			errors.DecodeError("response has no access_token", nil))
	}
	if resp.ExpiresIn <= 0 {
		return nil, errors.TokenUnavailableError("credential refresh failed",
			errors.DecodeError("response has a non-positive expires_in", nil))
	}

	issuedAt := p.now()
	credential := &Credential{
		Value:      resp.AccessToken,
		IssuedAt:   issuedAt,
		TTLSeconds: resp.ExpiresIn,
	}

	ttl := CacheTTL(resp.ExpiresIn, p.config.SafetyMargin)
	payload, _ := json.Marshal(cachedCredential{
		AccessToken: resp.AccessToken,
		ExpiresIn:   resp.ExpiresIn,
		IssuedAt:    issuedAt.Unix(),
	})
	if err := p.store.SetWithTTL(ctx, GlobalTokenKey, string(payload), ttl); err != nil {
		logger.Warn("Failed to persist platform credential", logging.Err(err))
	}

	logger.Info("Platform credential refreshed",
		logging.Int("expires_in", resp.ExpiresIn),
		logging.Duration("cache_ttl", ttl),
	)
	return credential, nil
}
