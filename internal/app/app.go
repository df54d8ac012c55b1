package app

import (
	"wechat-gateway/internal/circuitbreaker"
	"wechat-gateway/internal/common/cache"
	"wechat-gateway/internal/common/errors"
	commonhttp "wechat-gateway/internal/common/http"
	"wechat-gateway/internal/common/logging"
	"wechat-gateway/internal/config"
	"wechat-gateway/internal/locks"
	"wechat-gateway/internal/oauth2"
	"wechat-gateway/internal/platform"
	"wechat-gateway/internal/redis"
	"wechat-gateway/internal/signature"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	RedisClient *redis.Client
	Store       cache.CredentialStore
	LockManager locks.LockManager
	Breakers    *circuitbreaker.GoBreakerManager
	API         *platform.APIClient
	Tokens      *platform.TokenProvider
	Platform    *platform.Client
	Session     oauth2.Session
	States      *oauth2.StateSigner
	Verifier    *signature.Verifier
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	// Initialize components in order of dependency
	if err := app.initializeRedis(); err != nil {
		return nil, err
	}

	if err := app.initializeStore(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializePlatform(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeOAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}

	verifier, err := signature.NewVerifier(&signature.Config{
		Token:              cfg.Token,
		TimestampTolerance: cfg.SignatureTolerance,
	}, logging.GetGlobalLogger())
	if err != nil {
		app.Cleanup()
		return nil, err
	}
	app.Verifier = verifier

	return app, nil
}

func (app *App) initializeStore() error {
	store, err := cache.New(cache.Config{
		Type:        cache.Type(app.Config.CacheBackend),
		KeyPrefix:   app.Config.CacheKeyPrefix,
		RedisClient: app.redisForStore(),
	})
	if err != nil {
		return errors.ConfigError(err.Error())
	}

	app.Store = store
	app.Logger.Info("Credential store ready", logging.String("backend", app.Config.CacheBackend))
	return nil
}

// redisForStore avoids handing a typed nil to the store factory
func (app *App) redisForStore() cache.RedisClient {
	if app.RedisClient == nil {
		return nil
	}
	return app.RedisClient
}

func (app *App) initializePlatform() error {
	app.Breakers = circuitbreaker.NewGoBreakerManager(logging.GetGlobalLogger())
	app.API = platform.NewAPIClient(platform.APIConfig{
		BaseURL: app.Config.APIBaseURL,
		HTTPClient: commonhttp.NewHTTPClient(
			commonhttp.WithTimeout(app.Config.HTTPTimeout),
			commonhttp.WithUserAgent("wechat-gateway/"+Version),
			commonhttp.WithoutRedirects(),
		),
		Breakers: app.Breakers,
		Logger:   logging.GetGlobalLogger(),
	})

	var opts []platform.TokenProviderOption
	if app.Config.DistributedRefreshLock {
		manager, err := locks.NewDistributedLockManager(app.RedisClient)
		if err != nil {
			return err
		}
		app.LockManager = manager
		opts = append(opts, platform.WithRefreshLock(manager))
		app.Logger.Info("Distributed refresh lock: Enabled")
	}

	tokens, err := platform.NewTokenProvider(app.API, app.Store, platform.TokenProviderConfig{
		AppID:          app.Config.AppID,
		AppSecret:      app.Config.AppSecret,
		SafetyMargin:   app.Config.TokenSafetyMargin,
		RefreshTimeout: app.Config.HTTPTimeout,
	}, opts...)
	if err != nil {
		return err
	}
	app.Tokens = tokens

	app.Platform = platform.NewClient(app.API, tokens, platform.ClientConfig{
		AppID:     app.Config.AppID,
		MPBaseURL: app.Config.MPBaseURL,
	})
	return nil
}

func (app *App) initializeOAuth() error {
	session, err := oauth2.NewSession(app.Config.Platform, app.API, app.Store, oauth2.Config{
		AppID:            app.Config.AppID,
		AppSecret:        app.Config.AppSecret,
		OpenBaseURL:      app.Config.OpenBaseURL,
		Scope:            app.Config.OAuthScope,
		UserTokenTTL:     app.Config.UserTokenTTL,
		RefreshTokenTTL:  app.Config.RefreshTokenTTL,
		PersistRefreshed: app.Config.PersistRefreshedTokens,
	})
	if err != nil {
		return err
	}

	states, err := oauth2.NewStateSigner(app.Config.AppID, app.Config.AppSecret, app.Config.OAuthStateTTL)
	if err != nil {
		return err
	}

	app.Session = session
	app.States = states
	app.Logger.Info("OAuth session ready", logging.String("platform", app.Config.Platform))
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.LockManager != nil {
		app.LockManager.Close()
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
