// Package config provides configuration management for the gateway.
// It loads configuration from environment variables with sensible defaults
// and validates it so the service refuses to start half-configured.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FORMAT: console or json (default: console)
//   - LOG_FILE: Log file path (default: stdout)
//   - TLS_CERT_FILE, TLS_KEY_FILE: Serve HTTPS when both are set
//
// Platform Credentials:
//   - WECHAT_APPID: Application id (required)
//   - WECHAT_APP_SECRET: Application secret (required)
//   - WECHAT_TOKEN: Shared webhook token (required)
//   - WECHAT_PLATFORM: official_account or open_platform (default: official_account)
//   - WECHAT_API_BASE_URL: Server API root (default: https://api.weixin.qq.com)
//   - WECHAT_OPEN_BASE_URL: Authorization page root (default: https://open.weixin.qq.com)
//   - WECHAT_MP_BASE_URL: QR image root (default: https://mp.weixin.qq.com)
//
// OAuth:
//   - OAUTH_SCOPE: snsapi_base or snsapi_userinfo (default: snsapi_base)
//   - OAUTH_REDIRECT_URI: Default callback URL for /oauth/authorize
//   - USER_TOKEN_TTL: Cache lifetime of user tokens (default: per platform)
//   - REFRESH_TOKEN_TTL: Cache lifetime of refresh tokens (default: 168h)
//   - OAUTH_STATE_TTL: Lifetime of the signed state cookie set by /oauth/authorize (default: 10m)
//   - PERSIST_REFRESHED_TOKENS: Write refreshed user tokens back (default: false)
//
// Credential Cache:
//   - CACHE_BACKEND: redis or memory (default: redis)
//   - CACHE_KEY_PREFIX: Prefix for every cache key (default: none)
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - TOKEN_SAFETY_MARGIN: Subtracted from the credential lifetime (default: 20m)
//   - DISTRIBUTED_REFRESH_LOCK: Guard refreshes with a Redis lock (default: false)
//
// Transport and Webhook:
//   - HTTP_TIMEOUT: Outbound call timeout (default: 10s)
//   - SIGNATURE_TOLERANCE: Max webhook timestamp skew, 0 disables (default: 0)
//   - WELCOME_MESSAGE: Reply sent to new followers (default: none)
//   - OAUTH_RATE_LIMIT: Requests per second per client on /oauth routes, 0 disables (default: 5)
//   - OAUTH_RATE_BURST: Burst allowed above OAUTH_RATE_LIMIT (default: 10)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"wechat-gateway/internal/common/errors"
)

// Config holds all configuration values for the gateway. The env tag names
// the variable each field is read from.
type Config struct {
	// Application settings
	Port      string `env:"PORT" validate:"required,numeric"`
	LogLevel  string `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	LogFormat string `env:"LOG_FORMAT" validate:"oneof=console json"`
	LogFile   string `env:"LOG_FILE"`
	TLSCert   string `env:"TLS_CERT_FILE" validate:"required_with=TLSKey"`
	TLSKey    string `env:"TLS_KEY_FILE" validate:"required_with=TLSCert"`

	// Platform credentials
	AppID       string `env:"WECHAT_APPID" validate:"required"`
	AppSecret   string `env:"WECHAT_APP_SECRET" validate:"required"`
	Token       string `env:"WECHAT_TOKEN" validate:"required"`
	Platform    string `env:"WECHAT_PLATFORM" validate:"oneof=official_account open_platform"`
	APIBaseURL  string `env:"WECHAT_API_BASE_URL" validate:"url"`
	OpenBaseURL string `env:"WECHAT_OPEN_BASE_URL" validate:"url"`
	MPBaseURL   string `env:"WECHAT_MP_BASE_URL" validate:"url"`

	// OAuth
	OAuthScope             string        `env:"OAUTH_SCOPE" validate:"oneof=snsapi_base snsapi_userinfo"`
	OAuthRedirectURI       string        `env:"OAUTH_REDIRECT_URI" validate:"omitempty,url"`
	UserTokenTTL           time.Duration `env:"USER_TOKEN_TTL" validate:"gte=0"`
	RefreshTokenTTL        time.Duration `env:"REFRESH_TOKEN_TTL" validate:"gt=0"`
	OAuthStateTTL          time.Duration `env:"OAUTH_STATE_TTL" validate:"gt=0"`
	PersistRefreshedTokens bool          `env:"PERSIST_REFRESHED_TOKENS"`

	// Credential cache
	CacheBackend           string        `env:"CACHE_BACKEND" validate:"oneof=redis memory"`
	CacheKeyPrefix         string        `env:"CACHE_KEY_PREFIX"`
	RedisAddress           string        `env:"REDIS_ADDRESS"`
	RedisPassword          string        `env:"REDIS_PASSWORD"`
	RedisDB                string        `env:"REDIS_DB"`
	RedisPoolSize          string        `env:"REDIS_POOL_SIZE"`
	TokenSafetyMargin      time.Duration `env:"TOKEN_SAFETY_MARGIN" validate:"gte=0"`
	DistributedRefreshLock bool          `env:"DISTRIBUTED_REFRESH_LOCK"`

	// Transport and webhook
	HTTPTimeout        time.Duration `env:"HTTP_TIMEOUT" validate:"gt=0"`
	SignatureTolerance time.Duration `env:"SIGNATURE_TOLERANCE" validate:"gte=0"`
	WelcomeMessage     string        `env:"WELCOME_MESSAGE"`
	OAuthRateLimit     float64       `env:"OAUTH_RATE_LIMIT" validate:"gte=0"`
	OAuthRateBurst     int           `env:"OAUTH_RATE_BURST" validate:"gte=0"`

	// malformed holds variables that could not be parsed by Load
	malformed []string
}

// Load creates a new Config instance with values loaded from environment variables.
// If an environment variable is not set, the corresponding default value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all required values are properly set and valid.
func Load() *Config {
	c := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "console")),
		LogFile:   getEnv("LOG_FILE", ""),
		TLSCert:   getEnv("TLS_CERT_FILE", ""),
		TLSKey:    getEnv("TLS_KEY_FILE", ""),

		AppID:       getEnv("WECHAT_APPID", ""),
		AppSecret:   getEnv("WECHAT_APP_SECRET", ""),
		Token:       getEnv("WECHAT_TOKEN", ""),
		Platform:    getEnv("WECHAT_PLATFORM", "official_account"),
		APIBaseURL:  getEnv("WECHAT_API_BASE_URL", "https://api.weixin.qq.com"),
		OpenBaseURL: getEnv("WECHAT_OPEN_BASE_URL", "https://open.weixin.qq.com"),
		MPBaseURL:   getEnv("WECHAT_MP_BASE_URL", "https://mp.weixin.qq.com"),

		OAuthScope:             getEnv("OAUTH_SCOPE", "snsapi_base"),
		OAuthRedirectURI:       getEnv("OAUTH_REDIRECT_URI", ""),
		PersistRefreshedTokens: getBoolEnv("PERSIST_REFRESHED_TOKENS", false),

		CacheBackend:           getEnv("CACHE_BACKEND", "redis"),
		CacheKeyPrefix:         getEnv("CACHE_KEY_PREFIX", ""),
		RedisAddress:           getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisDB:                getEnv("REDIS_DB", "0"),
		RedisPoolSize:          getEnv("REDIS_POOL_SIZE", "10"),
		DistributedRefreshLock: getBoolEnv("DISTRIBUTED_REFRESH_LOCK", false),

		WelcomeMessage: getEnv("WELCOME_MESSAGE", ""),
	}

	c.UserTokenTTL = c.getDurationEnv("USER_TOKEN_TTL", 0)
	c.RefreshTokenTTL = c.getDurationEnv("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	c.OAuthStateTTL = c.getDurationEnv("OAUTH_STATE_TTL", 10*time.Minute)
	c.TokenSafetyMargin = c.getDurationEnv("TOKEN_SAFETY_MARGIN", 20*time.Minute)
	c.HTTPTimeout = c.getDurationEnv("HTTP_TIMEOUT", 10*time.Second)
	c.SignatureTolerance = c.getDurationEnv("SIGNATURE_TOLERANCE", 0)
	c.OAuthRateLimit = c.getFloatEnv("OAUTH_RATE_LIMIT", 5)
	c.OAuthRateBurst = c.getIntEnv("OAUTH_RATE_BURST", 10)

	return c
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts the representations understood by strconv.ParseBool.
// Any other value returns defaultValue.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv parses a Go duration. A malformed value keeps the default
// and is reported by Validate, as do the numeric getters below.
func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.malformed = append(c.malformed, key)
		return defaultValue
	}
	return parsed
}

func (c *Config) getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.malformed = append(c.malformed, key)
		return defaultValue
	}
	return parsed
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.malformed = append(c.malformed, key)
		return defaultValue
	}
	return parsed
}

// NeedsRedis reports whether the configuration requires a Redis connection
func (c *Config) NeedsRedis() bool {
	return c.CacheBackend == "redis" || c.DistributedRefreshLock
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("env"); name != "" {
			return name
		}
		return field.Name
	})
	return v
}

// Validate checks required fields, field formats and cross-field
// dependencies. The first problem found is returned as a config error naming
// the environment variable.
func (c *Config) Validate() error {
	if len(c.malformed) > 0 {
		return errors.ConfigError(fmt.Sprintf("%s is malformed", c.malformed[0]))
	}

	if err := validate.Struct(c); err != nil {
		var fieldErrors validator.ValidationErrors
		if ok := asValidationErrors(err, &fieldErrors); ok && len(fieldErrors) > 0 {
			return errors.ConfigError(describe(fieldErrors[0]))
		}
		return errors.ConfigError(err.Error())
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return errors.ConfigError("PORT must be a valid port number between 1 and 65535")
	}

	if c.NeedsRedis() {
		if c.RedisAddress == "" {
			return errors.ConfigError("REDIS_ADDRESS is required when CACHE_BACKEND is redis or DISTRIBUTED_REFRESH_LOCK is set")
		}
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return errors.ConfigError("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return errors.ConfigError("REDIS_POOL_SIZE must be a positive number")
		}
	}

	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	fieldErrors, ok := err.(validator.ValidationErrors)
	if ok {
		*target = fieldErrors
	}
	return ok
}

func pairedVariable(field string) string {
	if f, ok := reflect.TypeOf(Config{}).FieldByName(field); ok {
		return f.Tag.Get("env")
	}
	return field
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s environment variable is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", fe.Field(), pairedVariable(fe.Param()))
	case "url":
		return fmt.Sprintf("%s must be an absolute URL", fe.Field())
	case "numeric":
		return fmt.Sprintf("%s must be numeric", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be positive", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must not be negative", fe.Field())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
