package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"wechat-gateway/internal/common/errors"
)

// CredentialStore is the shared key-value store for platform and user credentials.
// Every write is a full overwrite with a positive expiry.
type CredentialStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// HealthChecker is implemented by stores that depend on a remote server
type HealthChecker interface {
	Health(ctx context.Context) error
}

// LocalStore keeps credentials in process memory using patrickmn/go-cache
type LocalStore struct {
	cache *gocache.Cache
}

// NewLocalStore creates an in-memory store. Expired entries are purged every cleanupInterval.
func NewLocalStore(cleanupInterval time.Duration) *LocalStore {
	return &LocalStore{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

// Get retrieves a value from the local store
func (l *LocalStore) Get(ctx context.Context, key string) (string, bool, error) {
	raw, found := l.cache.Get(key)
	if !found {
		return "", false, nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", false, errors.InternalError(fmt.Sprintf("unexpected value type %T for %s", raw, key), nil)
	}
	return value, true, nil
}

// SetWithTTL stores a value in the local store
func (l *LocalStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.ValidationError(fmt.Sprintf("ttl for %s must be positive", key))
	}
	l.cache.Set(key, value, ttl)
	return nil
}

// RedisClient is the subset of the redis wrapper used by RedisStore
type RedisClient interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEX(ctx context.Context, key, value string, expiration time.Duration) error
	Health(ctx context.Context) error
}

// RedisStore keeps credentials in Redis so every gateway instance shares them
type RedisStore struct {
	client    RedisClient
	keyPrefix string
}

// NewRedisStore creates a Redis-backed store. keyPrefix is prepended to every key and may be empty.
func NewRedisStore(client RedisClient, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get retrieves a value from Redis. Server or connection failures surface as cache_unavailable.
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, found, err := r.client.Get(ctx, r.keyPrefix+key)
	if err != nil {
		return "", false, errors.CacheUnavailableError("read "+key, err)
	}
	return value, found, nil
}

// SetWithTTL overwrites key in Redis with an expiry
func (r *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.ValidationError(fmt.Sprintf("ttl for %s must be positive", key))
	}
	if err := r.client.SetEX(ctx, r.keyPrefix+key, value, ttl); err != nil {
		return errors.CacheUnavailableError("write "+key, err)
	}
	return nil
}

// Health reports whether Redis is reachable
func (r *RedisStore) Health(ctx context.Context) error {
	if err := r.client.Health(ctx); err != nil {
		return errors.CacheUnavailableError("ping", err)
	}
	return nil
}
