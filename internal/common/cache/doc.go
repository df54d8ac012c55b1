// Package cache provides the credential store shared by the token provider and
// the OAuth sessions.
//
// Two backends implement CredentialStore:
//   - LocalStore wraps github.com/patrickmn/go-cache for single-process use
//   - RedisStore wraps the internal redis client so instances share credentials
//
// Keys are written verbatim (GLOBAL_TOKEN, an open id, an app id) unless a
// prefix is configured. Values are strings; callers encode JSON themselves.
//
// Usage:
//
//	store, err := cache.New(cache.Config{
//		Type:        cache.TypeRedis,
//		RedisClient: redisClient,
//	})
//	err = store.SetWithTTL(ctx, "GLOBAL_TOKEN", payload, 100*time.Minute)
//	value, found, err := store.Get(ctx, "GLOBAL_TOKEN")
package cache
