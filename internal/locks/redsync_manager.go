// Package locks provides the cross-process lock used to keep gateway
// instances from refreshing the shared platform credential at the same time.
// It uses the Redlock implementation from go-redsync/redsync/v4.
package locks

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"wechat-gateway/internal/common/errors"
	"wechat-gateway/internal/redis"
)

// Lock is a held distributed lock
type Lock interface {
	// Key returns the Redis key guarding the resource
	Key() string
	// Release unlocks the resource. Calling it twice is a no-op.
	Release(ctx context.Context) error
	// IsHeld reports whether Release has not been called yet
	IsHeld() bool
}

// LockManager acquires named locks
type LockManager interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error)
	Close() error
}

// Options tunes how long acquisition keeps retrying
type Options struct {
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions waits about two seconds for a competing holder
func DefaultOptions() Options {
	return Options{
		Tries:      20,
		RetryDelay: 100 * time.Millisecond,
	}
}

// RedsyncManager implements LockManager with the Redlock algorithm
type RedsyncManager struct {
	redsync *redsync.Redsync
	options Options
	held    map[*RedsyncLock]struct{}
	mutex   sync.Mutex
}

// RedsyncLock wraps a redsync.Mutex
type RedsyncLock struct {
	mutex    *redsync.Mutex
	key      string
	manager  *RedsyncManager
	released bool
	mu       sync.Mutex
}

// NewRedsyncManager creates a lock manager on top of the shared Redis client.
//
// Example:
//
//	manager, err := locks.NewRedsyncManager(redisClient, locks.DefaultOptions())
//	lock, err := manager.AcquireLock(ctx, "GLOBAL_TOKEN", 20*time.Second)
//	if err == nil {
//		defer lock.Release(ctx)
//	}
func NewRedsyncManager(redisClient *redis.Client, options Options) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	if options.Tries <= 0 {
		options.Tries = DefaultOptions().Tries
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = DefaultOptions().RetryDelay
	}

	pool := goredis.NewPool(redisClient.GoRedisClient())

	return &RedsyncManager{
		redsync: redsync.New(pool),
		options: options,
		held:    make(map[*RedsyncLock]struct{}),
	}, nil
}

// AcquireLock takes the lock "lock:<key>", retrying until it is free, the
// configured tries run out, or ctx is done. The lock expires on its own after
// expiration even if the holder dies.
func (rm *RedsyncManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	if expiration <= 0 {
		return nil, errors.ValidationError("lock expiration must be positive")
	}

	name := "lock:" + key
	mutex := rm.redsync.NewMutex(name,
		redsync.WithExpiry(expiration),
		redsync.WithTries(rm.options.Tries),
		redsync.WithRetryDelay(rm.options.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, errors.TimeoutError("acquire "+name, ctx.Err())
		}
		return nil, errors.ConnectionError("failed to acquire distributed lock "+name, err)
	}

	lock := &RedsyncLock{
		mutex:   mutex,
		key:     name,
		manager: rm,
	}

	rm.mutex.Lock()
	rm.held[lock] = struct{}{}
	rm.mutex.Unlock()

	return lock, nil
}

// Close releases every lock still held through this manager
func (rm *RedsyncManager) Close() error {
	rm.mutex.Lock()
	held := make([]*RedsyncLock, 0, len(rm.held))
	for lock := range rm.held {
		held = append(held, lock)
	}
	rm.mutex.Unlock()

	for _, lock := range held {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = lock.Release(ctx)
		cancel()
	}
	return nil
}

// Key returns the Redis key guarding the resource
func (rl *RedsyncLock) Key() string {
	return rl.key
}

// Release unlocks the mutex in Redis
func (rl *RedsyncLock) Release(ctx context.Context) error {
	rl.mu.Lock()
	if rl.released {
		rl.mu.Unlock()
		return nil
	}
	rl.released = true
	rl.mu.Unlock()

	rl.manager.mutex.Lock()
	delete(rl.manager.held, rl)
	rl.manager.mutex.Unlock()

	if _, err := rl.mutex.UnlockContext(ctx); err != nil {
		return errors.ConnectionError("failed to release distributed lock "+rl.key, err)
	}
	return nil
}

// IsHeld reports whether Release has not been called yet
func (rl *RedsyncLock) IsHeld() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return !rl.released
}

var _ LockManager = (*RedsyncManager)(nil)
