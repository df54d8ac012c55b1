package locks

import (
	"wechat-gateway/internal/redis"
)

// NewDistributedLockManager creates the Redlock-backed manager with default retry options
func NewDistributedLockManager(redisClient *redis.Client) (LockManager, error) {
	return NewRedsyncManager(redisClient, DefaultOptions())
}
