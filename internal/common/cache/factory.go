package cache

import (
	"fmt"
	"time"
)

// Type represents the credential store backend
type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
)

// Config holds store configuration
type Config struct {
	Type            Type          `json:"type"`
	CleanupInterval time.Duration `json:"cleanup_interval,omitempty"`
	KeyPrefix       string        `json:"key_prefix,omitempty"`
	RedisClient     RedisClient   `json:"-"`
}

// DefaultConfig returns default store configuration
func DefaultConfig() Config {
	return Config{
		Type:            TypeRedis,
		CleanupInterval: 10 * time.Minute,
	}
}

// New creates a credential store based on configuration
func New(config Config) (CredentialStore, error) {
	switch config.Type {
	case TypeMemory:
		interval := config.CleanupInterval
		if interval <= 0 {
			interval = 10 * time.Minute
		}
		return NewLocalStore(interval), nil

	case TypeRedis:
		if config.RedisClient == nil {
			return nil, fmt.Errorf("redis client required for redis store")
		}
		return NewRedisStore(config.RedisClient, config.KeyPrefix), nil

	default:
		return nil, fmt.Errorf("unknown cache backend: %s", config.Type)
	}
}
