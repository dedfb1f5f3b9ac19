package session

import (
	"fmt"
	"time"

	"github.com/creastat/hotline"
)

// StoreType selects the call state driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

const (
	// DefaultTTL keeps live state well past the longest call.
	DefaultTTL       = 24 * time.Hour
	DefaultKeyPrefix = "call:"
)

// NewStore creates a call state store. The memory driver serves a single
// process; the redis driver shares live calls across replicas and requires
// WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{ttl: DefaultTTL, keyPrefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory:
		return newMemoryStore(), nil

	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, fmt.Errorf("redis call store needs a client: %w", hotline.ErrInvalidConfig)
		}
		if cfg.ttl <= 0 {
			cfg.ttl = DefaultTTL
		}
		if cfg.keyPrefix == "" {
			cfg.keyPrefix = DefaultKeyPrefix
		}
		return &redisStore{
			client: cfg.redisClient,
			ttl:    cfg.ttl,
			prefix: cfg.keyPrefix,
		}, nil

	default:
		return nil, fmt.Errorf("call store %q: %w", storeType, hotline.ErrInvalidStoreType)
	}
}
