package session

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// StoreOption configures NewStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	ttl         time.Duration
	keyPrefix   string
}

// WithRedisClient sets the client used by the redis driver. The store owns
// it and closes it on Close.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) { c.redisClient = client }
}

// WithRedisTTL sets how long an untouched call survives. Every read and write
// refreshes it. Default: DefaultTTL.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) { c.ttl = ttl }
}

// WithKeyPrefix namespaces redis keys. Default: DefaultKeyPrefix.
func WithKeyPrefix(prefix string) StoreOption {
	return func(c *storeConfig) { c.keyPrefix = prefix }
}
