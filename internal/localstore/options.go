package localstore

import "github.com/redis/go-redis/v9"

// Option is a functional option for configuring a local store.
type Option func(*storeConfig)

type storeConfig struct {
	path        string
	redisClient *redis.Client
}

// WithPath sets the sessions file path for the file store.
func WithPath(path string) Option {
	return func(c *storeConfig) {
		c.path = path
	}
}

// WithRedisClient sets the Redis client for the redis store.
func WithRedisClient(client *redis.Client) Option {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}
