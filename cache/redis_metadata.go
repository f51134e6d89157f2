package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/goliatone/go-auth-hub/social"
	"github.com/goliatone/go-auth-hub/social/providers/oidc"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "hub:oidc:discovery:"

// RedisMetadataCache implements oidc.MetadataCache backed by Redis so
// several hub processes share discovered issuer metadata. Expiry is
// delegated to the key TTL.
type RedisMetadataCache struct {
	client redis.UniversalClient
	prefix string
	logger social.Logger
}

var _ oidc.MetadataCache = (*RedisMetadataCache)(nil)

// NewRedisMetadataCache constructs a Redis backed discovery cache.
func NewRedisMetadataCache(client redis.UniversalClient, logger social.Logger) *RedisMetadataCache {
	if logger == nil {
		logger = social.NopLogger{}
	}
	return &RedisMetadataCache{
		client: client,
		prefix: defaultPrefix,
		logger: logger,
	}
}

// WithPrefix overrides the key prefix
func (c *RedisMetadataCache) WithPrefix(prefix string) *RedisMetadataCache {
	c.prefix = prefix
	return c
}

// Get loads cached metadata. Redis failures are reported as a miss.
func (c *RedisMetadataCache) Get(ctx context.Context, issuer string) (*oidc.Metadata, bool) {
	payload, err := c.client.Get(ctx, c.prefix+issuer).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Error("load discovery metadata for %s: %s", issuer, err)
		}
		return nil, false
	}

	var meta oidc.Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		c.logger.Error("decode discovery metadata for %s: %s", issuer, err)
		return nil, false
	}

	return &meta, true
}

// Set stores metadata with ttl.
func (c *RedisMetadataCache) Set(ctx context.Context, issuer string, meta *oidc.Metadata, ttl time.Duration) {
	payload, err := json.Marshal(meta)
	if err != nil {
		c.logger.Error("encode discovery metadata for %s: %s", issuer, err)
		return
	}
	if err := c.client.Set(ctx, c.prefix+issuer, payload, ttl).Err(); err != nil {
		c.logger.Error("persist discovery metadata for %s: %s", issuer, err)
	}
}

// Connect parses a redis URL, builds a client and checks it with PING.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
