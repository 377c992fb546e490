package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// NewRedisClient connects to Redis using the storage configuration
func NewRedisClient(config storage.Config) (*redis.Client, error) {
	// Parse Redis URL or use default options
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Override with config values if provided
	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB >= 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// cachedView is the serialized form of a resolved session
type cachedView struct {
	Identity *identity.Identity `json:"identity"`
	Session  *identity.Session  `json:"session"`
}

// SessionCache caches resolved sessions of permanent identities in Redis.
//
// Anonymous sessions are never cached: a link commit replaces them, and
// reading them through to the store is what lets every client observe the
// redirect on its next resolve.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionCache creates a cache with the configured session TTL
func NewSessionCache(client *redis.Client, config storage.Config) *SessionCache {
	ttl := config.CacheTTL["session"]
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SessionCache{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// Get returns the cached view for a session, or nil on a miss
func (c *SessionCache) Get(ctx context.Context, sessionID string) (*identity.SessionView, error) {
	key := sessionKey(sessionID)

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil // Cache miss
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cv cachedView
	if err := json.Unmarshal([]byte(data), &cv); err != nil {
		// Drop corrupt entries
		c.client.Del(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	// Only permanent views are stored; anything else is stale or foreign
	if cv.Identity == nil || cv.Session == nil || cv.Identity.Kind != identity.KindPermanent {
		c.client.Del(ctx, key)
		return nil, nil
	}

	return &identity.SessionView{Identity: cv.Identity, Session: cv.Session}, nil
}

// Set stores a resolved view. Views of anonymous identities are skipped.
func (c *SessionCache) Set(ctx context.Context, view *identity.SessionView) error {
	if view == nil || view.Identity == nil || view.Session == nil || view.Identity.IsAnonymous() {
		return nil
	}

	ttl := c.ttl
	if remaining := time.Until(view.Session.ExpiresAt); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return nil
	}

	// SecretHash is tagged json:"-" so credentials never reach Redis
	data, err := json.Marshal(cachedView{Identity: view.Identity, Session: view.Session})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return c.client.Set(ctx, sessionKey(view.Session.ID), data, ttl).Err()
}

// Invalidate removes a session from the cache
func (c *SessionCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, sessionKey(sessionID)).Err()
}

// Ping checks Redis connectivity
func (c *SessionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
