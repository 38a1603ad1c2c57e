package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openagora/agora/pkg/config"
	"github.com/openagora/agora/pkg/logging"
)

// Cache wraps the Redis client used for read caching, the cross-node event
// bridge, and snapshot invalidation wakeups.
type Cache struct {
	client *redis.Client
	ctx    context.Context
}

// New creates a new Redis cache client
func New(cfg *config.RedisConfig) (*Cache, error) {
	if !cfg.Enabled {
		logging.GetLogger().Info("Redis disabled, running single-node")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established")

	return &Cache{
		client: client,
		ctx:    context.Background(),
	}, nil
}

// Get retrieves a value from cache
func (c *Cache) Get(key string) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrCacheDisabled
	}
	return c.client.Get(c.ctx, key).Result()
}

// Set sets a value in cache with TTL
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Set(c.ctx, key, value, ttl).Err()
}

// Delete removes a key from cache
func (c *Cache) Delete(key string) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Del(c.ctx, key).Err()
}

// Publish sends a message on a pub/sub channel.
func (c *Cache) Publish(ctx context.Context, channel, message string) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Publish(ctx, channel, message).Err()
}

// Subscribe returns a channel of messages published on the given pub/sub
// channels. The returned channel closes when ctx is cancelled.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) (<-chan string, error) {
	if c == nil || c.client == nil {
		return nil, ErrCacheDisabled
	}

	sub := c.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		src := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// InvalidationChannel names the wakeup channel for one collection.
func InvalidationChannel(collection string) string {
	return "agora:invalidate:" + collection
}

// Invalidate signals every node that a collection changed so live queries
// requery ahead of their poll tick. Best-effort: a lost wakeup only delays
// the next snapshot until the poll interval fires.
func (c *Cache) Invalidate(ctx context.Context, collection string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Publish(ctx, InvalidationChannel(collection), collection).Err(); err != nil {
		logging.GetLogger().Warn("Failed to publish invalidation: " + err.Error())
	}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}

var (
	// ErrCacheDisabled is returned when cache operations are attempted but cache is disabled
	ErrCacheDisabled = fmt.Errorf("cache is disabled")
)
