package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireLock acquires a short-lived lock, used to serialize shipment
// dispatch per order
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

// MarkWebhookSeen records a (awb, status) webhook delivery and reports
// whether it was the first one. Duplicate carrier pushes are dropped for
// the TTL window.
func (c *Client) MarkWebhookSeen(ctx context.Context, awb, status string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("webhook:%s:%s", awb, status)
	return c.rdb.SetNX(ctx, key, "1", ttl).Result()
}

// CacheTracking stores a serialized carrier tracking response
func (c *Client) CacheTracking(ctx context.Context, shipmentID string, payload []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("tracking:%s", shipmentID), payload, ttl).Err()
}

// GetCachedTracking retrieves a cached tracking response, nil on miss
func (c *Client) GetCachedTracking(ctx context.Context, shipmentID string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, fmt.Sprintf("tracking:%s", shipmentID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}
