package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client.
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

// AcquireLock acquires a named lock with a TTL. The mint job takes one so
// overlapping scheduled runs skip instead of double-submitting mints.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a named lock.
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

// CacheChainProduct stores a token's on-chain state for the verification
// fast path. Strictly best-effort: verification works without it.
func (c *Client) CacheChainProduct(ctx context.Context, tokenID string, state interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf("chain:product:%s", tokenID), payload, ttl).Err()
}

// GetChainProduct loads a cached on-chain state into dst. Returns false on a
// cache miss.
func (c *Client) GetChainProduct(ctx context.Context, tokenID string, dst interface{}) (bool, error) {
	payload, err := c.rdb.Get(ctx, fmt.Sprintf("chain:product:%s", tokenID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(payload, dst)
}

// CountScan increments a sliding scan counter for an order's QR credential
// and returns the count inside the current window. Callers use it to spot
// suspicious scan bursts; it is not the authoritative verification counter,
// which lives on the order row.
func (c *Client) CountScan(ctx context.Context, orderID string, window time.Duration) (int64, error) {
	key := fmt.Sprintf("qr:scans:%s", orderID)

	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
