package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saviobatista/sbs-archiver/internal/types"
)

const (
	positionTTL = 1 * time.Hour
	exactTTL    = 10 * time.Minute
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client caches the latest position per aircraft and probes for recent exact duplicates
type Client struct {
	client     RedisClientInterface
	duplicates atomic.Uint64
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

func positionKey(aircraftID string) string {
	return fmt.Sprintf("position:%s", aircraftID)
}

// StorePosition stores rec as the latest known position of its aircraft
func (c *Client) StorePosition(ctx context.Context, rec *types.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return c.client.Set(ctx, positionKey(rec.AircraftID), data, positionTTL).Err()
}

// GetPosition returns the latest known position of an aircraft, or nil if none is cached
func (c *Client) GetPosition(ctx context.Context, aircraftID string) (*types.Record, error) {
	data, err := c.client.Get(ctx, positionKey(aircraftID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	var rec types.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position: %w", err)
	}
	return &rec, nil
}

// DeletePosition removes the cached position of an aircraft
func (c *Client) DeletePosition(ctx context.Context, aircraftID string) error {
	return c.client.Del(ctx, positionKey(aircraftID)).Err()
}

// SeenExact reports whether exactHash was already observed within the probe window
func (c *Client) SeenExact(ctx context.Context, exactHash string) (bool, error) {
	set, err := c.client.SetNX(ctx, "exact:"+exactHash, 1, exactTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to probe exact hash: %w", err)
	}
	return !set, nil
}

// Duplicates returns how many observed records were recent exact duplicates
func (c *Client) Duplicates() uint64 {
	return c.duplicates.Load()
}

// Observe implements capture.Observer. Duplicates are counted, not filtered.
func (c *Client) Observe(ctx context.Context, rec types.Record) error {
	if rec.ExactHash != "" {
		seen, err := c.SeenExact(ctx, rec.ExactHash)
		if err != nil {
			return err
		}
		if seen {
			c.duplicates.Add(1)
		}
	}
	return c.StorePosition(ctx, &rec)
}
