package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/falconml/inferd/internal/infra/store"
)

// Client implements store.CacheStore on Redis. It serves both the response
// cache and the idempotency records, under separate key namespaces.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func cacheKey(key string) string {
	return fmt.Sprintf("cache:%s", key)
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// Get returns the cached value at key, or store.ErrNotFound on a miss.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	return val, nil
}

// Set stores value at key with the given TTL.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, cacheKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// Reserve atomically creates a Reserved record for key unless one exists.
func (c *Client) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (bool, *store.Reservation, error) {
	rec := store.Reservation{
		Fingerprint: fingerprint,
		Status:      store.StatusReserved,
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal reservation: %w", err)
	}

	// The record can expire between SetNX and Get; loop so a lost race always
	// resolves to either our reservation or the concurrent writer's record.
	for attempt := 0; attempt < 3; attempt++ {
		created, err := c.rdb.SetNX(ctx, idempotencyKey(key), data, ttl).Result()
		if err != nil {
			return false, nil, fmt.Errorf("setnx failed: %w", err)
		}
		if created {
			return true, nil, nil
		}

		existing, err := c.rdb.Get(ctx, idempotencyKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return false, nil, fmt.Errorf("get failed: %w", err)
		}

		var found store.Reservation
		if err := json.Unmarshal(existing, &found); err != nil {
			return false, nil, fmt.Errorf("failed to unmarshal reservation: %w", err)
		}
		return false, &found, nil
	}
	return false, nil, fmt.Errorf("reserve contended: key %q kept expiring", key)
}

// completeScript flips a reservation to completed unless a completed record is
// already there, keeping the remaining TTL. First writer wins.
var completeScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
  local rec = cjson.decode(current)
  if rec["status"] == "completed" then
    return 0
  end
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
else
  redis.call("SET", KEYS[1], ARGV[1], "PX", tonumber(ARGV[2]))
end
return 1
`)

// CompleteReservation marks key Completed with response. A record completed by
// a concurrent request is left untouched.
func (c *Client) CompleteReservation(ctx context.Context, key string, response []byte) error {
	existing, err := c.rdb.Get(ctx, idempotencyKey(key)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get failed: %w", err)
	}

	rec := store.Reservation{
		Status:    store.StatusCompleted,
		Response:  response,
		CreatedAt: time.Now().UTC(),
	}
	if existing != nil {
		var found store.Reservation
		if err := json.Unmarshal(existing, &found); err == nil {
			rec.Fingerprint = found.Fingerprint
			rec.CreatedAt = found.CreatedAt
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal reservation: %w", err)
	}

	fallbackTTL := 24 * time.Hour / time.Millisecond
	if err := completeScript.Run(ctx, c.rdb, []string{idempotencyKey(key)}, data, int64(fallbackTTL)).Err(); err != nil {
		return fmt.Errorf("complete script failed: %w", err)
	}
	return nil
}

// Ping reports Redis reachability.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
