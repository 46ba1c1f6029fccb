package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

var reserveScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local expire_at = tonumber(ARGV[3])

local used = tonumber(redis.call("GET", KEYS[1]) or "0")
if used + n > limit then
  return {0, used}
end
used = redis.call("INCRBY", KEYS[1], n)
redis.call("EXPIREAT", KEYS[1], expire_at)
return {1, used}
`)

var releaseScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
if used <= 0 then
  return 0
end
if n > used then
  n = used
end
return redis.call("DECRBY", KEYS[1], n)
`)

// RedisCounter keeps one key per user and day. The reserve script checks
// and increments in one server-side step, and keys expire an hour after
// the day ends.
type RedisCounter struct {
	Client redis.UniversalClient
	Prefix string
}

// NewRedisCounter returns a RedisCounter using prefix "quota" by default.
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "quota"
	}
	return &RedisCounter{Client: client, Prefix: prefix}
}

// Used implements Counter.
func (c *RedisCounter) Used(ctx context.Context, userID, day string) (int, error) {
	if c.Client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := c.Client.Get(ctx, c.key(userID, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Reserve implements Counter.
func (c *RedisCounter) Reserve(ctx context.Context, userID, day string, n, limit int) (int, bool, error) {
	if c.Client == nil {
		return 0, false, fmt.Errorf("redis client is nil")
	}
	expireAt, err := dayExpiry(day)
	if err != nil {
		return 0, false, err
	}
	raw, err := reserveScript.Run(ctx, c.Client, []string{c.key(userID, day)}, n, limit, expireAt.Unix()).Result()
	if err != nil {
		return 0, false, err
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, false, fmt.Errorf("unexpected redis script response type")
	}
	allowed, err := parseRedisInt64(values[0])
	if err != nil {
		return 0, false, err
	}
	used, err := parseRedisInt64(values[1])
	if err != nil {
		return 0, false, err
	}
	return int(used), allowed == 1, nil
}

// Release implements Counter.
func (c *RedisCounter) Release(ctx context.Context, userID, day string, n int) error {
	if c.Client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return releaseScript.Run(ctx, c.Client, []string{c.key(userID, day)}, n).Err()
}

func (c *RedisCounter) key(userID, day string) string {
	return fmt.Sprintf("%s:%s:%s", c.Prefix, userID, day)
}

func dayExpiry(day string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse quota day %q: %w", day, err)
	}
	return NextReset(t).Add(time.Hour), nil
}

func parseRedisInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("redis response overflows int64")
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case string:
		return 0, fmt.Errorf("unexpected string redis response: %s", n)
	default:
		return 0, fmt.Errorf("unexpected redis response type %T", v)
	}
}
