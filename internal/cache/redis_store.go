package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
)

// RedisStore is a fast front for the database store. Values are the JSON
// encoded entry and expire with the entry itself.
type RedisStore struct {
	Client redis.UniversalClient
	Prefix string
	TTL    time.Duration
	Now    func() time.Time
}

// NewRedisStore returns a RedisStore using prefix "cache" by default.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "cache"
	}
	return &RedisStore{Client: client, Prefix: prefix, TTL: ttlOrDefault(ttl), Now: nowUTC}
}

// Lookup reads and decodes the entry for key.
func (s *RedisStore) Lookup(ctx context.Context, key string) (*domain.CacheEntry, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	raw, err := s.Client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var e domain.CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if !e.ExpiresAt.After(s.now()) {
		return nil, ErrMiss
	}
	return &e, nil
}

// Insert stores e unless the key already exists. An entry without an
// expiry gets now + TTL.
func (s *RedisStore) Insert(ctx context.Context, e *domain.CacheEntry) error {
	if s.Client == nil {
		return fmt.Errorf("redis client is nil")
	}
	now := s.now()
	if e.ExpiresAt.IsZero() {
		e.ExpiresAt = now.Add(ttlOrDefault(s.TTL))
	}
	ttl := e.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return s.Client.SetNX(ctx, s.key(e.CacheKey), raw, ttl).Err()
}

func (s *RedisStore) key(k string) string { return s.Prefix + ":" + k }

func (s *RedisStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return nowUTC()
}
