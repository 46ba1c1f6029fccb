package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
)

func newCacheDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:cache_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.CacheEntry{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newRedisForTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return m, client
}

func entry(key, answer string) *domain.CacheEntry {
	return &domain.CacheEntry{
		CacheKey: key, RequestID: "r1", CategoryID: "c1", AdviceID: "a1",
		TextHash: "th", ImagesKey: "ih",
		Result: datatypes.NewJSONType(domain.CacheResult{ModelResponse: answer, OCRText: "HP:100"}),
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestDBStore_InsertLookupAndExpiry(t *testing.T) {
	db := newCacheDB(t)
	clk := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := NewDBStore(db, 0)
	s.Now = clk.now
	ctx := context.Background()

	if _, err := s.Lookup(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss on empty store, got %v", err)
	}

	e := entry("k", "use fire")
	if err := s.Insert(ctx, e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if want := clk.t.Add(7 * 24 * time.Hour); !e.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v; want %v", e.ExpiresAt, want)
	}

	got, err := s.Lookup(ctx, "k")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Result.Data().ModelResponse != "use fire" || got.RequestID != "r1" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	// Logically expired rows stay in the table but no longer match.
	clk.t = clk.t.Add(7*24*time.Hour + time.Second)
	if _, err := s.Lookup(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after expiry, got %v", err)
	}
	var n int64
	db.Model(&domain.CacheEntry{}).Count(&n)
	if n != 1 {
		t.Fatalf("expired row should not be deleted, count=%d", n)
	}
}

func TestDBStore_DuplicateInsertIsNotAnError(t *testing.T) {
	db := newCacheDB(t)
	s := NewDBStore(db, time.Hour)
	ctx := context.Background()

	if err := s.Insert(ctx, entry("dup", "first")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.Insert(ctx, entry("dup", "second")); err != nil {
		t.Fatalf("second insert on a live key should be a no-op, got %v", err)
	}
	got, err := s.Lookup(ctx, "dup")
	if err != nil || got.Result.Data().ModelResponse != "first" {
		t.Fatalf("first writer should win: %+v %v", got, err)
	}
}

func TestDBStore_ExpiredRowIsReplacedOnInsert(t *testing.T) {
	db := newCacheDB(t)
	clk := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := NewDBStore(db, 0)
	s.Now = clk.now
	ctx := context.Background()

	if err := s.Insert(ctx, entry("k", "stale")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	clk.t = clk.t.Add(8 * 24 * time.Hour)
	if _, err := s.Lookup(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after expiry, got %v", err)
	}

	fresh := entry("k", "fresh")
	fresh.RequestID = "r2"
	if err := s.Insert(ctx, fresh); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	got, err := s.Lookup(ctx, "k")
	if err != nil {
		t.Fatalf("Lookup after re-insert: %v", err)
	}
	if got.Result.Data().ModelResponse != "fresh" || got.RequestID != "r2" {
		t.Fatalf("expired row not replaced: %+v", got)
	}
	if want := clk.t.Add(7 * 24 * time.Hour); !got.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v; want %v", got.ExpiresAt, want)
	}

	var n int64
	db.Model(&domain.CacheEntry{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected a single row per key, count=%d", n)
	}
}

func TestDBStore_LookupErrorWithoutTable(t *testing.T) {
	dsn := fmt.Sprintf("file:cache_none_%s?mode=memory&cache=shared", uuid.NewString())
	db, _ := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	s := NewDBStore(db, time.Hour)
	if _, err := s.Lookup(context.Background(), "k"); err == nil || errors.Is(err, ErrMiss) {
		t.Fatalf("expected a real error, got %v", err)
	}
}

func TestRedisStore_RoundTripAndTTL(t *testing.T) {
	m, client := newRedisForTest(t)
	s := NewRedisStore(client, "", time.Hour)
	ctx := context.Background()

	if _, err := s.Lookup(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
	if err := s.Insert(ctx, entry("k", "parry")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !m.Exists("cache:k") {
		t.Fatalf("expected key cache:k in redis")
	}
	if ttl := m.TTL("cache:k"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	got, err := s.Lookup(ctx, "k")
	if err != nil || got.Result.Data().ModelResponse != "parry" {
		t.Fatalf("Lookup: %+v %v", got, err)
	}

	// SetNX keeps the first value.
	if err := s.Insert(ctx, entry("k", "dodge")); err != nil {
		t.Fatalf("second insert: %v", err)
	}
	got, _ = s.Lookup(ctx, "k")
	if got.Result.Data().ModelResponse != "parry" {
		t.Fatalf("entry must be immutable, got %q", got.Result.Data().ModelResponse)
	}

	m.FastForward(2 * time.Hour)
	if _, err := s.Lookup(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after ttl, got %v", err)
	}
}

func TestRedisStore_NilClient(t *testing.T) {
	s := &RedisStore{}
	if _, err := s.Lookup(context.Background(), "k"); err == nil {
		t.Fatalf("expected nil client error")
	}
	if err := s.Insert(context.Background(), entry("k", "x")); err == nil {
		t.Fatalf("expected nil client error")
	}
}

func TestLayered_BackfillsFrontOnBackHit(t *testing.T) {
	m, client := newRedisForTest(t)
	front := NewRedisStore(client, "front", time.Hour)
	back := NewDBStore(newCacheDB(t), time.Hour)
	l := &Layered{Front: front, Back: back}
	ctx := context.Background()

	// Written only to the back store (e.g. by another replica before Redis was enabled).
	if err := back.Insert(ctx, entry("k", "block")); err != nil {
		t.Fatalf("back insert: %v", err)
	}
	if m.Exists("front:k") {
		t.Fatalf("front should be empty")
	}
	got, err := l.Lookup(ctx, "k")
	if err != nil || got.Result.Data().ModelResponse != "block" {
		t.Fatalf("Lookup: %+v %v", got, err)
	}
	if !m.Exists("front:k") {
		t.Fatalf("front should be backfilled")
	}

	if _, err := l.Lookup(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestLayered_InsertWritesBoth_FrontFailureIgnored(t *testing.T) {
	m, client := newRedisForTest(t)
	back := NewDBStore(newCacheDB(t), time.Hour)
	l := &Layered{Front: NewRedisStore(client, "front", time.Hour), Back: back}
	ctx := context.Background()

	if err := l.Insert(ctx, entry("k1", "roll")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !m.Exists("front:k1") {
		t.Fatalf("front not written")
	}
	if _, err := back.Lookup(ctx, "k1"); err != nil {
		t.Fatalf("back not written: %v", err)
	}

	m.Close() // front now unreachable
	if err := l.Insert(ctx, entry("k2", "jump")); err != nil {
		t.Fatalf("front failure must not fail Insert: %v", err)
	}
	got, err := l.Lookup(ctx, "k2")
	if err != nil || got.Result.Data().ModelResponse != "jump" {
		t.Fatalf("lookup should fall back to back store: %+v %v", got, err)
	}
}
