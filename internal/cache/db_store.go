package cache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
)

// DBStore keeps entries in the analysis_cache table.
type DBStore struct {
	DB  *gorm.DB
	TTL time.Duration
	Now func() time.Time
}

// NewDBStore returns a DBStore with the given TTL (DefaultTTL when <= 0).
func NewDBStore(db *gorm.DB, ttl time.Duration) *DBStore {
	return &DBStore{DB: db, TTL: ttlOrDefault(ttl), Now: nowUTC}
}

// Lookup returns the newest entry for key whose expiry is still ahead.
func (s *DBStore) Lookup(ctx context.Context, key string) (*domain.CacheEntry, error) {
	var e domain.CacheEntry
	err := s.DB.WithContext(ctx).
		Where("cache_key = ? AND expires_at > ?", key, s.now()).
		Order("expires_at DESC").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Insert stamps ExpiresAt = now + TTL and writes the entry. A live row
// for the same key wins silently; an expired one is overwritten in place.
func (s *DBStore) Insert(ctx context.Context, e *domain.CacheEntry) error {
	now := s.now()
	e.ExpiresAt = now.Add(ttlOrDefault(s.TTL))
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"request_id", "category_id", "advice_id",
				"text_hash", "images_key", "result", "expires_at",
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "analysis_cache.expires_at <= ?", Vars: []any{now}},
			}},
		}).
		Create(e).Error
}

func (s *DBStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return nowUTC()
}
