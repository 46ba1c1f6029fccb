// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
)

// RequestsStats returns the number of records a user owns and the newest
// CreatedAt among them. Records are immutable apart from their rating, so
// the pair changes whenever the history listing does. When the user has no
// records, count is 0 and latest is nil.
func RequestsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.RequestRecord{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}

// CountImagesSince sums ImageCount over userID's records created at or
// after since. It reports what was actually stored, independent of the
// quota counter.
func CountImagesSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.RequestRecord{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Select("COALESCE(SUM(image_count), 0)").
		Scan(&total).Error
	return total, err
}
