// Package quota – DBCounter
//
// This file implements the relational Counter used when Redis is not
// configured. Each (user, UTC day) pair owns one daily_usage row that is
// created lazily on the first reservation.
//
// Reserve is an insert-if-absent followed by a single conditional UPDATE
// ("images_used + n <= limit"). The row lock taken by that UPDATE
// serializes concurrent reservations for the same user and day, so the
// limit holds without an explicit transaction. Release never drives the
// counter below zero.

package quota

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
)

// DBCounter keeps counters in the daily_usage table. Reserve is a single
// conditional UPDATE, so the row-level write lock serializes concurrent
// reservations for the same user and day.
type DBCounter struct {
	DB *gorm.DB
}

// NewDBCounter returns a DBCounter.
func NewDBCounter(db *gorm.DB) *DBCounter { return &DBCounter{DB: db} }

// Used implements Counter.
func (c *DBCounter) Used(ctx context.Context, userID, day string) (int, error) {
	var row domain.DailyUsage
	err := c.DB.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.ImagesUsed, nil
}

// Reserve implements Counter.
func (c *DBCounter) Reserve(ctx context.Context, userID, day string, n, limit int) (int, bool, error) {
	db := c.DB.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.DailyUsage{UserID: userID, Day: day, UpdatedAt: time.Now().UTC()}).Error; err != nil {
		return 0, false, err
	}

	res := db.Model(&domain.DailyUsage{}).
		Where("user_id = ? AND day = ? AND images_used + ? <= ?", userID, day, n, limit).
		Updates(map[string]any{
			"images_used": gorm.Expr("images_used + ?", n),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, false, res.Error
	}
	used, err := c.Used(ctx, userID, day)
	if err != nil {
		return 0, false, err
	}
	return used, res.RowsAffected == 1, nil
}

// Release implements Counter.
func (c *DBCounter) Release(ctx context.Context, userID, day string, n int) error {
	return c.DB.WithContext(ctx).
		Model(&domain.DailyUsage{}).
		Where("user_id = ? AND day = ?", userID, day).
		Updates(map[string]any{
			"images_used": gorm.Expr("CASE WHEN images_used >= ? THEN images_used - ? ELSE 0 END", n, n),
			"updated_at":  time.Now().UTC(),
		}).Error
}
