// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for POST /analyses.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
)

// ErrDuplicate indicates that a row with the same unique key already exists.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND key = ? AND expires_at > ?", userID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, key, requestID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return createIdempotencyAt(ctx, db, userID, key, requestID, status, ttl, time.Now().UTC())
}

func createIdempotencyAt(ctx context.Context, db *gorm.DB, userID, key, requestID string, status int, ttl time.Duration, now time.Time) (*domain.Idempotency, error) {
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    userID,
		Key:       key,
		RequestID: requestID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ReserveIdempotency claims (userID, key) with a pending row: empty
// RequestID, status 0, lapsing after ttl. An expired row for the same pair
// is removed first. A live row (pending or completed) yields ErrDuplicate.
func ReserveIdempotency(ctx context.Context, db *gorm.DB, userID, key string, ttl time.Duration, now time.Time) (*domain.Idempotency, error) {
	if err := db.WithContext(ctx).
		Where("user_id = ? AND key = ? AND expires_at <= ?", userID, key, now).
		Delete(&domain.Idempotency{}).Error; err != nil {
		return nil, err
	}
	return createIdempotencyAt(ctx, db, userID, key, "", 0, ttl, now)
}

// CompleteIdempotency turns the pending row for (userID, key) into a
// completed one. Without a pending row it inserts a fresh record; a
// completed row that already exists is left alone (ErrDuplicate).
func CompleteIdempotency(ctx context.Context, db *gorm.DB, userID, key, requestID string, status int, ttl time.Duration, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("user_id = ? AND key = ? AND request_id = ''", userID, key).
		Updates(map[string]any{
			"request_id": requestID,
			"status":     status,
			"expires_at": now.Add(ttl),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	_, err := createIdempotencyAt(ctx, db, userID, key, requestID, status, ttl, now)
	return err
}

// ReleaseIdempotency drops the pending row for (userID, key) so the client
// can retry with the same key. Completed rows are untouched.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, userID, key string) error {
	return db.WithContext(ctx).
		Where("user_id = ? AND key = ? AND request_id = ''", userID, key).
		Delete(&domain.Idempotency{}).Error
}

// IsUniqueViolation reports whether err is a unique-constraint failure on
// either backend.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
