// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for RequestRecord,
// the durable record of a completed analysis.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only persistence
// and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateRequest inserts a fully assembled RequestRecord. A missing ID is
// generated; a zero CreatedAt is set to now (UTC). ImageCount always
// mirrors len(ImageURLs).
func CreateRequest(ctx context.Context, db *gorm.DB, rec *domain.RequestRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.ImageCount = len(rec.ImageURLs)
	return db.WithContext(ctx).Create(rec).Error
}

// GetRequest fetches a single record by id and owner. Missing or foreign
// records yield ErrNotFound.
func GetRequest(ctx context.Context, db *gorm.DB, id, userID string) (*domain.RequestRecord, error) {
	var r domain.RequestRecord
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRequests returns the total number of records owned by userID.
func CountRequests(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.RequestRecord{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListRequestsPage returns a page of userID's records, newest first.
// Use CountRequests to obtain the total for pagination metadata.
func ListRequestsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.RequestRecord, error) {
	var out []domain.RequestRecord
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ExistingRequestIDs returns the subset of ids that have a stored record.
func ExistingRequestIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []string
	if err := db.WithContext(ctx).
		Model(&domain.RequestRecord{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = struct{}{}
	}
	return out, nil
}
