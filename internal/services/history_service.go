// Package services – HistoryService
//
// This file implements the read side of stored analyses: paginated listing,
// single-record lookup with ownership checks, ETag inputs and the user's
// quota status for the current UTC day.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
	"github.com/tbourn/go-screenshot-advisor/internal/quota"
	"github.com/tbourn/go-screenshot-advisor/internal/repo"
	"github.com/tbourn/go-screenshot-advisor/internal/utils"
)

// HistoryRepo defines the repository contract required by HistoryService.
type HistoryRepo interface {
	GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)

	// GetRequest fetches a record by id ensuring it belongs to the user.
	GetRequest(ctx context.Context, db *gorm.DB, id, userID string) (*domain.RequestRecord, error)

	// CountRequests returns the total number of records for pagination.
	CountRequests(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListRequestsPage returns a page of records, newest first.
	ListRequestsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.RequestRecord, error)

	// RequestsStats returns the count and newest timestamp for ETags.
	RequestsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error)

	// CountImagesSince sums stored images created at or after since.
	CountImagesSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error)
}

// HistoryService serves a user's stored analyses and usage.
type HistoryService struct {
	DB    *gorm.DB
	Repo  HistoryRepo
	Quota QuotaGuard
	Now   func() time.Time
}

// NewHistoryService constructs a HistoryService.
func NewHistoryService(db *gorm.DB, r HistoryRepo, g QuotaGuard) *HistoryService {
	return &HistoryService{DB: db, Repo: r, Quota: g, Now: time.Now}
}

// ListPage returns a page of the user's analyses and the total count.
// It applies defaults for invalid page/pageSize.
func (s *HistoryService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.RequestRecord, int64, error) {
	ctx, span := otel.Tracer("services/HistoryService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	total, err := s.Repo.CountRequests(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.RequestRecord{}, 0, nil
	}

	items, err := s.Repo.ListRequestsPage(ctx, s.DB, userID, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Get returns one analysis owned by userID.
func (s *HistoryService) Get(ctx context.Context, userID, id string) (*domain.RequestRecord, error) {
	rec, err := s.Repo.GetRequest(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Stats returns the inputs of the history listing's ETag.
func (s *HistoryService) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return s.Repo.RequestsStats(ctx, s.DB, userID)
}

// Usage is the user's quota state for the current UTC day.
type Usage struct {
	quota.Decision
	// ImagesStored counts images of today's stored analyses. It can trail
	// Used while analyses are in flight.
	ImagesStored int64 `json:"imagesStored"`
}

// Usage reports today's quota state for userID.
func (s *HistoryService) Usage(ctx context.Context, userID string) (*Usage, error) {
	user, err := s.Repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	d, err := s.Quota.Status(ctx, quota.Subject{UserID: user.ID, Role: user.Role, Limit: user.MaxDailyImages})
	if err != nil {
		return nil, fmt.Errorf("quota status: %w", err)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	y, m, dd := now().UTC().Date()
	stored, err := s.Repo.CountImagesSince(ctx, s.DB, user.ID, time.Date(y, m, dd, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, fmt.Errorf("count stored images: %w", err)
	}
	return &Usage{Decision: d, ImagesStored: stored}, nil
}
