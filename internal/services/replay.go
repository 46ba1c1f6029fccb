// Package services – ReplayStore
//
// This file implements the storage side of Idempotency-Key handling for
// POST /analyses. A key moves through two states in the idempotency table:
// pending (reserved by the request currently running the pipeline, empty
// RequestID) and completed (mapped to the stored analysis).
//
// A concurrent duplicate finds the pending row and is turned away instead
// of running the pipeline a second time. A failed request releases its
// reservation; a holder that dies leaves a row that lapses after
// PendingTTL. Completed keys replay until TTL.

package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-screenshot-advisor/internal/repo"
)

// defaultPendingTTL bounds how long a reservation blocks its key when the
// holder never completes or releases it.
const defaultPendingTTL = 5 * time.Minute

// ReplayStore remembers which analysis a client's Idempotency-Key produced,
// so a retried POST returns the stored record instead of running the
// pipeline (and consuming quota) again.
type ReplayStore struct {
	DB  *gorm.DB
	TTL time.Duration
	// PendingTTL is the lifetime of a reservation. Zero means 5 minutes.
	PendingTTL time.Duration
	Now        func() time.Time
}

// Lookup returns the analysis stored under (userID, key), if any.
func (r *ReplayStore) Lookup(ctx context.Context, userID, key string) (*AnalysisResult, bool) {
	if r == nil || r.DB == nil || key == "" {
		return nil, false
	}
	idem, err := repo.GetIdempotency(ctx, r.DB, userID, key, r.now())
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("idempotency lookup failed")
		}
		return nil, false
	}
	if idem.RequestID == "" {
		return nil, false
	}
	rec, err := repo.GetRequest(ctx, r.DB, idem.RequestID, userID)
	if err != nil {
		return nil, false
	}
	return &AnalysisResult{
		RequestID:  rec.ID,
		OCRText:    rec.OCRText,
		AIResponse: rec.ModelResponse,
		ImageURLs:  rec.ImageURLs,
	}, true
}

// Exists reports whether a completed replay is stored for (userID, key) at
// now. A pending reservation does not count.
func (r *ReplayStore) Exists(ctx context.Context, userID, key string, now time.Time) (bool, error) {
	if r == nil || r.DB == nil {
		return false, nil
	}
	idem, err := repo.GetIdempotency(ctx, r.DB, userID, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return idem.RequestID != "", nil
}

// Reserve claims key for one in-flight request. It returns false when
// another request already holds or completed the key. Without a store or
// key every caller is granted the reservation.
func (r *ReplayStore) Reserve(ctx context.Context, userID, key string) (bool, error) {
	if r == nil || r.DB == nil || key == "" {
		return true, nil
	}
	ttl := r.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	_, err := repo.ReserveIdempotency(ctx, r.DB, userID, key, ttl, r.now())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repo.ErrDuplicate):
		return false, nil
	default:
		return false, err
	}
}

// Release frees a reservation whose request failed, so the client may retry
// with the same key.
func (r *ReplayStore) Release(ctx context.Context, userID, key string) {
	if r == nil || r.DB == nil || key == "" {
		return
	}
	if err := repo.ReleaseIdempotency(ctx, r.DB, userID, key); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("releasing idempotency key failed")
	}
}

// Remember completes the reservation for key, or stores the mapping when
// none was taken. A completed duplicate is not an error; the first writer
// wins.
func (r *ReplayStore) Remember(ctx context.Context, userID, key, requestID string, status int) {
	if r == nil || r.DB == nil || key == "" {
		return
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := repo.CompleteIdempotency(ctx, r.DB, userID, key, requestID, status, ttl, r.now()); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("storing idempotency key failed")
	}
}

func (r *ReplayStore) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}
