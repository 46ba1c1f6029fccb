// Package services – OrphanSweeper
//
// This file implements the periodic cleanup of screenshots whose request
// never produced a record, e.g. when the process died between upload and
// insert and no compensation ran.
//
// A sweep lists the object store, parses each key back into its request ID,
// checks those IDs against analysis_requests in batches, and deletes the
// objects with no matching row. Objects younger than Grace are skipped so
// in-flight requests are never touched.

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-screenshot-advisor/internal/repo"
	"github.com/tbourn/go-screenshot-advisor/internal/storage"
)

// sweepBatch caps the ids per existence query.
const sweepBatch = 500

// SweepReport summarizes one sweep.
type SweepReport struct {
	Scanned int
	Orphans int
	Deleted int
	Failed  int
}

// OrphanSweeper deletes stored screenshots that no analysis record refers
// to. Such objects remain when the process dies between upload and insert.
// Objects younger than Grace are left alone because their request may
// still be in flight.
type OrphanSweeper struct {
	DB    *gorm.DB
	Store storage.ObjectStore
	Grace time.Duration
	Now   func() time.Time
}

// Sweep runs one pass over the store.
func (s *OrphanSweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	log := zerolog.Ctx(ctx)

	objs, err := s.Store.List(ctx, "")
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(objs)

	cutoff := s.now().Add(-s.Grace)
	byRequest := make(map[string][]string)
	for _, o := range objs {
		if o.LastModified.After(cutoff) {
			continue
		}
		_, requestID, _, ok := storage.ParseObjectKey(o.Key)
		if !ok {
			continue
		}
		byRequest[requestID] = append(byRequest[requestID], o.Key)
	}

	ids := make([]string, 0, len(byRequest))
	for id := range byRequest {
		ids = append(ids, id)
	}
	for start := 0; start < len(ids); start += sweepBatch {
		end := start + sweepBatch
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		existing, err := repo.ExistingRequestIDs(ctx, s.DB, chunk)
		if err != nil {
			return rep, err
		}
		for _, id := range chunk {
			if _, ok := existing[id]; ok {
				continue
			}
			for _, key := range byRequest[id] {
				rep.Orphans++
				if err := s.Store.Delete(ctx, key); err != nil {
					rep.Failed++
					log.Warn().Err(err).Str("key", key).Msg("orphan delete failed")
					continue
				}
				rep.Deleted++
			}
		}
	}
	if rep.Orphans > 0 {
		log.Info().Int("scanned", rep.Scanned).Int("deleted", rep.Deleted).Int("failed", rep.Failed).Msg("orphan sweep finished")
	}
	return rep, nil
}

// Run sweeps every interval until ctx is done.
func (s *OrphanSweeper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("orphan sweep failed")
			}
		}
	}
}

func (s *OrphanSweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
