// Package services – Saga
//
// This file implements the compensation log used by the analysis pipeline.
// Every durable side effect (quota reservation, uploaded screenshots, the
// persisted record) registers an undo step right after it succeeds. When a
// later step fails the pipeline calls Compensate, which runs the undo steps
// newest first.
//
// Compensations run on a context that keeps the caller's values (logger,
// trace) but not its cancellation, bounded by Timeout. A failing
// compensation is logged and reported through Observe; the remaining ones
// still run.

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

// Saga records a compensating action for every forward step that succeeded
// and undoes them in reverse order when a later step fails.
type Saga struct {
	// Timeout bounds all compensations together. Zero means no bound.
	Timeout time.Duration
	// Observe is called once per compensation with its outcome.
	Observe func(step string, err error)

	steps []compensation
}

// Add registers the compensation for a step that just succeeded.
func (s *Saga) Add(name string, fn func(ctx context.Context) error) {
	s.steps = append(s.steps, compensation{name: name, fn: fn})
}

// Len reports the number of registered compensations.
func (s *Saga) Len() int { return len(s.steps) }

// Compensate runs every registered compensation, newest first. It keeps
// going after a failure and returns all failures. Compensations run on a
// context detached from ctx's cancellation, so they still execute after
// the caller gave up. Compensate is a no-op on a second call.
func (s *Saga) Compensate(ctx context.Context) []error {
	if len(s.steps) == 0 {
		return nil
	}
	cctx := context.WithoutCancel(ctx)
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, s.Timeout)
		defer cancel()
	}

	log := zerolog.Ctx(ctx)
	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		err := step.fn(cctx)
		if err != nil {
			log.Error().Err(err).Str("step", step.name).Msg("rollback step failed")
			errs = append(errs, err)
		} else {
			log.Debug().Str("step", step.name).Msg("rolled back")
		}
		if s.Observe != nil {
			s.Observe(step.name, err)
		}
	}
	s.steps = nil
	return errs
}
