// Package services – Background
//
// This file implements the runner for work that must not delay the HTTP
// response, currently the cache write after a miss. Tasks outlive the
// request: they inherit its logger and trace span but not its
// cancellation, and each one is bounded by Timeout.
//
// Wait lets shutdown and tests drain outstanding tasks. Errors and panics
// are logged with the task name and never reach the caller.

package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Background runs fire-and-forget tasks off the response path. Tasks keep
// the caller's context values (logger, trace) but not its cancellation.
// Failures and panics are logged, never propagated.
type Background struct {
	// Timeout bounds each task. Zero means no bound.
	Timeout time.Duration

	wg sync.WaitGroup
}

// Go starts fn in its own goroutine.
func (b *Background) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	tctx := context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		log := zerolog.Ctx(tctx)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("task", name).Str("panic", fmt.Sprint(r)).Msg("background task panicked")
			}
		}()
		runCtx := tctx
		if b.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(tctx, b.Timeout)
			defer cancel()
		}
		if err := fn(runCtx); err != nil {
			log.Warn().Err(err).Str("task", name).Msg("background task failed")
		}
	}()
}

// Wait blocks until every started task finished or ctx is done.
func (b *Background) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
