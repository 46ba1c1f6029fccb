package cache

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
)

// Layered consults Front before Back and backfills Front on a Back hit.
// Back is authoritative; Front failures are logged and otherwise ignored.
type Layered struct {
	Front Store
	Back  Store
}

// Lookup implements Store.
func (l *Layered) Lookup(ctx context.Context, key string) (*domain.CacheEntry, error) {
	if l.Front != nil {
		e, err := l.Front.Lookup(ctx, key)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrMiss) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("cache front lookup failed")
		}
	}
	e, err := l.Back.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if l.Front != nil {
		cp := *e
		if ferr := l.Front.Insert(ctx, &cp); ferr != nil {
			zerolog.Ctx(ctx).Warn().Err(ferr).Msg("cache front backfill failed")
		}
	}
	return e, nil
}

// Insert implements Store.
func (l *Layered) Insert(ctx context.Context, e *domain.CacheEntry) error {
	if err := l.Back.Insert(ctx, e); err != nil {
		return err
	}
	if l.Front != nil {
		cp := *e
		if err := l.Front.Insert(ctx, &cp); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("cache front insert failed")
		}
	}
	return nil
}
