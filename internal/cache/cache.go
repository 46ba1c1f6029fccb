// Package cache stores previously computed analyses under their content
// fingerprint so identical requests can skip OCR and the model call.
//
// Two stores implement Store. DBStore keeps entries in the analysis_cache
// table and is the source of truth; RedisStore is an optional front with
// native key expiry. Layered combines them: lookups try the front first and
// backfill it on a back hit, inserts write both and ignore front failures.
//
// A live entry is immutable and expires lazily: every lookup filters on the
// expiry timestamp and nothing evicts rows explicitly. Writing a live key
// twice is not an error and the first entry wins; an expired key is
// overwritten by the next insert.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
)

// DefaultTTL is how long an entry stays valid after insertion.
const DefaultTTL = 7 * 24 * time.Hour

// ErrMiss is returned by Lookup when no valid entry exists for a key.
var ErrMiss = errors.New("cache miss")

// Store looks up and inserts cache entries.
type Store interface {
	Lookup(ctx context.Context, key string) (*domain.CacheEntry, error)
	Insert(ctx context.Context, e *domain.CacheEntry) error
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func nowUTC() time.Time { return time.Now().UTC() }
