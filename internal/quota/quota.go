// Package quota enforces the per-user daily image limit.
//
// The day is the UTC calendar day; usage resets at the next UTC midnight.
// Check is a read-only fail-fast probe. CheckAndReserve is the
// authoritative step: it increments the counter only when the new total
// stays within the limit, in a single atomic operation on the backing
// store, so concurrent requests from one user cannot overshoot it.
package quota

import (
	"context"
	"time"
)

// Counter is an atomic per-user, per-day image counter.
type Counter interface {
	// Used returns the images already counted for userID on day.
	Used(ctx context.Context, userID, day string) (int, error)
	// Reserve adds n when used+n <= limit and reports the resulting total.
	// When the limit would be passed nothing changes, ok is false and used
	// is the current total.
	Reserve(ctx context.Context, userID, day string, n, limit int) (used int, ok bool, err error)
	// Release subtracts n, never going below zero.
	Release(ctx context.Context, userID, day string, n int) error
}

// Subject identifies who is consuming quota.
type Subject struct {
	UserID string
	Role   string
	// Limit overrides the guard default when non-nil.
	Limit *int
}

// Decision is the outcome of a quota evaluation.
type Decision struct {
	Exceeded        bool      `json:"exceeded"`
	Unlimited       bool      `json:"unlimited"`
	Limit           int       `json:"limit"`
	Used            int       `json:"used"`
	Requested       int       `json:"requested"`
	RemainingImages int       `json:"remainingImages"`
	ResetAt         time.Time `json:"resetAt"`
}

// Reservation undoes a successful CheckAndReserve.
type Reservation struct {
	counter Counter
	userID  string
	day     string
	n       int
}

// Release returns the reserved images to the user's daily allowance.
// A zero Reservation is a no-op.
func (r Reservation) Release(ctx context.Context) error {
	if r.counter == nil || r.n == 0 {
		return nil
	}
	return r.counter.Release(ctx, r.userID, r.day, r.n)
}

// Guard evaluates Subjects against their daily limit.
type Guard struct {
	Counter        Counter
	DefaultLimit   int
	UnlimitedRoles []string
	Now            func() time.Time
}

// NewGuard builds a Guard with the given default limit and bypass roles.
func NewGuard(c Counter, defaultLimit int, unlimitedRoles []string) *Guard {
	return &Guard{Counter: c, DefaultLimit: defaultLimit, UnlimitedRoles: unlimitedRoles, Now: time.Now}
}

// Check reports whether requested more images fit into today's allowance
// without reserving them.
func (g *Guard) Check(ctx context.Context, s Subject, requested int) (Decision, error) {
	now := g.now()
	if g.unlimited(s) {
		return Decision{Unlimited: true, Requested: requested, ResetAt: NextReset(now)}, nil
	}
	limit := g.limitFor(s)
	used, err := g.Counter.Used(ctx, s.UserID, Day(now))
	if err != nil {
		return Decision{}, err
	}
	return decide(limit, used, requested, used+requested > limit, now), nil
}

// CheckAndReserve atomically reserves requested images. On success the
// returned Reservation releases them again; when Exceeded is set nothing
// was reserved.
func (g *Guard) CheckAndReserve(ctx context.Context, s Subject, requested int) (Decision, Reservation, error) {
	now := g.now()
	if g.unlimited(s) {
		return Decision{Unlimited: true, Requested: requested, ResetAt: NextReset(now)}, Reservation{}, nil
	}
	limit := g.limitFor(s)
	day := Day(now)
	used, ok, err := g.Counter.Reserve(ctx, s.UserID, day, requested, limit)
	if err != nil {
		return Decision{}, Reservation{}, err
	}
	if !ok {
		return decide(limit, used, requested, true, now), Reservation{}, nil
	}
	d := decide(limit, used, requested, false, now)
	return d, Reservation{counter: g.Counter, userID: s.UserID, day: day, n: requested}, nil
}

// Status reports today's usage without requesting anything.
func (g *Guard) Status(ctx context.Context, s Subject) (Decision, error) {
	return g.Check(ctx, s, 0)
}

func (g *Guard) unlimited(s Subject) bool {
	for _, r := range g.UnlimitedRoles {
		if r == s.Role && r != "" {
			return true
		}
	}
	return false
}

func (g *Guard) limitFor(s Subject) int {
	if s.Limit != nil && *s.Limit >= 0 {
		return *s.Limit
	}
	return g.DefaultLimit
}

func (g *Guard) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func decide(limit, used, requested int, exceeded bool, now time.Time) Decision {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Exceeded:        exceeded,
		Limit:           limit,
		Used:            used,
		Requested:       requested,
		RemainingImages: remaining,
		ResetAt:         NextReset(now),
	}
}

// Day formats t as the UTC calendar day used for counter keys.
func Day(t time.Time) string { return t.UTC().Format("2006-01-02") }

// NextReset returns the next UTC midnight after t.
func NextReset(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
