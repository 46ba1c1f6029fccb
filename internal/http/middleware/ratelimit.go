// Per-caller token buckets at the HTTP edge. They absorb bursts of retries;
// the daily image quota is a separate, durable limit owned by the pipeline.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc maps a request to a bucket identity.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys authenticated callers by user ID and everyone else by
// client IP, in separate namespaces ("user:u1", "ip:203.0.113.7").
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per key. Buckets idle for IdleTTL are
// dropped by a sweep that runs at most once per IdleTTL. Safe for concurrent
// use.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	key     KeyFunc
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter refills rps tokens per second up to burst (min 1).
func NewRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		key:     key,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (rl *RateLimiter) bucketFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// size reports the number of live buckets.
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay, which is served without spending a token.
func IsRateBypass(c *gin.Context) bool {
	b, _ := c.Get(ctxKeyRateBypass)
	v, _ := b.(bool)
	return v
}

// Handler spends one token per request. A rejected request gets 429
// "rate_limited" with Retry-After set to the wait for the next token.
// X-RateLimit-Limit and X-RateLimit-Remaining describe the caller's bucket.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		lim := rl.bucketFor(rl.key(c), now)

		res := lim.ReserveN(now, 1)
		delay := res.DelayFrom(now)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.burst))

		if !res.OK() || delay > 0 {
			if res.OK() {
				res.CancelAt(now)
			}
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(delay, rl.limit)))
			abortJSON(c, http.StatusTooManyRequests, "rate_limited", "Slow down", "rate limit exceeded")
			return
		}

		remaining := int(math.Floor(lim.TokensAt(now)))
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}

// retryAfterSeconds rounds delay up to whole seconds (min 1). A zero refill
// rate never frees a token, so callers are told to wait a minute.
func retryAfterSeconds(delay time.Duration, limit rate.Limit) int {
	if limit <= 0 || delay == rate.InfDuration {
		return 60
	}
	s := int(math.Ceil(delay.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
