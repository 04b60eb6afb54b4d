package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/response"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ByClientIP charges requests to the caller's IP.
func ByClientIP(c *gin.Context) string { return c.ClientIP() }

// BySessionParam charges requests to the :id path parameter, so one noisy
// exam session cannot starve the others sharing an address.
func BySessionParam(c *gin.Context) string {
	if id := c.Param("id"); id != "" {
		return "session:" + id
	}
	return c.ClientIP()
}

// RateLimiter implements a simple keyed token bucket rate limiter.
type RateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	rate        int           // Tokens per interval
	interval    time.Duration // Refill interval
	key         KeyFunc
	now         func() time.Time
	lastCleanup time.Time
}

type bucket struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 120 commands per minute per session).
func NewRateLimiter(rate int, interval time.Duration, key KeyFunc) *RateLimiter {
	if key == nil {
		key = ByClientIP
	}
	return &RateLimiter{
		buckets:     make(map[string]*bucket),
		rate:        rate,
		interval:    interval,
		key:         key,
		now:         time.Now,
		lastCleanup: time.Now(),
	}
}

// Allow takes one token from k's bucket.
func (rl *RateLimiter) Allow(k string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastCleanup) > time.Minute {
		rl.cleanupLocked(now)
	}

	b, exists := rl.buckets[k]
	if !exists {
		b = &bucket{tokens: rl.rate, lastSeen: now}
		rl.buckets[k] = b
	}

	// Refill tokens based on elapsed time.
	refill := int(now.Sub(b.lastSeen)/rl.interval) * rl.rate
	if refill > 0 {
		b.tokens += refill
		if b.tokens > rl.rate {
			b.tokens = rl.rate
		}
		b.lastSeen = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Middleware returns a Gin middleware that rejects requests over budget.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(rl.key(c)) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) > 3*rl.interval {
			delete(rl.buckets, k)
		}
	}
	rl.lastCleanup = now
}
