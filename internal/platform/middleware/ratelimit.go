package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
	}
}

// PerMinute is a config allowing n requests a minute with a burst of n.
func PerMinute(n int) RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: float64(n) / 60, BurstSize: n}
}

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimiter is a keyed token-bucket limiter. Build one per process and
// share it; it is safe for concurrent use.
type RateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*tokenBucket),
	}
}

// Allow takes a token from key's bucket. When empty it reports how long
// until the next token.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(l.cfg.BurstSize), lastSeen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(float64(l.cfg.BurstSize), b.tokens+now.Sub(b.lastSeen).Seconds()*l.cfg.RequestsPerSecond)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if l.cfg.RequestsPerSecond <= 0 {
		return false, time.Second
	}
	wait := time.Duration((1 - b.tokens) / l.cfg.RequestsPerSecond * float64(time.Second))
	return false, wait
}

// Prune drops buckets untouched for idle. A bucket idle that long has
// refilled anyway, so dropping it changes nothing.
func (l *RateLimiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idle)
	n := 0
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// StartCleanup prunes idle buckets every interval until ctx is done.
func (l *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Prune(interval)
			}
		}
	}()
}

// KeyFunc picks the bucket for a request.
type KeyFunc func(c echo.Context) string

func KeyByIP(c echo.Context) string { return "ip:" + c.RealIP() }

// KeyByUser keys on the authenticated user, falling back to the IP.
func KeyByUser(c echo.Context) string {
	if id, ok := auth.IdentityFromContext(c.Request().Context()); ok {
		return "user:" + id.UserID.String()
	}
	return KeyByIP(c)
}

func RateLimit(l *RateLimiter, key KeyFunc) echo.MiddlewareFunc {
	limit := strconv.Itoa(l.cfg.BurstSize)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			ok, wait := l.Allow(key(c))
			if !ok {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, map[string]string{
					"error":   "rate_limited",
					"message": "Demasiadas solicitudes, intente más tarde",
				})
			}
			return next(c)
		}
	}
}
