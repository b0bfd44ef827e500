package security

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LimiterStore keeps a token-bucket limiter per caller. Idle entries are
// dropped by a background cleanup loop so the map does not grow unbounded.
type LimiterStore struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
}

// NewLimiterStore creates a LimiterStore allowing perMinute requests per
// caller with the given burst, and starts its cleanup loop.
func NewLimiterStore(perMinute, burst int) *LimiterStore {
	s := &LimiterStore{
		entries: map[string]*limiterEntry{},
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
	}
	go s.cleanupLoop(5*time.Minute, 10*time.Minute)
	return s
}

// Allow reports whether the caller identified by key may proceed.
func (s *LimiterStore) Allow(key string) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = e
	}
	e.lastSeen = time.Now()
	s.mu.Unlock()
	return e.limiter.Allow()
}

func (s *LimiterStore) cleanupLoop(interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		for key, e := range s.entries {
			if time.Since(e.lastSeen) > maxIdle {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}

// RateLimitMiddleware rejects callers exceeding perMinute requests with 429.
// Callers are keyed by token subject, falling back to client IP before auth
// runs. A perMinute of zero disables the middleware.
func RateLimitMiddleware(perMinute, burst int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	store := NewLimiterStore(perMinute, burst)
	return func(c *gin.Context) {
		key := GetSubject(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !store.Allow(key) {
			if RateLimitedTotal != nil {
				RateLimitedTotal.Inc()
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
