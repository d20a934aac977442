package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Nijaek/analytics-dashboard/pkg/logging"
)

// Per-minute limits for the route groups that carry one.
const (
	DefaultPerMinute  = 60
	LoginPerMinute    = 10
	RegisterPerMinute = 5
	RefreshPerMinute  = 30
	LogoutPerMinute   = 30
)

// RateLimiter is a token bucket limiter keyed by route+client. Buckets
// refill continuously at limit/60 tokens per second and cap at limit,
// so a full minute of silence buys a full burst.
type RateLimiter struct {
	logger  logging.Logger
	buckets sync.Map // map[string]*tokenBucket
	stopCh  chan struct{}
	now     func() time.Time
}

type tokenBucket struct {
	mu          sync.Mutex
	tokens      float64
	lastUpdate  time.Time
	lastRequest time.Time
}

func NewRateLimiter(logger logging.Logger) *RateLimiter {
	rl := &RateLimiter{
		logger: logger,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the background bucket cleanup.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops buckets idle for 5 minutes. Idle buckets are full
// anyway, so dropping them never grants extra requests.
func (rl *RateLimiter) cleanup() {
	threshold := rl.now().Add(-5 * time.Minute)
	rl.buckets.Range(func(key, value interface{}) bool {
		bucket := value.(*tokenBucket)
		bucket.mu.Lock()
		stale := bucket.lastRequest.Before(threshold)
		bucket.mu.Unlock()
		if stale {
			rl.buckets.Delete(key)
		}
		return true
	})
}

// Allow consumes one token from the bucket for key. It reports whether
// the request may proceed, how many tokens remain, and how many seconds
// until the bucket is full again (or until one token exists, when denied).
func (rl *RateLimiter) Allow(key string, limit int) (allowed bool, remaining int, resetSeconds int) {
	if limit <= 0 {
		return true, 0, 0
	}

	now := rl.now()
	bucketI, _ := rl.buckets.LoadOrStore(key, &tokenBucket{
		tokens:     float64(limit),
		lastUpdate: now,
	})
	bucket := bucketI.(*tokenBucket)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.lastRequest = now

	elapsed := now.Sub(bucket.lastUpdate).Seconds()
	bucket.tokens += elapsed * float64(limit) / 60.0
	bucket.lastUpdate = now
	if bucket.tokens > float64(limit) {
		bucket.tokens = float64(limit)
	}

	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		tokensNeeded := float64(limit) - bucket.tokens
		return true, int(bucket.tokens), int(tokensNeeded * 60.0 / float64(limit))
	}

	tokensNeeded := 1.0 - bucket.tokens
	return false, 0, int(tokensNeeded*60.0/float64(limit)) + 1
}

// RateLimit enforces a per-minute limit for one route, keyed by client
// IP so tenants cannot starve each other.
func RateLimit(rl *RateLimiter, route string, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := route + ":" + c.ClientIP()
		allowed, remaining, resetSeconds := rl.Allow(key, limit)

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(resetSeconds))

		if !allowed {
			if rl.logger != nil {
				rl.logger.WithFields(logging.Fields{
					"route":         route,
					"client_ip":     c.ClientIP(),
					"limit":         limit,
					"reset_seconds": resetSeconds,
				}).Warn("Rate limit exceeded")
			}
			c.Header("Retry-After", strconv.Itoa(resetSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded, retry later",
				"retry_after": resetSeconds,
			})
			return
		}

		c.Next()
	}
}
