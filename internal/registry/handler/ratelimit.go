package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterTable holds one token bucket per client. Wallet apps poll the
// status endpoints every few seconds, often from behind a shared NAT, so a
// client is identified by its session token when it has one and by IP only
// before login.
type limiterTable struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rps     rate.Limit
	burst   int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (t *limiterTable) get(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

func (t *limiterTable) sweep(idle time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, b := range t.buckets {
		if time.Since(b.lastSeen) > idle {
			delete(t.buckets, key)
		}
	}
}

func clientKey(c *gin.Context) string {
	if tok := c.GetHeader("X-Session-Token"); tok != "" {
		return "session:" + tok
	}
	return "ip:" + c.ClientIP()
}

// RateLimiter returns a gin middleware enforcing per-client token-bucket
// rate limiting. rps is the steady-state requests per second; burst is the
// maximum burst size. Idle buckets are dropped every 5 minutes.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	table := &limiterTable{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			table.sweep(10 * time.Minute)
		}
	}()

	return func(c *gin.Context) {
		if !table.get(clientKey(c)).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "RATE_LIMITED",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
