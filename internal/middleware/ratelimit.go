package middleware

import (
	"net/http"
	"sync"

	"kiro-broker/internal/netutil"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// PerKeyLimiter rate-limits by an arbitrary key (e.g. credential id) instead
// of globally, evicting idle limiters lazily is not required here since the
// credential pool is small and long-lived.
type PerKeyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewPerKeyLimiter(rps float64, burst int) *PerKeyLimiter {
	return &PerKeyLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (p *PerKeyLimiter) Allow(key string) bool {
	p.mu.Lock()
	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.limiters[key] = l
	}
	p.mu.Unlock()
	return l.Allow()
}

// RateLimitPerClient throttles the admin API per client IP instead of
// globally, so one noisy operator script can't starve another admin's
// requests.
func RateLimitPerClient(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	limiter := NewPerKeyLimiter(rps, burst)
	return func(c *gin.Context) {
		ip := netutil.ExtractClientIP(c)
		key := "unknown"
		if ip != nil {
			key = ip.String()
		}
		if !limiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}
