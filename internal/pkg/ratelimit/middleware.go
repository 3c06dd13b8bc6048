package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc extracts the limiter key from a request.
type KeyFunc func(c *gin.Context) string

// Middleware limits requests per key, falling back to the client IP when
// keyFunc is nil or returns an empty key.
func Middleware(limiter *RateLimiter, keyFunc KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ""
		if keyFunc != nil {
			key = keyFunc(c)
		}
		if key == "" {
			key = c.ClientIP()
		}

		limit := strconv.Itoa(limiter.Limit())
		if !limiter.Allow(key) {
			resetTime := limiter.GetResetTime(key)
			retryAfter := int(resetTime.Sub(limiter.clock.Now()).Seconds()) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}

			c.Header("X-RateLimit-Limit", limit)
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", resetTime.Format(time.RFC3339))
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too many submissions. Try again later.",
				"code":       "RATE_LIMITED",
				"reset_time": resetTime.Format(time.RFC3339),
			})
			return
		}

		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.GetRemaining(key)))
		c.Header("X-RateLimit-Reset", limiter.GetResetTime(key).Format(time.RFC3339))

		c.Next()
	}
}
