// ratelimit.go provides the two admission middlewares: a coarse per-client-IP
// limit applied to the whole API surface, and a fine per-identity limit scoped
// to a named endpoint. Both set the standard X-RateLimit headers and return
// 429 with Retry-After on denial; both admit the request when the counter
// store is unavailable.
package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/autothreat/autothreat-backend/internal/config"
	"github.com/autothreat/autothreat-backend/internal/ratelimit"
)

// IPRateLimit limits requests per client IP before authentication runs,
// shielding the credential chain from anonymous floods.
func IPRateLimit(limiter *ratelimit.Limiter, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = c.Request.RemoteAddr
		}

		decision := limiter.Admit(c.Request.Context(), "ip:"+ip, limit)
		setRateLimitHeaders(c, decision)

		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfterSeconds(decision),
			})
			return
		}

		c.Next()
	}
}

// UserRateLimit limits requests per authenticated identity for one named
// endpoint. Must run after AuthMiddleware; an unauthenticated request is
// keyed by IP so the route stays protected even if ordering is wrong.
func UserRateLimit(limiter *ratelimit.Limiter, cfg *config.RateLimitConfig, endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.GetString(UserIDKey)
		if subject == "" {
			subject = "ip:" + c.ClientIP()
		}

		limit := cfg.LimitFor(endpoint)
		decision := limiter.Admit(c.Request.Context(), endpoint+":"+subject, limit)
		setRateLimitHeaders(c, decision)

		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"endpoint":    endpoint,
				"retry_after": retryAfterSeconds(decision),
			})
			return
		}

		// Stored for handlers that echo the remaining budget in their body
		c.Set(RateLimitRemainingKey, decision.Remaining)

		c.Next()
	}
}

// RateLimitRemainingKey is the gin.Context key holding the remaining request
// budget after UserRateLimit admitted the request
const RateLimitRemainingKey = "rate_limit_remaining"

func setRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Allowed {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(d)))
	}
}

// retryAfterSeconds rounds the reset interval up to whole seconds, minimum 1
func retryAfterSeconds(d ratelimit.Decision) int {
	if d.RetryAfter <= 0 {
		return 1
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}
