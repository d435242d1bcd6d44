package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/llama-proxy-go/internal/metrics"
	"github.com/user/llama-proxy-go/internal/ratelimit"
)

const ctxKeyRateRemaining = "llama_proxy.rate_remaining"

// RateLimit enforces limiter's per-client budget on every non-OPTIONS
// request. Exceeding the budget aborts with 429 and a Retry-After
// header; otherwise the X-RateLimit-* headers are set before the
// handler runs and the remaining count is stashed for Finalize.
func RateLimit(limiter *ratelimit.Limiter, reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		decision := limiter.Check(ClientID(c), time.Now())
		c.Set(ctxKeyRateRemaining, decision.Remaining)

		if !decision.Allowed {
			reg.RecordRateLimited()
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfterS))
			c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"type": "rate_limit_error", "message": "Rate limit exceeded"},
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Next()
	}
}

// RateRemaining returns the remaining budget RateLimit computed for
// this request, if it ran.
func RateRemaining(c *gin.Context) (int, bool) {
	v, ok := c.Get(ctxKeyRateRemaining)
	if !ok {
		return 0, false
	}
	remaining, ok := v.(int)
	return remaining, ok
}
