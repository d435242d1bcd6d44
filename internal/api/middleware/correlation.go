// Package middleware implements the gin.HandlerFunc chain the proxy
// wraps every request in: correlation id, CORS, auth, rate limiting,
// and the request-completed finalizer.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ctxKeyRequestID = "llama_proxy.request_id"

// Correlation assigns every request a request id, reusing the
// caller's X-Request-Id header when present, and echoes it back on
// the response. A generated id is a 32-hex-character token (a UUIDv4
// with its dashes stripped), matching the original's uuid4().hex shape.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Request-Id"))
		if id == "" {
			id = strings.ReplaceAll(uuid.New().String(), "-", "")
		}
		c.Set(ctxKeyRequestID, id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

// RequestID returns the request id assigned by Correlation.
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
