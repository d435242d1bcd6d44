package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/user/llama-proxy-go/internal/apierror"
	"github.com/user/llama-proxy-go/internal/auth"
)

const ctxKeyClientID = "llama_proxy.client_id"

// RequireAuth validates the Authorization header of every non-OPTIONS
// request using a. When a is disabled (no keys configured), the
// client id used for downstream rate limiting falls back to the
// caller's IP, matching an unauthenticated deployment's behavior.
func RequireAuth(a *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		identity, err := a.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			var apiErr *apierror.Error
			if errors.As(err, &apiErr) {
				c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": gin.H{"message": apiErr.Detail}})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "internal error"}})
			return
		}

		clientID := identity.ClientID
		if !a.Enabled() {
			clientID = clientIP(c)
		}
		c.Set(ctxKeyClientID, clientID)
		c.Next()
	}
}

// ClientID returns the client id resolved by RequireAuth, falling back
// to the caller's IP for routes RequireAuth never ran on.
func ClientID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyClientID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return clientIP(c)
}

// clientIP extracts the caller's IP, preferring reverse-proxy headers
// over the raw socket address.
func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
			return ip
		}
	}
	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return xri
	}
	return c.ClientIP()
}
