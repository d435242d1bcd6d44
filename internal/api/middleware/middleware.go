package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/llama-proxy-go/internal/metrics"
)

// Finalize wraps every request: once the handler chain completes it
// stamps the rate-limit headers for authenticated routes, records the
// request in reg, and emits a structured request_completed log line.
// Because gin runs middleware "before" code in registration order and
// "after" code (everything following c.Next()) in reverse, registering
// Finalize first makes it the outermost wrapper — equivalent to a
// try/finally around the whole request. Headers set here reach the
// client only when the chain has not already written the response;
// RateLimit therefore sets the X-RateLimit-* headers itself before the
// handler runs.
func Finalize(reg *metrics.Registry, logger *zap.Logger, rateLimitRPM int) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		method := c.Request.Method
		requestID := RequestID(c)
		clientID := ClientID(c)

		authenticated := strings.HasPrefix(c.Request.URL.Path, "/v1/") && method != http.MethodOptions
		if authenticated {
			remaining, ok := RateRemaining(c)
			if !ok {
				remaining = rateLimitRPM
			}
			if remaining < 0 {
				remaining = 0
			}
			c.Header("X-RateLimit-Limit", strconv.Itoa(rateLimitRPM))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}

		reg.RecordRequest(route, method, status, latency.Seconds())

		event := "request_completed"
		logFn := logger.Info
		if status >= http.StatusInternalServerError {
			event = "request_failed"
			logFn = logger.Warn
		}

		logFn(event,
			zap.String("request_id", requestID),
			zap.String("client_id", clientID),
			zap.String("method", method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Float64("latency_ms", math.Round(latency.Seconds()*1000*100)/100),
		)
	}
}
