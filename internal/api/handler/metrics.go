package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/llama-proxy-go/internal/metrics"
)

// MetricsHandler serves the Prometheus text-exposition endpoint.
type MetricsHandler struct {
	reg *metrics.Registry
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(reg *metrics.Registry) *MetricsHandler {
	return &MetricsHandler{reg: reg}
}

// Render writes the current counters in Prometheus text format 0.0.4.
func (h *MetricsHandler) Render(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	c.String(http.StatusOK, h.reg.RenderPrometheus())
}
