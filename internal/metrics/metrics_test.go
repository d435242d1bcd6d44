//go:build !integration && !e2e

package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderPrometheus_EmptyRegistry(t *testing.T) {
	r := New()
	out := r.RenderPrometheus()

	assert.Contains(t, out, "# HELP proxy_requests_total")
	assert.Contains(t, out, "proxy_rate_limited_total 0")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestRenderPrometheus_RecordsRequestsAndLatency(t *testing.T) {
	r := New()
	r.RecordRequest("/v1/chat/completions", "POST", 200, 0.125)
	r.RecordRequest("/v1/chat/completions", "POST", 200, 0.375)
	r.RecordRequest("/v1/chat/completions", "POST", 429, 0.001)

	out := r.RenderPrometheus()
	assert.Contains(t, out, `proxy_requests_total{route="/v1/chat/completions",method="POST",status="200"} 2`)
	assert.Contains(t, out, `proxy_requests_total{route="/v1/chat/completions",method="POST",status="429"} 1`)
	assert.Contains(t, out, `proxy_request_latency_seconds_sum{route="/v1/chat/completions",method="POST"} 0.501000`)
	assert.Contains(t, out, `proxy_request_latency_seconds_count{route="/v1/chat/completions",method="POST"} 3`)
}

func TestRenderPrometheus_UpstreamAndRateLimitCounters(t *testing.T) {
	r := New()
	r.RecordUpstreamRetry("/v1/models")
	r.RecordUpstreamLatency("/v1/models", 0.2)
	r.RecordUpstreamError("/v1/models")
	r.RecordRateLimited()
	r.RecordRateLimited()

	out := r.RenderPrometheus()
	assert.Contains(t, out, `proxy_upstream_retries_total{route="/v1/models"} 1`)
	assert.Contains(t, out, `proxy_upstream_latency_seconds_sum{route="/v1/models"} 0.200000`)
	assert.Contains(t, out, `proxy_upstream_errors_total{route="/v1/models"} 1`)
	assert.Contains(t, out, "proxy_rate_limited_total 2")
}

func TestRenderPrometheus_SortsLabelTuples(t *testing.T) {
	r := New()
	r.RecordRequest("/v1/models", "GET", 200, 0.01)
	r.RecordRequest("/v1/chat/completions", "POST", 200, 0.01)

	out := r.RenderPrometheus()
	chatIdx := strings.Index(out, "/v1/chat/completions")
	modelsIdx := strings.Index(out, "/v1/models")
	assert.Less(t, chatIdx, modelsIdx)
}
