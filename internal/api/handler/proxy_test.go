//go:build !integration && !e2e

package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/user/llama-proxy-go/internal/metrics"
	"github.com/user/llama-proxy-go/internal/router"
	"github.com/user/llama-proxy-go/internal/upstream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler(t *testing.T, upstreamURL string, modelUpstreams map[string]string) *ProxyHandler {
	t.Helper()
	reg := metrics.New()
	r := router.New(upstreamURL, modelUpstreams)
	client := upstream.New(5.0, 0, 0.01, reg)
	timeouts := Timeouts{Chat: 5 * time.Second, Completions: 5 * time.Second, Embeddings: 5 * time.Second, Models: 5 * time.Second}
	return NewProxyHandler(r, client, reg, zap.NewNop(), timeouts)
}

func TestChatCompletions_ForwardsToUpstream(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"chatcmpl-1"}`))
	}))
	defer upstreamSrv.Close()

	h := newTestHandler(t, upstreamSrv.URL, nil)
	r := gin.New()
	r.POST("/v1/chat/completions", h.ChatCompletions)

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatcmpl-1")
}

func TestChatCompletions_InvalidBodyReturns422(t *testing.T) {
	h := newTestHandler(t, "http://127.0.0.1:1", nil)
	r := gin.New()
	r.POST("/v1/chat/completions", h.ChatCompletions)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestChatCompletions_UnknownModelReturns400(t *testing.T) {
	h := newTestHandler(t, "http://127.0.0.1:1", map[string]string{"known-model": "http://127.0.0.1:1"})
	r := gin.New()
	r.POST("/v1/chat/completions", h.ChatCompletions)

	body := `{"model":"unknown-model","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbeddings_ForwardsToUpstream(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":[]}`))
	}))
	defer upstreamSrv.Close()

	h := newTestHandler(t, upstreamSrv.URL, nil)
	r := gin.New()
	r.POST("/v1/embeddings", h.Embeddings)

	body := `{"model":"embed-1","input":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestModels_NoMapPassesThrough(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"object":"list","data":[{"id":"local-model"}]}`))
	}))
	defer upstreamSrv.Close()

	h := newTestHandler(t, upstreamSrv.URL, nil)
	r := gin.New()
	r.GET("/v1/models", h.Models)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "local-model")
}

func TestModels_AggregatesAcrossUpstreamsAndSynthesizesMissing(t *testing.T) {
	up1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"ggml-llama-7b-q4"}]}`))
	}))
	defer up1.Close()
	up2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[]}`))
	}))
	defer up2.Close()

	h := newTestHandler(t, "http://unused", map[string]string{"model-a": up1.URL, "model-b": up2.URL})
	r := gin.New()
	r.GET("/v1/models", h.Models)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	// upstream's own id is renamed to the configured model id, and
	// preserved as upstream_model_id.
	assert.Contains(t, body, `"id":"model-a"`)
	assert.Contains(t, body, `"upstream_model_id":"ggml-llama-7b-q4"`)
	assert.NotContains(t, body, `"id":"ggml-llama-7b-q4"`)
	// an upstream reporting no models gets a synthesized placeholder.
	assert.Contains(t, body, `"id":"model-b"`)
	assert.Contains(t, body, `"owned_by":"llamacpp"`)
	assert.Contains(t, body, `"meta":{"upstream":`)
	// both "data" and "models" keys carry the merged list.
	assert.Contains(t, body, `"data":[`)
	assert.Contains(t, body, `"models":[`)
}
