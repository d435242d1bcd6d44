package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/llama-proxy-go/internal/api/middleware"
	"github.com/user/llama-proxy-go/internal/apierror"
	"github.com/user/llama-proxy-go/internal/httpbody"
	"github.com/user/llama-proxy-go/internal/metrics"
	"github.com/user/llama-proxy-go/internal/router"
	"github.com/user/llama-proxy-go/internal/upstream"
)

// Timeouts bounds how long each route waits for an upstream response.
type Timeouts struct {
	Chat        time.Duration
	Completions time.Duration
	Embeddings  time.Duration
	Models      time.Duration
}

// ProxyHandler forwards validated OpenAI-compatible requests to the
// model's configured upstream.
type ProxyHandler struct {
	router   *router.Router
	upstream *upstream.Client
	metrics  *metrics.Registry
	logger   *zap.Logger
	timeouts Timeouts
}

// NewProxyHandler creates a new ProxyHandler.
func NewProxyHandler(r *router.Router, up *upstream.Client, reg *metrics.Registry, logger *zap.Logger, timeouts Timeouts) *ProxyHandler {
	return &ProxyHandler{router: r, upstream: up, metrics: reg, logger: logger, timeouts: timeouts}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *ProxyHandler) ChatCompletions(c *gin.Context) {
	h.dispatch(c, "/v1/chat/completions", httpbody.ParseChatCompletion, h.timeouts.Chat)
}

// Completions handles POST /v1/completions.
func (h *ProxyHandler) Completions(c *gin.Context) {
	h.dispatch(c, "/v1/completions", httpbody.ParseCompletion, h.timeouts.Completions)
}

// Embeddings handles POST /v1/embeddings. Always buffered: llama.cpp
// never streams embedding responses.
func (h *ProxyHandler) Embeddings(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		writeError(c, apierror.Validation("failed to read request body"))
		return
	}
	req, err := httpbody.ParseEmbeddings(body)
	if err != nil {
		writeError(c, err)
		return
	}

	base, err := h.router.UpstreamForModel(req.Model)
	if err != nil {
		writeError(c, err)
		return
	}
	h.forwardBuffered(c, "/v1/embeddings", base, req, h.timeouts.Embeddings)
}

func (h *ProxyHandler) dispatch(c *gin.Context, path string, parse func([]byte) (*httpbody.Request, error), timeout time.Duration) {
	body, err := readBody(c)
	if err != nil {
		writeError(c, apierror.Validation("failed to read request body"))
		return
	}
	req, err := parse(body)
	if err != nil {
		writeError(c, err)
		return
	}

	base, err := h.router.UpstreamForModel(req.Model)
	if err != nil {
		writeError(c, err)
		return
	}

	if req.Stream {
		h.forwardStream(c, path, base, req, timeout)
		return
	}
	h.forwardBuffered(c, path, base, req, timeout)
}

func (h *ProxyHandler) forwardBuffered(c *gin.Context, path, base string, req *httpbody.Request, timeout time.Duration) {
	payload, err := req.WithModel(req.Model)
	if err != nil {
		writeError(c, err)
		return
	}

	resp, err := h.upstream.PostJSON(c.Request.Context(), base, path, payload, forwardHeaders(c), timeout)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(resp.StatusCode, resp.ContentType, resp.Body)
}

func (h *ProxyHandler) forwardStream(c *gin.Context, path, base string, req *httpbody.Request, timeout time.Duration) {
	payload, err := req.WithModel(req.Model)
	if err != nil {
		writeError(c, err)
		return
	}

	resp, err := h.upstream.PostStream(c.Request.Context(), base, path, payload, forwardHeaders(c), timeout)
	if err != nil {
		writeError(c, err)
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/event-stream"
	}
	c.Status(resp.StatusCode)
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	buf := make([]byte, 4096)
	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := c.Writer.Write(buf[:n]); writeErr != nil {
				h.logger.Debug("client write failed during stream", zap.Error(writeErr))
				return
			}
			c.Writer.Flush()
		}
		if readErr != nil {
			return
		}
	}
}

// Models handles GET /v1/models. With no model map configured, it
// passes through to the single default upstream untouched. With a
// model map configured, it fans out a GET to every configured
// (model, upstream) pair concurrently: each upstream's reported models
// are renamed to the configured model id it serves (its own id kept as
// upstream_model_id), and any upstream that reports nothing usable gets
// a synthesized entry instead.
func (h *ProxyHandler) Models(c *gin.Context) {
	if !h.router.HasModelMap() {
		resp, err := h.upstream.GetJSON(c.Request.Context(), h.router.DefaultUpstream(), "/v1/models", forwardHeaders(c), h.timeouts.Models)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(resp.StatusCode, resp.ContentType, resp.Body)
		return
	}

	upstreams := h.router.ConfiguredUpstreams()
	results := make([][]byte, len(upstreams))

	group, groupCtx := errgroup.WithContext(c.Request.Context())
	for i, mu := range upstreams {
		i, mu := i, mu
		group.Go(func() error {
			resp, err := h.upstream.GetJSON(groupCtx, mu.BaseURL, "/v1/models", forwardHeaders(c), h.timeouts.Models)
			if err != nil {
				h.logger.Warn("models aggregation: upstream unreachable", zap.String("upstream", mu.BaseURL), zap.Error(err))
				return nil
			}
			if resp.StatusCode == http.StatusOK {
				results[i] = resp.Body
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		writeError(c, err)
		return
	}

	merged := h.mergeModels(upstreams, results)
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": merged, "models": merged})
}

type modelEntry struct {
	ID              string            `json:"id"`
	Object          string            `json:"object"`
	OwnedBy         string            `json:"owned_by"`
	UpstreamModelID string            `json:"upstream_model_id,omitempty"`
	Meta            map[string]string `json:"meta,omitempty"`
}

// mergeModels renames each upstream's reported entries to the
// configured model id it serves and synthesizes a placeholder entry for
// any upstream that returned no usable data, deduplicating by id and
// preserving first occurrence in configured (sorted-by-model) order.
func (h *ProxyHandler) mergeModels(upstreams []router.ModelUpstream, results [][]byte) []modelEntry {
	seen := make(map[string]struct{})
	var merged []modelEntry

	for i, mu := range upstreams {
		var parsed struct {
			Data []modelEntry `json:"data"`
		}
		if body := results[i]; len(body) > 0 {
			_ = json.Unmarshal(body, &parsed)
		}

		if len(parsed.Data) == 0 {
			if _, ok := seen[mu.Model]; ok {
				continue
			}
			seen[mu.Model] = struct{}{}
			merged = append(merged, modelEntry{
				ID:      mu.Model,
				Object:  "model",
				OwnedBy: "llamacpp",
				Meta:    map[string]string{"upstream": mu.BaseURL},
			})
			continue
		}

		for _, entry := range parsed.Data {
			if _, ok := seen[mu.Model]; ok {
				continue
			}
			seen[mu.Model] = struct{}{}
			merged = append(merged, modelEntry{
				ID:              mu.Model,
				Object:          entry.Object,
				OwnedBy:         entry.OwnedBy,
				UpstreamModelID: entry.ID,
			})
		}
	}

	return merged
}

func readBody(c *gin.Context) ([]byte, error) {
	return c.GetRawData()
}

// forwardHeaders builds the header set sent to the upstream: the
// caller's Content-Type (for POSTs), an Accept that covers both
// buffered and streamed replies, and the request's correlation id so
// upstream logs can be tied back to this request. The caller's
// Authorization header is never forwarded.
func forwardHeaders(c *gin.Context) http.Header {
	headers := make(http.Header)
	if ct := c.GetHeader("Content-Type"); ct != "" {
		headers.Set("Content-Type", ct)
	}
	headers.Set("Accept", "application/json, text/event-stream")
	if requestID := middleware.RequestID(c); requestID != "" {
		headers.Set("X-Request-Id", requestID)
	}
	return headers
}

func writeError(c *gin.Context, err error) {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": gin.H{"message": apiErr.Detail}})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "Internal server error"}})
}
