// Package upstream implements the HTTP client used to forward
// requests to a llama.cpp-compatible upstream, with retry, exponential
// backoff, and both buffered and SSE-streamed response handling.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/user/llama-proxy-go/internal/apierror"
	"github.com/user/llama-proxy-go/internal/metrics"
)

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client forwards requests to upstream base URLs, handling retries
// with exponential backoff for both buffered and streamed calls.
type Client struct {
	buffered *http.Client
	stream   *http.Client

	metrics       *metrics.Registry
	maxRetries    int
	retryBackoffS float64
}

// New builds a Client. connectTimeoutS bounds TCP connect time for
// every call; the buffered client additionally enforces each call's
// read timeout as a context deadline, while the streaming client has
// no overall timeout and instead relies on the caller's context for
// cancellation (client disconnect, shutdown).
func New(connectTimeoutS float64, maxRetries int, retryBackoffS float64, reg *metrics.Registry) *Client {
	dialer := &net.Dialer{Timeout: secondsToDuration(connectTimeoutS)}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	streamTransport := transport.Clone()

	return &Client{
		buffered:      &http.Client{Transport: transport},
		stream:        &http.Client{Timeout: 0, Transport: streamTransport},
		metrics:       reg,
		maxRetries:    maxRetries,
		retryBackoffS: retryBackoffS,
	}
}

// Response is a fully-buffered upstream response body.
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

// PostJSON sends a buffered JSON POST to baseURL+path with retry and
// exponential backoff, enforcing readTimeout as a per-attempt context
// deadline on top of the caller's context.
func (c *Client) PostJSON(ctx context.Context, baseURL, path string, payload []byte, headers http.Header, readTimeout time.Duration) (*Response, error) {
	return c.doBuffered(ctx, http.MethodPost, baseURL, path, bytes.NewReader(payload), headers, readTimeout)
}

// GetJSON sends a buffered GET to baseURL+path with retry and
// exponential backoff.
func (c *Client) GetJSON(ctx context.Context, baseURL, path string, headers http.Header, readTimeout time.Duration) (*Response, error) {
	return c.doBuffered(ctx, http.MethodGet, baseURL, path, nil, headers, readTimeout)
}

func (c *Client) doBuffered(ctx context.Context, method, baseURL, path string, body io.Reader, headers http.Header, readTimeout time.Duration) (*Response, error) {
	target := baseURL + path
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, apierror.Internal("failed to buffer request body")
		}
	}

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, readTimeout)
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, target, reqBody)
		if err != nil {
			cancel()
			return nil, apierror.Internal(fmt.Sprintf("failed to build upstream request: %v", err))
		}
		copyHeaders(headers, req.Header)

		start := time.Now()
		resp, err := c.buffered.Do(req)
		if err != nil {
			cancel()
			c.metrics.RecordUpstreamError(path)
			if retryable := isRetryableError(err); retryable && attempt < c.maxRetries {
				c.metrics.RecordUpstreamRetry(path)
				if sleepErr := c.sleepBackoff(ctx, attempt); sleepErr != nil {
					return nil, apierror.GatewayTimeout(fmt.Sprintf("upstream timeout on %s", path))
				}
				continue
			}
			if isTimeoutError(err) {
				return nil, apierror.GatewayTimeout(fmt.Sprintf("upstream timeout on %s", path))
			}
			return nil, apierror.BadGateway(fmt.Sprintf("upstream request failed on %s", path))
		}

		c.metrics.RecordUpstreamLatency(path, time.Since(start).Seconds())

		if retryableStatus[resp.StatusCode] && attempt < c.maxRetries {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			cancel()
			c.metrics.RecordUpstreamRetry(path)
			if sleepErr := c.sleepBackoff(ctx, attempt); sleepErr != nil {
				return nil, apierror.GatewayTimeout(fmt.Sprintf("upstream timeout on %s", path))
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		if err != nil {
			return nil, apierror.BadGateway(fmt.Sprintf("failed to read upstream response on %s", path))
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		return &Response{StatusCode: resp.StatusCode, Body: respBody, ContentType: contentType}, nil
	}

	return nil, apierror.BadGateway(fmt.Sprintf("failed to reach upstream on %s", path))
}

// PostStream opens a streaming POST, retrying the connect phase (not
// yet-forwarded bytes) on a retryable failure. idleTimeout bounds each
// individual Read on the returned body (time between chunks), not the
// stream's total wall time — a slow-but-steadily-streaming response
// never gets killed mid-stream. The caller owns the returned response
// body and must close it.
func (c *Client) PostStream(ctx context.Context, baseURL, path string, payload []byte, headers http.Header, idleTimeout time.Duration) (*http.Response, error) {
	target := baseURL + path

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, apierror.Internal(fmt.Sprintf("failed to build upstream request: %v", err))
		}
		copyHeaders(headers, req.Header)
		req.Header.Set("Accept", "text/event-stream")

		start := time.Now()
		resp, err := c.stream.Do(req)
		if err != nil {
			c.metrics.RecordUpstreamError(path)
			if retryable := isRetryableError(err); retryable && attempt < c.maxRetries {
				c.metrics.RecordUpstreamRetry(path)
				if sleepErr := c.sleepBackoff(ctx, attempt); sleepErr != nil {
					return nil, apierror.GatewayTimeout(fmt.Sprintf("upstream timeout on %s", path))
				}
				continue
			}
			if isTimeoutError(err) {
				return nil, apierror.GatewayTimeout(fmt.Sprintf("upstream timeout on %s", path))
			}
			return nil, apierror.BadGateway(fmt.Sprintf("upstream request failed on %s", path))
		}

		c.metrics.RecordUpstreamLatency(path, time.Since(start).Seconds())

		if retryableStatus[resp.StatusCode] && attempt < c.maxRetries {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			c.metrics.RecordUpstreamRetry(path)
			if sleepErr := c.sleepBackoff(ctx, attempt); sleepErr != nil {
				return nil, apierror.GatewayTimeout(fmt.Sprintf("upstream timeout on %s", path))
			}
			continue
		}

		resp.Body = &idleTimeoutReader{ctx: ctx, body: resp.Body, timeout: idleTimeout}
		return resp, nil
	}

	return nil, apierror.BadGateway(fmt.Sprintf("failed to reach upstream on %s", path))
}

// idleTimeoutReader enforces a per-Read deadline on a streamed response
// body, so a caller can bound idle gaps between chunks without bounding
// the stream's total wall time.
type idleTimeoutReader struct {
	ctx     context.Context
	body    io.ReadCloser
	timeout time.Duration
}

type readResult struct {
	n   int
	err error
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	if r.timeout <= 0 {
		return r.body.Read(p)
	}

	result := make(chan readResult, 1)
	go func() {
		n, err := r.body.Read(p)
		result <- readResult{n, err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-result:
		return res.n, res.err
	case <-timer.C:
		return 0, fmt.Errorf("upstream stream idle timeout after %s on read", r.timeout)
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	}
}

func (r *idleTimeoutReader) Close() error {
	return r.body.Close()
}

// sleepBackoff waits retryBackoffS*2^attempt seconds, returning early
// with an error if ctx is cancelled first.
func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	wait := secondsToDuration(c.retryBackoffS * math.Pow(2, float64(attempt)))
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func copyHeaders(src, dst http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// isRetryableError reports whether a transport-level error (timeout or
// connection failure) should trigger a retry. A cancelled context means
// the caller gave up, which is never retryable.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
