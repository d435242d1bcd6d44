// Package metrics tracks proxy request and upstream counters and
// renders them in Prometheus text exposition format.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type requestKey struct {
	route  string
	method string
	status int
}

type routeMethodKey struct {
	route  string
	method string
}

// Registry accumulates request and upstream counters behind a single
// mutex and renders them on demand. There is no persistence across
// process restarts.
type Registry struct {
	mu sync.Mutex

	requestsTotal       map[requestKey]int64
	requestLatencySum   map[routeMethodKey]float64
	requestLatencyCount map[routeMethodKey]int64

	upstreamRetriesTotal map[string]int64
	upstreamLatencySum   map[string]float64
	upstreamLatencyCount map[string]int64
	upstreamErrorsTotal  map[string]int64

	rateLimitedTotal int64
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		requestsTotal:        make(map[requestKey]int64),
		requestLatencySum:    make(map[routeMethodKey]float64),
		requestLatencyCount:  make(map[routeMethodKey]int64),
		upstreamRetriesTotal: make(map[string]int64),
		upstreamLatencySum:   make(map[string]float64),
		upstreamLatencyCount: make(map[string]int64),
		upstreamErrorsTotal:  make(map[string]int64),
	}
}

// RecordRequest records one completed request and its latency.
func (r *Registry) RecordRequest(route, method string, status int, latencySeconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestsTotal[requestKey{route, method, status}]++
	rm := routeMethodKey{route, method}
	r.requestLatencySum[rm] += latencySeconds
	r.requestLatencyCount[rm]++
}

// RecordUpstreamRetry records one retried upstream call for route.
func (r *Registry) RecordUpstreamRetry(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstreamRetriesTotal[route]++
}

// RecordUpstreamLatency records one upstream call's latency for route.
func (r *Registry) RecordUpstreamLatency(route string, latencySeconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstreamLatencySum[route] += latencySeconds
	r.upstreamLatencyCount[route]++
}

// RecordUpstreamError records one failed upstream call for route.
func (r *Registry) RecordUpstreamError(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstreamErrorsTotal[route]++
}

// RecordRateLimited records one request rejected by the rate limiter.
func (r *Registry) RecordRateLimited() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimitedTotal++
}

// RenderPrometheus renders the registry in Prometheus text exposition
// format. Label tuples are sorted for deterministic output.
func (r *Registry) RenderPrometheus() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder

	b.WriteString("# HELP proxy_requests_total Total requests handled by the proxy\n")
	b.WriteString("# TYPE proxy_requests_total counter\n")
	for _, k := range sortedRequestKeys(r.requestsTotal) {
		fmt.Fprintf(&b, "proxy_requests_total{route=%q,method=%q,status=\"%d\"} %d\n",
			k.route, k.method, k.status, r.requestsTotal[k])
	}

	b.WriteString("# HELP proxy_request_latency_seconds_sum Sum of request latency in seconds\n")
	b.WriteString("# TYPE proxy_request_latency_seconds_sum counter\n")
	for _, k := range sortedRouteMethodKeysFloat(r.requestLatencySum) {
		fmt.Fprintf(&b, "proxy_request_latency_seconds_sum{route=%q,method=%q} %.6f\n",
			k.route, k.method, r.requestLatencySum[k])
	}

	b.WriteString("# HELP proxy_request_latency_seconds_count Count of request latency measurements\n")
	b.WriteString("# TYPE proxy_request_latency_seconds_count counter\n")
	for _, k := range sortedRouteMethodKeysInt(r.requestLatencyCount) {
		fmt.Fprintf(&b, "proxy_request_latency_seconds_count{route=%q,method=%q} %d\n",
			k.route, k.method, r.requestLatencyCount[k])
	}

	b.WriteString("# HELP proxy_upstream_retries_total Total upstream retries\n")
	b.WriteString("# TYPE proxy_upstream_retries_total counter\n")
	for _, route := range sortedStringKeysInt64(r.upstreamRetriesTotal) {
		fmt.Fprintf(&b, "proxy_upstream_retries_total{route=%q} %d\n", route, r.upstreamRetriesTotal[route])
	}

	b.WriteString("# HELP proxy_upstream_latency_seconds_sum Sum of upstream latency in seconds\n")
	b.WriteString("# TYPE proxy_upstream_latency_seconds_sum counter\n")
	for _, route := range sortedStringKeysFloat64(r.upstreamLatencySum) {
		fmt.Fprintf(&b, "proxy_upstream_latency_seconds_sum{route=%q} %.6f\n", route, r.upstreamLatencySum[route])
	}

	b.WriteString("# HELP proxy_upstream_latency_seconds_count Count of upstream latency measurements\n")
	b.WriteString("# TYPE proxy_upstream_latency_seconds_count counter\n")
	for _, route := range sortedStringKeysInt64(r.upstreamLatencyCount) {
		fmt.Fprintf(&b, "proxy_upstream_latency_seconds_count{route=%q} %d\n", route, r.upstreamLatencyCount[route])
	}

	b.WriteString("# HELP proxy_upstream_errors_total Total upstream errors\n")
	b.WriteString("# TYPE proxy_upstream_errors_total counter\n")
	for _, route := range sortedStringKeysInt64(r.upstreamErrorsTotal) {
		fmt.Fprintf(&b, "proxy_upstream_errors_total{route=%q} %d\n", route, r.upstreamErrorsTotal[route])
	}

	b.WriteString("# HELP proxy_rate_limited_total Total requests rejected by rate limit\n")
	b.WriteString("# TYPE proxy_rate_limited_total counter\n")
	fmt.Fprintf(&b, "proxy_rate_limited_total %d\n", r.rateLimitedTotal)

	return b.String()
}

func sortedRequestKeys(m map[requestKey]int64) []requestKey {
	keys := make([]requestKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, bb := keys[i], keys[j]
		if a.route != bb.route {
			return a.route < bb.route
		}
		if a.method != bb.method {
			return a.method < bb.method
		}
		return a.status < bb.status
	})
	return keys
}

func sortedRouteMethodKeysFloat(m map[routeMethodKey]float64) []routeMethodKey {
	keys := make([]routeMethodKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		return keys[i].method < keys[j].method
	})
	return keys
}

func sortedRouteMethodKeysInt(m map[routeMethodKey]int64) []routeMethodKey {
	keys := make([]routeMethodKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		return keys[i].method < keys[j].method
	})
	return keys
}

func sortedStringKeysInt64(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStringKeysFloat64(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
