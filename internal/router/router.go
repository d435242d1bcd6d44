// Package router resolves which upstream base URL a request should be
// proxied to, based on the model id in the request body.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/user/llama-proxy-go/internal/apierror"
)

// Router maps model ids to upstream base URLs. When no model map is
// configured, every request goes to the single default upstream.
type Router struct {
	defaultUpstream string
	modelUpstreams  map[string]string
}

// New builds a Router. modelUpstreams may be nil or empty.
func New(defaultUpstream string, modelUpstreams map[string]string) *Router {
	return &Router{
		defaultUpstream: strings.TrimRight(defaultUpstream, "/"),
		modelUpstreams:  modelUpstreams,
	}
}

// HasModelMap reports whether any per-model upstream mapping is
// configured.
func (r *Router) HasModelMap() bool {
	return len(r.modelUpstreams) > 0
}

// ConfiguredModels returns the configured model ids in sorted order.
func (r *Router) ConfiguredModels() []string {
	models := make([]string, 0, len(r.modelUpstreams))
	for model := range r.modelUpstreams {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// ModelUpstream pairs a configured model id with the upstream base URL
// that serves it.
type ModelUpstream struct {
	Model   string
	BaseURL string
}

// ConfiguredUpstreams returns the configured (model, upstream) pairs
// sorted by model id, for the models endpoint's aggregation fan-out.
func (r *Router) ConfiguredUpstreams() []ModelUpstream {
	models := r.ConfiguredModels()
	pairs := make([]ModelUpstream, 0, len(models))
	for _, model := range models {
		pairs = append(pairs, ModelUpstream{Model: model, BaseURL: r.modelUpstreams[model]})
	}
	return pairs
}

// UpstreamForModel resolves the upstream base URL for model. When no
// model map is configured, the default upstream always applies. When a
// model map is configured, an unmapped model is rejected.
func (r *Router) UpstreamForModel(model string) (string, error) {
	if !r.HasModelMap() {
		return r.defaultUpstream, nil
	}
	if base, ok := r.modelUpstreams[model]; ok {
		return base, nil
	}
	return "", apierror.BadRequest(fmt.Sprintf(
		"Unknown model '%s'. Available models: %s", model, strings.Join(r.ConfiguredModels(), ", ")))
}

// DefaultUpstream returns the upstream used for every request when no
// model map is configured.
func (r *Router) DefaultUpstream() string {
	return r.defaultUpstream
}
