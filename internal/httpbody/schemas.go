// Package httpbody validates and lightly rewrites OpenAI-compatible
// request bodies while preserving every field the caller sent,
// including ones this proxy does not itself model — mirroring the
// "extra fields forwarded untouched" behavior of the upstream schema.
package httpbody

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/user/llama-proxy-go/internal/apierror"
)

// validRoles are the message roles a /v1/chat/completions body may use.
var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

// StringOrArray represents a field that upstream accepts as either a
// plain string or an array of strings (e.g. "prompt", "input").
type StringOrArray struct {
	Text    string
	Items   []string
	IsArray bool
}

// UnmarshalJSON accepts both string and []string encodings.
func (s *StringOrArray) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Text = str
		s.IsArray = false
		return nil
	}

	var items []string
	if err := json.Unmarshal(data, &items); err == nil {
		s.Items = items
		s.IsArray = true
		return nil
	}

	return fmt.Errorf("must be a string or array of strings")
}

// MarshalJSON preserves the original string-vs-array shape.
func (s StringOrArray) MarshalJSON() ([]byte, error) {
	if s.IsArray {
		return json.Marshal(s.Items)
	}
	return json.Marshal(s.Text)
}

// Request wraps a validated request body. Raw holds the caller's
// original JSON bytes verbatim (including any fields this proxy does
// not model), so that forwarding never drops data the caller sent.
type Request struct {
	Raw    []byte
	Model  string
	Stream bool
}

// ParseChatCompletion validates a /v1/chat/completions body: "model"
// must be a non-empty string, "messages" must be a non-empty array of
// objects each carrying a "role" and "content" field.
func ParseChatCompletion(raw []byte) (*Request, error) {
	if !gjson.ValidBytes(raw) {
		return nil, apierror.Validation("request body must be valid JSON")
	}

	root := gjson.ParseBytes(raw)
	model := root.Get("model")
	if !model.Exists() || model.Type != gjson.String || model.Str == "" {
		return nil, apierror.Validation("field \"model\" is required and must be a non-empty string")
	}

	messages := root.Get("messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return nil, apierror.Validation("field \"messages\" is required and must be a non-empty array")
	}
	for i, msg := range messages.Array() {
		if !msg.IsObject() {
			return nil, apierror.Validation(fmt.Sprintf("messages[%d] must be an object", i))
		}
		role := msg.Get("role")
		if !role.Exists() || role.Type != gjson.String || role.Str == "" {
			return nil, apierror.Validation(fmt.Sprintf("messages[%d].role is required", i))
		}
		if !validRoles[role.Str] {
			return nil, apierror.Validation(fmt.Sprintf("messages[%d].role must be one of system, user, assistant, tool", i))
		}
		content := msg.Get("content")
		if !content.Exists() || content.Type != gjson.String {
			return nil, apierror.Validation(fmt.Sprintf("messages[%d].content is required and must be a string", i))
		}
	}

	return &Request{Raw: raw, Model: model.Str, Stream: root.Get("stream").Bool()}, nil
}

// ParseCompletion validates a /v1/completions body: "model" must be a
// non-empty string, "prompt" must be a string or array of strings.
func ParseCompletion(raw []byte) (*Request, error) {
	if !gjson.ValidBytes(raw) {
		return nil, apierror.Validation("request body must be valid JSON")
	}

	root := gjson.ParseBytes(raw)
	model := root.Get("model")
	if !model.Exists() || model.Type != gjson.String || model.Str == "" {
		return nil, apierror.Validation("field \"model\" is required and must be a non-empty string")
	}

	prompt := root.Get("prompt")
	if !prompt.Exists() {
		return nil, apierror.Validation("field \"prompt\" is required")
	}
	if prompt.Type != gjson.String && !prompt.IsArray() {
		return nil, apierror.Validation("field \"prompt\" must be a string or array of strings")
	}
	for _, item := range prompt.Array() {
		if prompt.IsArray() && item.Type != gjson.String {
			return nil, apierror.Validation("field \"prompt\" must be a string or array of strings")
		}
	}

	return &Request{Raw: raw, Model: model.Str, Stream: root.Get("stream").Bool()}, nil
}

// ParseEmbeddings validates a /v1/embeddings body: "model" must be a
// non-empty string, "input" must be a string or array of strings.
func ParseEmbeddings(raw []byte) (*Request, error) {
	if !gjson.ValidBytes(raw) {
		return nil, apierror.Validation("request body must be valid JSON")
	}

	root := gjson.ParseBytes(raw)
	model := root.Get("model")
	if !model.Exists() || model.Type != gjson.String || model.Str == "" {
		return nil, apierror.Validation("field \"model\" is required and must be a non-empty string")
	}

	input := root.Get("input")
	if !input.Exists() {
		return nil, apierror.Validation("field \"input\" is required")
	}
	if input.Type != gjson.String && !input.IsArray() {
		return nil, apierror.Validation("field \"input\" must be a string or array of strings")
	}
	for _, item := range input.Array() {
		if input.IsArray() && item.Type != gjson.String {
			return nil, apierror.Validation("field \"input\" must be a string or array of strings")
		}
	}

	return &Request{Raw: raw, Model: model.Str}, nil
}

// WithModel returns a copy of the request body with "model" rewritten
// to upstreamModel, leaving every other field — including ones this
// proxy does not model — byte-for-byte as the caller sent them.
func (r *Request) WithModel(upstreamModel string) ([]byte, error) {
	if upstreamModel == r.Model {
		return r.Raw, nil
	}
	out, err := sjson.SetBytes(r.Raw, "model", upstreamModel)
	if err != nil {
		return nil, apierror.Internal("failed to rewrite model field")
	}
	return out, nil
}
