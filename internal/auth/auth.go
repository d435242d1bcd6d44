// Package auth implements bearer-token API key authentication for the
// proxy's /v1/* routes.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/user/llama-proxy-go/internal/apierror"
)

// Identity is the authenticated caller resolved from a request's
// Authorization header.
type Identity struct {
	ClientID string
	Key      string
}

// Authenticator validates bearer tokens against a fixed API key table
// loaded at startup. When no keys are configured, Authenticator is
// disabled and every request is treated as an anonymous caller.
type Authenticator struct {
	keys    map[string]Identity
	enabled bool
}

// New builds an Authenticator from the raw "KEY[:CLIENTID]" specs in
// cfg order. Later entries win on duplicate keys. A spec with no
// explicit client id gets one derived from a hash of the key.
func New(specs []string) *Authenticator {
	keys := make(map[string]Identity, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		key, clientID, hasClientID := strings.Cut(spec, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if hasClientID {
			clientID = strings.TrimSpace(clientID)
		}
		if clientID == "" {
			clientID = defaultClientID(key)
		}
		keys[key] = Identity{ClientID: clientID, Key: key}
	}
	return &Authenticator{keys: keys, enabled: len(keys) > 0}
}

// Enabled reports whether any API keys are configured.
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// Authenticate validates the Authorization header of an authenticated
// route. When the authenticator is disabled it always succeeds with
// the anonymous identity, matching the original's zero-config mode.
func (a *Authenticator) Authenticate(authorization string) (Identity, error) {
	if !a.enabled {
		return Identity{ClientID: "anonymous"}, nil
	}

	authorization = strings.TrimSpace(authorization)
	const prefix = "Bearer "
	if authorization == "" || !strings.HasPrefix(authorization, prefix) {
		return Identity{}, apierror.Unauthorized("Missing or invalid Authorization header")
	}

	token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
	if token == "" {
		return Identity{}, apierror.Unauthorized("Missing or invalid Authorization header")
	}

	identity, ok := a.keys[token]
	if !ok {
		return Identity{}, apierror.Unauthorized("Invalid API key")
	}
	return identity, nil
}

// defaultClientID derives a stable client id from a key when no
// explicit id is configured for it.
func defaultClientID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "client-" + hex.EncodeToString(sum[:])[:12]
}
