// Package middleware provides HTTP middleware for the inventoryd API:
// bearer-token authentication with per-provider grants and request logging.
package middleware

import (
	"strings"
	"sync"

	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/models"
)

// Authenticator resolves bearer tokens to provider view grants. Tokens are
// static, loaded from configuration; a grant of "*" covers every provider.
type Authenticator struct {
	mu      sync.RWMutex
	enabled bool
	grants  map[string]map[string]bool
}

// NewAuthenticator builds the token table from config.
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	a := &Authenticator{
		enabled: cfg.Enabled,
		grants:  make(map[string]map[string]bool),
	}
	for token, providers := range cfg.Tokens {
		set := make(map[string]bool, len(providers))
		for _, p := range providers {
			set[strings.ToLower(strings.TrimSpace(p))] = true
		}
		a.grants[token] = set
	}
	return a
}

// Enabled reports whether authentication is switched on.
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// ValidateToken reports whether the token exists at all.
func (a *Authenticator) ValidateToken(token string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.grants[token]
	return ok
}

// CanView reports whether the token may read the provider's inventory. With
// auth disabled every request passes.
func (a *Authenticator) CanView(token string, provider models.Provider) bool {
	if !a.enabled {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	set, ok := a.grants[token]
	if !ok {
		return false
	}
	return set["*"] || set[string(provider)]
}

// BearerToken extracts the token from an Authorization header value, or ""
// when the header is missing or malformed.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}
