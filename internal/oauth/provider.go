// Package oauth defines the boundary to third-party identity providers.
// Provider bodies (Google, GitHub, ...) are external collaborators; the
// gateway only needs the three calls below.
package oauth

import (
	"context"
	"fmt"
	"sync"
)

// RedirectInfo is handed to a provider when starting an authorization
// flow.
type RedirectInfo struct {
	RedirectURL string
	State       string
}

// Tokens is the provider-issued credential set after code exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Profile is the user identity a provider resolves for an access token.
type Profile struct {
	ID            string
	Email         string
	DisplayName   string
	Picture       string
	EmailVerified bool
}

// Provider is a pluggable OAuth identity provider.
type Provider interface {
	Name() string
	Init(ctx context.Context, info RedirectInfo) (authURL string, err error)
	GetAccessToken(ctx context.Context, code string) (*Tokens, error)
	GetUserInfo(ctx context.Context, accessToken string) (*Profile, error)
}

// Registry holds the configured providers keyed by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Register adds a provider; a later registration under the same name
// replaces the earlier one.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown oauth provider %q", name)
	}
	return p, nil
}
