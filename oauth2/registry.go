package oauth2

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	pa "github.com/panyam/profileauth"
)

// Registry holds the providers this service accepts and the base URL the
// redirect URIs are built from.
type Registry struct {
	baseURL string

	mu        sync.RWMutex
	providers map[string]*Provider
}

func NewRegistry(baseURL string) *Registry {
	return &Registry{
		baseURL:   strings.TrimRight(baseURL, "/"),
		providers: map[string]*Provider{},
	}
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p *Provider) error {
	if p.Name == "" {
		return errors.New("provider has no name")
	}
	if p.Normalize == nil {
		return fmt.Errorf("provider %s has no profile normalizer", p.Name)
	}
	if p.ProfileURL == "" || p.Endpoint.AuthURL == "" || p.Endpoint.TokenURL == "" {
		return fmt.Errorf("provider %s is missing an endpoint", p.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name] = p
	return nil
}

// Get returns the named provider. Unknown providers and providers without
// a client id both yield pa.ErrProviderNotConfigured.
func (r *Registry) Get(name string) (*Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok || !p.Configured() {
		return nil, fmt.Errorf("%w: %q", pa.ErrProviderNotConfigured, name)
	}
	return p, nil
}

// RedirectURL is the callback URI registered with the provider. The token
// exchange must send exactly this value.
func (r *Registry) RedirectURL(name string) string {
	return r.baseURL + "/api/auth/" + name + "/callback"
}

// Names lists configured providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, p := range r.providers {
		if p.Configured() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Prefixes maps provider names to their username prefixes, for
// pa.AccountResolver.
func (r *Registry) Prefixes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.providers))
	for name, p := range r.providers {
		if p.UsernamePrefix != "" {
			out[name] = p.UsernamePrefix
		}
	}
	return out
}
