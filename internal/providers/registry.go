package providers

import (
	"fmt"
	"strings"
	"sync"

	"curator/internal/services"
)

// Registry holds the configured providers. It is constructed once at startup
// and injected into the fetcher; there is no package-level instance.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its name. Names are case-insensitive and
// must be unique.
func (r *Registry) Register(provider Provider) error {
	if provider == nil {
		return services.Wrap(services.ErrValidation, "providers", "register", "provider is required", nil)
	}
	name := strings.ToLower(strings.TrimSpace(provider.Name()))
	if name == "" {
		return services.Wrap(services.ErrValidation, "providers", "register", "provider name is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return services.Wrap(services.ErrAlreadyExists, "providers", "register", fmt.Sprintf("provider %q already registered", name), nil)
	}
	r.providers[name] = provider
	r.order = append(r.order, name)
	return nil
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return provider, ok
}

// All returns providers in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, r.providers[name])
	}
	return all
}
