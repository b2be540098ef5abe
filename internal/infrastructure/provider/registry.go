package provider

import (
	"fmt"

	"github.com/kirillkom/content-publisher/internal/core/usecase"
)

// Registry holds the configured provider bindings and the default fallback
// order used when a dispatch names no provider.
type Registry struct {
	bindings map[string]usecase.ProviderBinding
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]usecase.ProviderBinding)}
}

// Register appends the binding to the fallback order. Registration order is
// the fallback order.
func (r *Registry) Register(binding usecase.ProviderBinding) error {
	name := binding.Provider.Name()
	if _, ok := r.bindings[name]; ok {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.bindings[name] = binding
	r.order = append(r.order, name)
	return nil
}

// Chain resolves the ordered provider chain for a dispatch. An explicit name
// restricts the chain to that single provider.
func (r *Registry) Chain(explicit string) ([]usecase.ProviderBinding, error) {
	if explicit != "" {
		binding, ok := r.bindings[explicit]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", explicit)
		}
		return []usecase.ProviderBinding{binding}, nil
	}
	chain := make([]usecase.ProviderBinding, 0, len(r.order))
	for _, name := range r.order {
		chain = append(chain, r.bindings[name])
	}
	return chain, nil
}

// Names returns the registered provider names in fallback order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
