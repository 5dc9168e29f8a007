package provider

import (
	"fmt"
	"sync"
)

// Registry multiplexes the configured providers and resolves which one
// serves a requested model
type Registry struct {
	providers   map[string]Config
	defaultName string
	mu          sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Config)}
}

// Replace swaps in a fresh provider list, typically after the persisted
// provider table changes
func (r *Registry) Replace(configs []Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = make(map[string]Config, len(configs))
	r.defaultName = ""
	for _, cfg := range configs {
		r.providers[cfg.Name] = cfg
		if cfg.IsDefault || r.defaultName == "" {
			r.defaultName = cfg.Name
		}
	}
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, exists := r.providers[name]
	if !exists {
		return Config{}, fmt.Errorf("provider %s not found", name)
	}
	return cfg, nil
}

// Default returns the default provider
func (r *Registry) Default() (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.defaultName == "" {
		return Config{}, fmt.Errorf("no providers configured")
	}
	return r.providers[r.defaultName], nil
}

// ForModel resolves the provider serving a model, falling back to the
// default provider when no provider lists it
func (r *Registry) ForModel(model string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if model != "" {
		for _, cfg := range r.providers {
			if cfg.HasModel(model) {
				return cfg, nil
			}
		}
	}
	if r.defaultName == "" {
		return Config{}, fmt.Errorf("no providers configured")
	}
	return r.providers[r.defaultName], nil
}

// List returns every configured provider
func (r *Registry) List() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, 0, len(r.providers))
	for _, cfg := range r.providers {
		out = append(out, cfg)
	}
	return out
}

// VisionModels collects the vision-capable models across all providers
func (r *Registry) VisionModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, cfg := range r.providers {
		for _, m := range cfg.VisionModels() {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}
