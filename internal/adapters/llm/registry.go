package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// Factory creates a generator from configuration.
type Factory func(cfg Config) (core.Generator, error)

// Registry maps provider names to generator factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(ProviderOpenAI, func(cfg Config) (core.Generator, error) {
		g, err := NewOpenAIGenerator(cfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	})
	r.Register(ProviderEcho, func(Config) (core.Generator, error) {
		return EchoGenerator{}, nil
	})
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = factory
}

// Has reports whether a provider is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(name)]
	return ok
}

// List returns the registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the generator named by cfg.Provider. Empty means openai.
func (r *Registry) New(cfg Config) (core.Generator, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = ProviderOpenAI
	}
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "unknown generator provider: "+cfg.Provider)
	}
	gen, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating generator %s: %w", name, err)
	}
	return gen, nil
}
