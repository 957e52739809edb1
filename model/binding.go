package model

import (
	"fmt"
	"strings"
	"sync"
)

// Binding selects an inference endpoint for a persona.
type Binding struct {
	// ModelName is either a bare model id or "provider:model".
	ModelName   string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// Split returns the provider prefix (empty if none) and the model id.
func (b Binding) Split() (provider, name string) {
	if p, n, ok := strings.Cut(b.ModelName, ":"); ok {
		return p, n
	}
	return "", b.ModelName
}

// Factory builds a Model for a binding whose provider prefix has been removed.
type Factory func(b Binding) (Model, error)

// Resolver maps provider names to factories.
type Resolver struct {
	mu              sync.RWMutex
	factories       map[string]Factory
	defaultProvider string
}

// NewResolver creates a resolver; bindings without a provider prefix use
// defaultProvider.
func NewResolver(defaultProvider string) *Resolver {
	return &Resolver{factories: map[string]Factory{}, defaultProvider: defaultProvider}
}

// Register installs a factory for a provider name.
func (r *Resolver) Register(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
}

// Resolve builds the Model for b.
func (r *Resolver) Resolve(b Binding) (Model, error) {
	provider, name := b.Split()
	if provider == "" {
		provider = r.defaultProvider
	}

	r.mu.RLock()
	f, ok := r.factories[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}

	return f(Binding{ModelName: name, Temperature: b.Temperature})
}
