package backends

import (
	"fmt"
	"sort"
	"sync"

	"dictstore/src/models"
)

// Provider is the engine registry. Backends register under their engine
// name at startup; services resolve them by the Dict's declared engine.
// Adding a storage engine means registering here, nothing else changes.
type Provider struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewProvider() *Provider {
	return &Provider{backends: make(map[string]Backend)}
}

// Register adds a backend under its engine name.
func (p *Provider) Register(b Backend) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	name := b.EngineName()
	if _, exists := p.backends[name]; exists {
		return fmt.Errorf("engine '%s': %w", name, models.ErrAlreadyExists)
	}
	p.backends[name] = b
	return nil
}

// GetBackendByEngineName resolves the backend for an engine name,
// failing fast on an unknown engine.
func (p *Provider) GetBackendByEngineName(engine string) (Backend, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, exists := p.backends[engine]
	if !exists {
		return nil, fmt.Errorf("unknown storage engine '%s': %w", engine, models.ErrNotFound)
	}
	return b, nil
}

// EngineNames lists the registered engines, sorted.
func (p *Provider) EngineNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.backends))
	for name := range p.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
