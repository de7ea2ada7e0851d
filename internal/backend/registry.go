package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Auto selects the registry's default engine.
const Auto = "auto"

// Info pairs an engine name with its capabilities.
type Info struct {
	Name         string       `json:"name"`
	Default      bool         `json:"default"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered template engines and resolves which one to use
// for a request.
type Registry struct {
	mu          sync.RWMutex
	backends    map[string]Backend
	defaultName string
}

// NewRegistry creates an empty registry that resolves empty and "auto"
// engine names to defaultName.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		backends:    make(map[string]Backend),
		defaultName: defaultName,
	}
}

// Register adds an engine to the registry under the given name.
func (r *Registry) Register(name string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
}

// Resolve returns the engine registered under name. An empty name or "auto"
// selects the default engine. Returns an error if the engine is not
// registered.
func (r *Registry) Resolve(name string) (Backend, error) {
	target := name
	if target == "" || target == Auto {
		target = r.defaultName
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[target]
	if !ok {
		return nil, fmt.Errorf("template engine %q is not registered", target)
	}
	return b, nil
}

// Has reports whether name resolves to a registered engine.
func (r *Registry) Has(name string) bool {
	_, err := r.Resolve(name)
	return err == nil
}

// List returns information about all registered engines, sorted by name
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.backends))
	for name, b := range r.backends {
		infos = append(infos, Info{
			Name:         name,
			Default:      name == r.defaultName,
			Capabilities: b.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
