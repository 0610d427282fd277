package adapters

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/brettbedarf/blobtree"
)

// Factory builds a store from its raw JSON config, which always carries a
// "type" field.
type Factory func(raw []byte) (blobtree.BlobStore, error)

// Registry maps store types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register ties a factory to a "type" key. The first registration for a type
// wins; later ones are ignored and reported with false.
func (r *Registry) Register(storeType string, f Factory) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[storeType]; exists {
		return false
	}
	r.factories[storeType] = f
	return true
}

// GetFactory returns the factory registered for storeType.
func (r *Registry) GetFactory(storeType string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.factories[storeType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no factory for %q", storeType)
	}
	return f, nil
}

// Open picks the right factory based on the "type" field of raw and builds
// the store.
func (r *Registry) Open(raw []byte) (blobtree.BlobStore, error) {
	var meta struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	f, err := r.GetFactory(meta.Type)
	if err != nil {
		return nil, err
	}
	return f(raw)
}

var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry and should be called for
// each store type during app init.
func Register(storeType string, f Factory) bool {
	return defaultRegistry.Register(storeType, f)
}

// Open builds a store from the default registry.
// All expected store types should be registered with [Register] (or
// [RegisterBuiltins]) before calling this function.
func Open(raw []byte) (blobtree.BlobStore, error) {
	return defaultRegistry.Open(raw)
}
