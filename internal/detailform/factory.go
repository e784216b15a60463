package detailform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pitabwire/gridform/model"
)

// DefaultItemRequestClass names the standard item request implementation.
const DefaultItemRequestClass = "default"

// ItemRequestFactory builds the item request serving one record of a
// component's grid.
type ItemRequestFactory func(c *Component, record *model.Record) ItemRequest

// FactoryRegistry maps item request class names, as used by the
// item_request key of grid definitions, to factories. It is safe for
// concurrent use.
type FactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]ItemRequestFactory
}

// NewFactoryRegistry returns a registry holding the default factory.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{
		factories: map[string]ItemRequestFactory{
			DefaultItemRequestClass: NewItemRequest,
		},
	}
}

// Register adds a named factory. Names are registered once.
func (r *FactoryRegistry) Register(name string, f ItemRequestFactory) error {
	if name == "" || f == nil {
		return fmt.Errorf("item request factory: name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("item request factory %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Get returns the factory registered under name.
func (r *FactoryRegistry) Get(name string) (ItemRequestFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered class names, sorted.
func (r *FactoryRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
