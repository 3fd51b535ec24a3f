package rest

import (
	"sort"
	"sync"
)

// Registry indexes interface descriptors by qualified name.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*InterfaceDescriptor
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: map[string]*InterfaceDescriptor{}}
}

// DefaultRegistry holds the interfaces added with Define and MustDefine.
var DefaultRegistry = NewRegistry()

// Register adds descriptors. A qualified name may be registered once.
func (r *Registry) Register(descs ...*InterfaceDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range descs {
		id := d.QualifiedName()
		if prev, ok := r.byID[id]; ok && prev != d {
			return &DefinitionError{Interface: id, Err: ErrDuplicateInterface}
		} else if ok {
			continue
		}
		r.byID[id] = d
		r.order = append(r.order, id)
	}
	return nil
}

// Lookup returns the descriptor registered under a qualified name.
func (r *Registry) Lookup(id string) (*InterfaceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// All returns the descriptors in registration order.
func (r *Registry) All() []*InterfaceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*InterfaceDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Names returns the registered qualified names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Define builds b and registers it in DefaultRegistry.
func Define(b *InterfaceBuilder) (*InterfaceDescriptor, error) {
	d, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := DefaultRegistry.Register(d); err != nil {
		return nil, err
	}
	return d, nil
}

// MustDefine is Define that panics on error. Generated code calls it from
// package-level variable initializers.
func MustDefine(b *InterfaceBuilder) *InterfaceDescriptor {
	d, err := Define(b)
	if err != nil {
		panic(err)
	}
	return d
}
