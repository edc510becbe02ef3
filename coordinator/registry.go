package coordinator

import (
	"sync"
)

// Registry hands out at most one Coordinator per identity. Construction is
// lazy: the first Get for an identity builds it with the supplied factory.
type Registry struct {
	mu      sync.Mutex
	byID    map[string]*Coordinator
	factory func(identity string) (*Coordinator, error)
}

// NewRegistry creates a Registry backed by factory.
func NewRegistry(factory func(identity string) (*Coordinator, error)) *Registry {
	return &Registry{
		byID:    map[string]*Coordinator{},
		factory: factory,
	}
}

// Get returns the coordinator owning identity, creating it on first use.
func (r *Registry) Get(identity string) (*Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[identity]; ok {
		return c, nil
	}
	c, err := r.factory(identity)
	if err != nil {
		return nil, err
	}
	r.byID[identity] = c
	return c, nil
}
