package plugins

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"expensifyos/internal/domain"
)

// Constructor builds a plugin from its configuration.
type Constructor func(cfg domain.PluginConfig, deps Deps) (domain.Plugin, error)

// Loader adds constructors to a registry.
type Loader func(r *Registry) error

// Registry maps source names to constructors. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	ctors map[domain.Source]Constructor

	once        sync.Once
	discoverErr error
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[domain.Source]Constructor)}
}

// Register adds ctor under name.
func (r *Registry) Register(name domain.Source, ctor Constructor) error {
	if name == "" || ctor == nil {
		return fmt.Errorf("register: name and constructor are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ctors[name]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateRegistration, name)
	}
	r.ctors[name] = ctor
	return nil
}

// Lookup returns the constructor registered under name.
func (r *Registry) Lookup(name domain.Source) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", domain.ErrUnknownSource, name, r.namesLocked())
	}
	return ctor, nil
}

// New instantiates the plugin registered under name with a copy of cfg.
func (r *Registry) New(name domain.Source, cfg domain.PluginConfig, deps Deps) (domain.Plugin, error) {
	ctor, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	p, err := ctor(cfg.Clone(), deps)
	if err != nil {
		return nil, fmt.Errorf("constructing %s: %w", name, err)
	}
	return p, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name domain.Source) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[name]
	return ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []domain.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []domain.Source {
	return slices.Sorted(maps.Keys(r.ctors))
}

// Discover runs the loaders once. Later calls do nothing and return the first
// call's outcome.
func (r *Registry) Discover(loaders ...Loader) error {
	r.once.Do(func() {
		for _, load := range loaders {
			if err := load(r); err != nil {
				r.discoverErr = err
				return
			}
		}
	})
	return r.discoverErr
}
