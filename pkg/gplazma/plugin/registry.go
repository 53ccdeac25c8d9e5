package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dcache/gplazma/pkg/gplazma/configuration"
)

// Constructor builds a plugin instance from its configuration. Properties
// already contain the global properties overlaid by the item's own.
type Constructor func(cfg configuration.PluginConfig) (Plugin, error)

var (
	// ErrUnknownPlugin is returned when no constructor is registered under a name.
	ErrUnknownPlugin = errors.New("plugin: unknown plugin")

	// ErrDuplicatePlugin is returned when registering a name twice.
	ErrDuplicatePlugin = errors.New("plugin: duplicate registration")
)

// Registry maps plugin names to constructors. It is populated at startup by
// the modules providing plugins and read by every (re)load.
//
// Thread safety: safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor under name.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" || ctor == nil {
		return fmt.Errorf("plugin: invalid registration for %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicatePlugin, name)
	}
	r.ctors[name] = ctor
	return nil
}

// MustRegister is Register panicking on error, for use from init functions.
func (r *Registry) MustRegister(name string, ctor Constructor) {
	if err := r.Register(name, ctor); err != nil {
		panic(err)
	}
}

// Lookup returns the constructor registered under name.
func (r *Registry) Lookup(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ctors[name]
	return c, ok
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New constructs the plugin registered under name.
func (r *Registry) New(name string, cfg configuration.PluginConfig) (Plugin, error) {
	ctor, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, name)
	}
	p, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin %q: %w", name, err)
	}
	if p == nil {
		return nil, fmt.Errorf("failed to create plugin %q: constructor returned nil", name)
	}
	return p, nil
}

// ============================================================================
// Default registry
// ============================================================================

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry that Register and MustRegister
// populate.
func Default() *Registry { return defaultRegistry }

// Register adds a constructor to the default registry.
func Register(name string, ctor Constructor) error { return defaultRegistry.Register(name, ctor) }

// MustRegister adds a constructor to the default registry, panicking on error.
func MustRegister(name string, ctor Constructor) { defaultRegistry.MustRegister(name, ctor) }
