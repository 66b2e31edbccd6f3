package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrPluginExists = errors.New("plugin kind already registered")
	ErrUnknownKind  = errors.New("unknown plugin kind")
	ErrFactoryNil   = errors.New("plugin factory is nil")
)

// Factory builds a fresh plugin from its params
type Factory func(params Params) (Plugin, error)

// Registry maps plugin kinds to factories
type Registry struct {
	mu    sync.RWMutex
	items map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Factory)}
}

// Register adds a factory under kind
func (r *Registry) Register(kind string, f Factory) error {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return fmt.Errorf("%w: empty kind", ErrUnknownKind)
	}
	if f == nil {
		return ErrFactoryNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[kind]; ok {
		return fmt.Errorf("%w: %s", ErrPluginExists, kind)
	}
	r.items[kind] = f
	return nil
}

// Build creates a new instance of kind
func (r *Registry) Build(kind string, params Params) (Plugin, error) {
	r.mu.RLock()
	f, ok := r.items[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	p, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", kind, err)
	}
	if p == nil {
		return nil, fmt.Errorf("build %s: factory returned nil", kind)
	}
	return p, nil
}

// Kinds returns the registered kinds in sorted order
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.items))
	for k := range r.items {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
