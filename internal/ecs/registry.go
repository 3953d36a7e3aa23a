package ecs

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Component is an immutable, data-only value keyed by its type name.
// Implementations must use value receivers so the zero value reports the name.
type Component interface {
	TypeName() string
}

type descriptor struct {
	name   string
	action bool
	decode func(raw json.RawMessage) (Component, error)
}

// Registry maps component type names to descriptors. A subset is marked as
// action components and removed by the cleanup phase.
type Registry struct {
	mu      sync.RWMutex
	types   map[string]descriptor
	actions map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:   make(map[string]descriptor),
		actions: make(map[string]struct{}),
	}
}

var defaultRegistry = NewRegistry()

// Default is the process-wide registry filled by package init functions.
func Default() *Registry { return defaultRegistry }

// TypeOf returns the registered name of component type T.
func TypeOf[T Component]() string {
	var zero T
	return zero.TypeName()
}

// Register adds state component T to the default registry. It panics on a
// duplicate name; registration happens at init so that is fatal at startup.
func Register[T Component]() {
	RegisterIn[T](defaultRegistry, false)
}

// RegisterAction adds action component T to the default registry and the
// action registry.
func RegisterAction[T Component]() {
	RegisterIn[T](defaultRegistry, true)
}

// RegisterIn adds T to r.
func RegisterIn[T Component](r *Registry, action bool) {
	name := TypeOf[T]()
	if name == "" {
		panic("ecs: component with empty type name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.types[name]; dup {
		panic(fmt.Sprintf("ecs: component %q registered twice", name))
	}
	r.types[name] = descriptor{
		name:   name,
		action: action,
		decode: func(raw json.RawMessage) (Component, error) {
			var v T
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &v); err != nil {
					return nil, fmt.Errorf("decode %s: %w", name, err)
				}
			}
			return v, nil
		},
	}
	if action {
		r.actions[name] = struct{}{}
	}
}

// Registered reports whether name is a known component type.
func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// IsAction reports whether name is in the action registry.
func (r *Registry) IsAction(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// ActionTypes returns the action registry sorted by name.
func (r *Registry) ActionTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Decode rebuilds a component of type name from its JSON fields.
func (r *Registry) Decode(name string, raw json.RawMessage) (Component, error) {
	r.mu.RLock()
	d, ok := r.types[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown component type %q", name)
	}
	return d.decode(raw)
}
