package ecs

import (
	"sort"

	"github.com/google/uuid"
)

// Entity is an identity holding at most one component per type.
type Entity struct {
	name       string
	uuid       string
	index      uint64
	components map[string]Component
	store      *Store
	alive      bool
}

func (e *Entity) Name() string  { return e.name }
func (e *Entity) UUID() string  { return e.uuid }
func (e *Entity) Index() uint64 { return e.index }

// Alive is false once the entity has been destroyed.
func (e *Entity) Alive() bool { return e.alive }

// Has reports whether e carries every named type.
func (e *Entity) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := e.components[n]; !ok {
			return false
		}
	}
	return true
}

// Component returns the component stored under name.
func (e *Entity) Component(name string) (Component, bool) {
	c, ok := e.components[name]
	return c, ok
}

// Components returns every component sorted by type name.
func (e *Entity) Components() []Component {
	out := make([]Component, 0, len(e.components))
	for _, c := range e.components {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TypeName() < out[j].TypeName() })
	return out
}

// Add attaches c. It returns false when a component of the same type exists.
func (e *Entity) Add(c Component) bool {
	if _, ok := e.components[c.TypeName()]; ok {
		return false
	}
	e.components[c.TypeName()] = c
	if e.store != nil {
		e.store.notify(e, c.TypeName(), Added)
	}
	return true
}

// Replace attaches c, overwriting any existing value of the same type.
func (e *Entity) Replace(c Component) {
	_, existed := e.components[c.TypeName()]
	e.components[c.TypeName()] = c
	if !existed && e.store != nil {
		e.store.notify(e, c.TypeName(), Added)
	}
}

// Remove detaches the component named name.
func (e *Entity) Remove(name string) bool {
	if _, ok := e.components[name]; !ok {
		return false
	}
	delete(e.components, name)
	if e.store != nil {
		e.store.notify(e, name, Removed)
	}
	return true
}

// Get returns the component of type T on e.
func Get[T Component](e *Entity) (T, bool) {
	var zero T
	if e == nil {
		return zero, false
	}
	c, ok := e.components[zero.TypeName()]
	if !ok {
		return zero, false
	}
	v, ok := c.(T)
	return v, ok
}

// Has reports whether e carries a component of type T.
func Has[T Component](e *Entity) bool {
	if e == nil {
		return false
	}
	_, ok := e.components[TypeOf[T]()]
	return ok
}

// Remove detaches the component of type T.
func Remove[T Component](e *Entity) bool {
	return e.Remove(TypeOf[T]())
}

// SortByIndex orders entities by runtime index ascending.
func SortByIndex(es []*Entity) {
	sort.Slice(es, func(i, j int) bool { return es[i].index < es[j].index })
}

func newEntity(s *Store, name, id string, index uint64) *Entity {
	if id == "" {
		id = uuid.New().String()
	}
	return &Entity{
		name:       name,
		uuid:       id,
		index:      index,
		components: make(map[string]Component),
		store:      s,
		alive:      true,
	}
}
