// Package ecs is the entity store: named entities holding typed value
// components, matcher queries, and change collectors for reactive processors.
package ecs

import (
	"fmt"
	"sort"
)

// GroupEvent selects which component change a collector records.
type GroupEvent int

const (
	Added GroupEvent = iota
	Removed
)

// Store owns every entity of one world. It is not safe for concurrent use;
// only the pipeline goroutine mutates it.
type Store struct {
	entities   map[string]*Entity
	nextIndex  uint64
	collectors []*Collector
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entities: make(map[string]*Entity)}
}

// Create adds a new entity with a fresh UUID and the next runtime index.
func (s *Store) Create(name string) (*Entity, error) {
	if name == "" {
		return nil, fmt.Errorf("entity name is required")
	}
	if _, dup := s.entities[name]; dup {
		return nil, fmt.Errorf("entity %q already exists", name)
	}
	s.nextIndex++
	e := newEntity(s, name, "", s.nextIndex)
	s.entities[name] = e
	return e, nil
}

// Restore re-creates an entity with a known identity, e.g. from a snapshot.
func (s *Store) Restore(name, id string, index uint64) (*Entity, error) {
	if name == "" || id == "" {
		return nil, fmt.Errorf("restore needs name and uuid")
	}
	if _, dup := s.entities[name]; dup {
		return nil, fmt.Errorf("entity %q already exists", name)
	}
	for _, other := range s.entities {
		if other.index == index {
			return nil, fmt.Errorf("runtime index %d already used by %q", index, other.name)
		}
	}
	e := newEntity(s, name, id, index)
	s.entities[name] = e
	if index > s.nextIndex {
		s.nextIndex = index
	}
	return e, nil
}

// GetByName returns the entity named name or nil.
func (s *Store) GetByName(name string) *Entity {
	return s.entities[name]
}

// Query returns a freshly built slice of matching entities sorted by runtime
// index, so callers may mutate the store while iterating.
func (s *Store) Query(m Matcher) []*Entity {
	out := make([]*Entity, 0)
	for _, e := range s.entities {
		if m.Matches(e) {
			out = append(out, e)
		}
	}
	SortByIndex(out)
	return out
}

// All returns every entity sorted by runtime index.
func (s *Store) All() []*Entity {
	out := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	SortByIndex(out)
	return out
}

// Len is the number of live entities.
func (s *Store) Len() int { return len(s.entities) }

// Destroy removes e and all its components.
func (s *Store) Destroy(e *Entity) {
	if e == nil || !e.alive {
		return
	}
	names := make([]string, 0, len(e.components))
	for n := range e.components {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		e.Remove(n)
	}
	delete(s.entities, e.name)
	e.alive = false
}

// RuntimeIndex is the last issued runtime index.
func (s *Store) RuntimeIndex() uint64 { return s.nextIndex }

// SetRuntimeIndex moves the counter forward; it never goes backwards.
func (s *Store) SetRuntimeIndex(v uint64) {
	if v > s.nextIndex {
		s.nextIndex = v
	}
}

// Observe registers a collector recording entities that gain (Added) or lose
// (Removed) any trigger type while satisfying m.
func (s *Store) Observe(m Matcher, event GroupEvent, triggers ...string) *Collector {
	c := &Collector{
		store:    s,
		matcher:  m,
		event:    event,
		triggers: make(map[string]struct{}, len(triggers)),
		pending:  make(map[string]*Entity),
	}
	for _, t := range triggers {
		c.triggers[t] = struct{}{}
	}
	s.collectors = append(s.collectors, c)
	return c
}

func (s *Store) notify(e *Entity, typeName string, event GroupEvent) {
	for _, c := range s.collectors {
		if c.event != event {
			continue
		}
		if _, ok := c.triggers[typeName]; !ok {
			continue
		}
		if event == Added && !c.matcher.Matches(e) {
			continue
		}
		c.pending[e.name] = e
	}
}

// Collector accumulates changed entities between drains.
type Collector struct {
	store    *Store
	matcher  Matcher
	event    GroupEvent
	triggers map[string]struct{}
	pending  map[string]*Entity
}

// Len is the number of pending entities.
func (c *Collector) Len() int { return len(c.pending) }

// Drain returns the collected entities that are still alive (and, for Added
// collectors, still matching) sorted by runtime index, and resets the set.
func (c *Collector) Drain() []*Entity {
	out := make([]*Entity, 0, len(c.pending))
	for _, e := range c.pending {
		if !e.alive {
			continue
		}
		if c.event == Added && !c.matcher.Matches(e) {
			continue
		}
		out = append(out, e)
	}
	clear(c.pending)
	SortByIndex(out)
	return out
}

// Clear drops pending entities.
func (c *Collector) Clear() { clear(c.pending) }
