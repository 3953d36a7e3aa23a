package ecs

// Matcher selects entities by component type names.
type Matcher struct {
	all  []string
	any  []string
	none []string
}

// AllOf starts a matcher requiring every listed type.
func AllOf(names ...string) Matcher {
	return Matcher{all: names}
}

// AnyOf requires at least one of names.
func (m Matcher) AnyOf(names ...string) Matcher {
	m.any = append(append([]string(nil), m.any...), names...)
	return m
}

// NoneOf excludes entities carrying any of names.
func (m Matcher) NoneOf(names ...string) Matcher {
	m.none = append(append([]string(nil), m.none...), names...)
	return m
}

// Matches reports whether e satisfies all three predicates.
func (m Matcher) Matches(e *Entity) bool {
	if e == nil {
		return false
	}
	for _, n := range m.all {
		if _, ok := e.components[n]; !ok {
			return false
		}
	}
	if len(m.any) > 0 {
		found := false
		for _, n := range m.any {
			if _, ok := e.components[n]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, n := range m.none {
		if _, ok := e.components[n]; ok {
			return false
		}
	}
	return true
}
