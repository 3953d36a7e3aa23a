package ecs

import (
	"encoding/json"
	"testing"
)

type posC struct{ X int }
type tagC struct{}
type hitC struct{ Damage int }

func (posC) TypeName() string { return "TestPos" }
func (tagC) TypeName() string { return "TestTag" }
func (hitC) TypeName() string { return "TestHit" }

func TestCreateAssignsIncreasingIndexAndUUID(t *testing.T) {
	s := NewStore()
	a, err := s.Create("a")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := s.Create("b")
	if a.Index() >= b.Index() {
		t.Fatalf("indices not increasing: %d %d", a.Index(), b.Index())
	}
	if a.UUID() == "" || a.UUID() == b.UUID() {
		t.Fatalf("bad uuids %q %q", a.UUID(), b.UUID())
	}
	if _, err := s.Create("a"); err == nil {
		t.Fatal("duplicate name accepted")
	}
	if s.GetByName("b") != b {
		t.Fatal("GetByName mismatch")
	}
}

func TestQueryMatcher(t *testing.T) {
	s := NewStore()
	a, _ := s.Create("a")
	b, _ := s.Create("b")
	c, _ := s.Create("c")
	a.Add(posC{1})
	a.Add(tagC{})
	b.Add(posC{2})
	c.Add(hitC{3})

	cases := []struct {
		name string
		m    Matcher
		want []string
	}{
		{"all", AllOf("TestPos"), []string{"a", "b"}},
		{"all+none", AllOf("TestPos").NoneOf("TestTag"), []string{"b"}},
		{"any", AllOf().AnyOf("TestTag", "TestHit"), []string{"a", "c"}},
		{"empty", AllOf("TestPos", "TestHit"), nil},
	}
	for _, tc := range cases {
		got := s.Query(tc.m)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %d entities, want %d", tc.name, len(got), len(tc.want))
		}
		for i, e := range got {
			if e.Name() != tc.want[i] {
				t.Fatalf("%s: [%d] = %s, want %s", tc.name, i, e.Name(), tc.want[i])
			}
		}
	}
}

func TestQueryIsSnapshot(t *testing.T) {
	s := NewStore()
	for _, n := range []string{"a", "b", "c"} {
		e, _ := s.Create(n)
		e.Add(posC{})
	}
	seen := 0
	for _, e := range s.Query(AllOf("TestPos")) {
		s.Destroy(e)
		seen++
	}
	if seen != 3 || s.Len() != 0 {
		t.Fatalf("seen=%d len=%d", seen, s.Len())
	}
}

func TestGenericAccessors(t *testing.T) {
	s := NewStore()
	e, _ := s.Create("a")
	if Has[posC](e) {
		t.Fatal("unexpected component")
	}
	e.Replace(posC{X: 4})
	e.Replace(posC{X: 5})
	p, ok := Get[posC](e)
	if !ok || p.X != 5 {
		t.Fatalf("Get = %+v %v", p, ok)
	}
	if e.Add(posC{X: 6}) {
		t.Fatal("Add over existing component should fail")
	}
	if !Remove[posC](e) || Has[posC](e) {
		t.Fatal("Remove failed")
	}
}

func TestCollectorAddedSortedByIndex(t *testing.T) {
	s := NewStore()
	col := s.Observe(AllOf("TestHit"), Added, "TestHit")
	c, _ := s.Create("c")
	a, _ := s.Create("a")
	b, _ := s.Create("b")

	b.Add(hitC{1})
	c.Add(hitC{2})
	a.Add(hitC{3})
	a.Replace(hitC{4})

	got := col.Drain()
	if len(got) != 3 || got[0] != c || got[1] != a || got[2] != b {
		t.Fatalf("unexpected drain order: %v", names(got))
	}
	if col.Len() != 0 {
		t.Fatal("drain did not reset")
	}

	b.Add(posC{})
	b.Remove("TestHit")
	if len(col.Drain()) != 0 {
		t.Fatal("removed component still collected")
	}
}

func TestCollectorSkipsDestroyed(t *testing.T) {
	s := NewStore()
	col := s.Observe(AllOf("TestTag"), Added, "TestTag")
	e, _ := s.Create("x")
	e.Add(tagC{})
	s.Destroy(e)
	if e.Alive() {
		t.Fatal("destroyed entity still alive")
	}
	if got := col.Drain(); len(got) != 0 {
		t.Fatalf("destroyed entity drained: %v", names(got))
	}
}

func TestRestoreKeepsIdentity(t *testing.T) {
	s := NewStore()
	e, err := s.Restore("old", "5f1d7c1e-0000-4000-8000-000000000001", 42)
	if err != nil {
		t.Fatal(err)
	}
	if e.Index() != 42 || e.UUID() != "5f1d7c1e-0000-4000-8000-000000000001" {
		t.Fatalf("identity changed: %d %s", e.Index(), e.UUID())
	}
	n, _ := s.Create("new")
	if n.Index() != 43 {
		t.Fatalf("next index = %d, want 43", n.Index())
	}
	if _, err := s.Restore("dup", "x", 42); err == nil {
		t.Fatal("duplicate index accepted")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	RegisterIn[posC](r, false)
	RegisterIn[hitC](r, true)

	if !r.Registered("TestPos") || r.IsAction("TestPos") {
		t.Fatal("state component misregistered")
	}
	if !r.IsAction("TestHit") {
		t.Fatal("action component missing")
	}
	if got := r.ActionTypes(); len(got) != 1 || got[0] != "TestHit" {
		t.Fatalf("ActionTypes = %v", got)
	}

	c, err := r.Decode("TestHit", json.RawMessage(`{"Damage":7}`))
	if err != nil {
		t.Fatal(err)
	}
	if c.(hitC).Damage != 7 {
		t.Fatalf("decoded %+v", c)
	}
	if _, err := r.Decode("Nope", nil); err == nil {
		t.Fatal("unknown type decoded")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration did not panic")
		}
	}()
	RegisterIn[posC](r, false)
}

func names(es []*Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Name()
	}
	return out
}
