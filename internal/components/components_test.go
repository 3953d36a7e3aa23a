package components

import (
	"testing"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
)

func TestActionRegistry(t *testing.T) {
	reg := ecs.Default()
	for _, name := range []string{"Speak", "GoTo", "Attack", "EnviroNarrate", "Tag"} {
		if !reg.IsAction(name) {
			t.Errorf("%s not in action registry", name)
		}
	}
	for _, name := range []string{"Actor", "Inventory", "Plan", "Death"} {
		if !reg.Registered(name) || reg.IsAction(name) {
			t.Errorf("%s should be a registered state component", name)
		}
	}
}

func TestFormatInventory(t *testing.T) {
	if got := FormatInventory(Inventory{}); got != "- 无" {
		t.Fatalf("empty inventory = %q", got)
	}
	inv := Inventory{Props: []Prop{{Name: "Key", Description: "rusty"}, {Name: "Herb", Description: "green"}}}
	want := "- Key: rusty\n- Herb: green"
	if got := FormatInventory(inv); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestInventoryCopies(t *testing.T) {
	inv := Inventory{Props: []Prop{{Name: "a"}, {Name: "b"}, {Name: "c"}}}
	less := inv.Without(inv.Find("b"))
	if len(less.Props) != 2 || less.Props[1].Name != "c" {
		t.Fatalf("Without = %+v", less.Props)
	}
	if inv.Props[1].Name != "b" {
		t.Fatal("Without mutated the original")
	}
	more := less.With(Prop{Name: "d"})
	if len(more.Props) != 3 || len(less.Props) != 2 {
		t.Fatal("With mutated the original")
	}
	if inv.Find("zzz") != -1 {
		t.Fatal("Find on missing prop")
	}
}

func TestCombatStatsClamp(t *testing.T) {
	s := CombatStats{HP: 15, MaxHP: 20}.Damage(20)
	if s.HP != 0 {
		t.Fatalf("HP = %d, want 0", s.HP)
	}
	s = s.Heal(50)
	if s.HP != 20 {
		t.Fatalf("HP = %d, want 20", s.HP)
	}
}
