package blueprint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

func TestBuiltinBlueprintsParse(t *testing.T) {
	for _, bp := range Builtin() {
		data, err := json.Marshal(bp)
		if err != nil {
			t.Fatal(err)
		}
		parsed, err := Parse(data)
		if err != nil {
			t.Fatalf("%s: %v", bp.Name, err)
		}
		if parsed.HomeStage() != "The Dusty Tankard" {
			t.Fatalf("home = %q", parsed.HomeStage())
		}
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing stages", `{"name":"x","actors":[],"player_actor":"p"}`},
		{"bad prop kind", `{"name":"x","player_actor":"p",
			"stages":[{"name":"s","description":"d","system_message":"m"}],
			"actors":[{"name":"p","system_message":"m","stage":"s","props":[{"name":"a","description":"b","kind":"food"}]}]}`},
		{"unknown stage", `{"name":"x","player_actor":"p",
			"stages":[{"name":"s","description":"d","system_message":"m"}],
			"actors":[{"name":"p","system_message":"m","stage":"nowhere"}]}`},
		{"duplicate names", `{"name":"x","player_actor":"s",
			"stages":[{"name":"s","description":"d","system_message":"m"}],
			"actors":[{"name":"s","system_message":"m","stage":"s"}]}`},
		{"missing player", `{"name":"x","player_actor":"q",
			"stages":[{"name":"s","description":"d","system_message":"m"}],
			"actors":[{"name":"p","system_message":"m","stage":"s"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.doc)); !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
}

func TestCatalogLoadDir(t *testing.T) {
	dir := t.TempDir()
	doc := `{"name":"tiny","player_actor":"p",
		"stages":[{"name":"s","description":"d","system_message":"m"}],
		"actors":[{"name":"p","system_message":"m","stage":"s"}]}`
	if err := os.WriteFile(filepath.Join(dir, "tiny.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewCatalog()
	if err := c.LoadDir(dir); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("tiny"); !ok {
		t.Fatal("tiny not loaded")
	}
	if got := c.Names(); len(got) != 2 {
		t.Fatalf("Names = %v", got)
	}
	if err := c.LoadDir(filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("missing dir: %v", err)
	}
}

func TestCatalogAdd(t *testing.T) {
	c := NewCatalog()
	if err := c.Add(models.Blueprint{Name: "empty"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	bp := Builtin()[0]
	bp.Name = "copy"
	if err := c.Add(bp); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("copy"); !ok {
		t.Fatal("added blueprint missing")
	}
}
