// Package blueprint loads and validates world blueprints.
package blueprint

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

//go:embed blueprint.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("blueprint.schema.json", schemaJSON)

// Parse validates data against the blueprint schema and the cross-reference
// rules, then decodes it.
func Parse(data []byte) (*models.Blueprint, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.ErrValidation, "blueprint", err, "decode blueprint")
	}
	if err := schema.Validate(doc); err != nil {
		return nil, errs.Wrap(errs.ErrValidation, "blueprint", err, "schema")
	}

	var bp models.Blueprint
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&bp); err != nil {
		return nil, errs.Wrap(errs.ErrValidation, "blueprint", err, "decode blueprint")
	}
	if err := bp.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrValidation, "blueprint", err, "blueprint %q", bp.Name)
	}
	return &bp, nil
}

// Catalog is the set of blueprints a server can start worlds from.
type Catalog struct {
	byName map[string]models.Blueprint
}

// NewCatalog holds the builtin blueprints.
func NewCatalog() *Catalog {
	c := &Catalog{byName: make(map[string]models.Blueprint)}
	for _, bp := range Builtin() {
		c.byName[bp.Name] = bp
	}
	return c
}

// LoadDir adds every *.json blueprint under dir. A missing dir is not an error.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		bp, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		c.byName[bp.Name] = *bp
	}
	return nil
}

// Add validates bp and makes it available under its name.
func (c *Catalog) Add(bp models.Blueprint) error {
	if err := bp.Validate(); err != nil {
		return errs.Wrap(errs.ErrValidation, "blueprint", err, "blueprint %q", bp.Name)
	}
	c.byName[bp.Name] = bp
	return nil
}

// Get returns the blueprint called name.
func (c *Catalog) Get(name string) (models.Blueprint, bool) {
	bp, ok := c.byName[name]
	return bp, ok
}

// Names lists blueprint names sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.byName))
	for n := range c.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
