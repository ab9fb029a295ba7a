// Package item is the static Item Catalog: immutable item definitions keyed by
// id, plus the fixed table that maps legacy berry names to catalog ids.
package item

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Category constants for ItemDef.Category.
const (
	CategoryConsumable = "consumable"
	CategoryResource   = "resource"
	CategoryTool       = "tool"
)

var validCategories = map[string]bool{
	CategoryConsumable: true,
	CategoryResource:   true,
	CategoryTool:       true,
}

// ConsumeEffect is applied when a consumable item is used.
type ConsumeEffect struct {
	HealthRestore int `yaml:"health_restore" json:"healthRestore"`
}

// ItemDef is the immutable definition of an item.
//
// Invariant: MaxStack == 1 when Stackable is false.
type ItemDef struct {
	ID            string         `yaml:"id" json:"id"`
	Name          string         `yaml:"name" json:"name"`
	Category      string         `yaml:"category" json:"category"`
	Stackable     bool           `yaml:"stackable" json:"isStackable"`
	MaxStack      int            `yaml:"max_stack" json:"maxStackSize"`
	Consumable    bool           `yaml:"consumable" json:"isConsumable"`
	ConsumeEffect *ConsumeEffect `yaml:"consume_effect" json:"consumeEffect"`
}

// Validate checks that the ItemDef satisfies its invariants.
//
// Precondition: d is non-nil.
// Postcondition: returns nil iff all fields are valid.
func (d *ItemDef) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("ID must not be empty"))
	}
	if d.Name == "" {
		errs = append(errs, errors.New("Name must not be empty"))
	}
	if !validCategories[d.Category] {
		errs = append(errs, fmt.Errorf("Category must be one of consumable, resource, tool; got %q", d.Category))
	}
	if d.MaxStack < 1 {
		errs = append(errs, errors.New("MaxStack must be >= 1"))
	}
	if !d.Stackable && d.MaxStack != 1 {
		errs = append(errs, errors.New("MaxStack must be 1 for non-stackable items"))
	}
	if d.Consumable && d.ConsumeEffect == nil {
		errs = append(errs, errors.New("ConsumeEffect is required when Consumable is true"))
	}
	if d.ConsumeEffect != nil && d.ConsumeEffect.HealthRestore < 0 {
		errs = append(errs, errors.New("ConsumeEffect.HealthRestore must be >= 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("item %q validation failed: %w", d.ID, errors.Join(errs...))
	}
	return nil
}

// Catalog holds item definitions indexed by id. A Catalog is read-only once
// loaded and safe for concurrent use.
type Catalog struct {
	items map[string]*ItemDef
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{items: make(map[string]*ItemDef)}
}

// Register validates d and adds it to the catalog.
//
// Precondition: d must not be nil.
// Postcondition: Definition(d.ID) returns d; returns error if d is invalid or
// d.ID is already registered.
func (c *Catalog) Register(d *ItemDef) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, exists := c.items[d.ID]; exists {
		return fmt.Errorf("item: Catalog.Register: item ID %q already registered", d.ID)
	}
	c.items[d.ID] = d
	return nil
}

// Definition returns the definition for id, or false if id is unknown.
func (c *Catalog) Definition(id string) (*ItemDef, bool) {
	d, ok := c.items[id]
	return d, ok
}

// All returns every definition ordered by id.
func (c *Catalog) All() []*ItemDef {
	out := make([]*ItemDef, 0, len(c.items))
	for _, d := range c.items {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type catalogFile struct {
	Items []*ItemDef `yaml:"items"`
}

// LoadCatalog parses a YAML document with a top-level "items" list.
//
// Postcondition: returns a Catalog holding every item, or the first error.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("LoadCatalog: cannot parse catalog: %w", err)
	}
	c := NewCatalog()
	for _, d := range f.Items {
		if err := c.Register(d); err != nil {
			return nil, fmt.Errorf("LoadCatalog: %w", err)
		}
	}
	return c, nil
}

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalogBytes(defaultCatalogYAML)
}

// LoadCatalogBytes is LoadCatalog over an in-memory document.
func LoadCatalogBytes(data []byte) (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(data))
}

// LoadCatalogFile is LoadCatalog over the file at path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadCatalogFile: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}
