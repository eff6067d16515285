// Package rules loads named rule sets, the natural-language constraints a
// plan must obey, from a TOML catalog.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/fyrsmithlabs/recipeflow/internal/sanitize"
)

var (
	// ErrUnknownRuleSet indicates no rule set has the requested name.
	ErrUnknownRuleSet = errors.New("unknown rule set")

	// ErrInvalidCatalog indicates a catalog that failed to parse or validate.
	ErrInvalidCatalog = errors.New("invalid rule catalog")
)

// DefaultName is the rule set used when nothing else is configured.
const DefaultName = "pemdas"

//go:embed default.toml
var defaultCatalog []byte

// RuleSet is a named block of rule text.
type RuleSet struct {
	Name        string `toml:"name" json:"name"`
	Description string `toml:"description" json:"description,omitempty"`
	Text        string `toml:"text" json:"text"`
}

// Catalog is an immutable, ordered collection of rule sets.
type Catalog struct {
	sets   []RuleSet
	byName map[string]int
}

// Parse decodes a TOML catalog of [[ruleset]] tables.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		RuleSet []RuleSet `toml:"ruleset"`
	}
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v", ErrInvalidCatalog, undecoded)
	}

	c := &Catalog{byName: make(map[string]int, len(doc.RuleSet))}
	for i, rs := range doc.RuleSet {
		rs.Name = strings.TrimSpace(rs.Name)
		rs.Text = strings.TrimSpace(rs.Text)
		if rs.Name == "" {
			return nil, fmt.Errorf("%w: rule set %d has no name", ErrInvalidCatalog, i)
		}
		if err := sanitize.ValidateName(rs.Name, "rule set name"); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
		if rs.Text == "" {
			return nil, fmt.Errorf("%w: rule set %q has no text", ErrInvalidCatalog, rs.Name)
		}
		if _, dup := c.byName[rs.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate rule set %q", ErrInvalidCatalog, rs.Name)
		}
		c.byName[rs.Name] = len(c.sets)
		c.sets = append(c.sets, rs)
	}
	if len(c.sets) == 0 {
		return nil, fmt.Errorf("%w: no rule sets", ErrInvalidCatalog)
	}
	return c, nil
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded rule catalog: %v", err))
	}
	return c
}

// Get returns the rule set named name.
func (c *Catalog) Get(name string) (RuleSet, error) {
	i, ok := c.byName[name]
	if !ok {
		return RuleSet{}, fmt.Errorf("%w: %q", ErrUnknownRuleSet, name)
	}
	return c.sets[i], nil
}

// All returns the rule sets in file order.
func (c *Catalog) All() []RuleSet {
	out := make([]RuleSet, len(c.sets))
	copy(out, c.sets)
	return out
}

// Names returns rule set names in file order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.sets))
	for i, rs := range c.sets {
		names[i] = rs.Name
	}
	return names
}
