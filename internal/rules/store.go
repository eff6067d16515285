package rules

import (
	"strings"
	"sync/atomic"

	"github.com/fyrsmithlabs/recipeflow/internal/config"
)

// Store holds the current catalog and swaps it atomically on reload.
type Store struct {
	current     atomic.Pointer[Catalog]
	defaultName string
}

// NewStore wraps c. An empty defaultName selects DefaultName.
func NewStore(c *Catalog, defaultName string) *Store {
	if defaultName == "" {
		defaultName = DefaultName
	}
	s := &Store{defaultName: defaultName}
	s.current.Store(c)
	return s
}

// Open builds a store from configuration: the file at cfg.Path when set,
// otherwise the embedded catalog. The default rule set must exist.
func Open(cfg config.RulesConfig) (*Store, error) {
	c := Default()
	if cfg.Path != "" {
		var err error
		if c, err = LoadFile(cfg.Path); err != nil {
			return nil, err
		}
	}
	s := NewStore(c, cfg.Default)
	if _, err := s.Resolve(""); err != nil {
		return nil, err
	}
	return s, nil
}

// Catalog returns the current catalog.
func (s *Store) Catalog() *Catalog {
	return s.current.Load()
}

// Replace swaps in c.
func (s *Store) Replace(c *Catalog) {
	s.current.Store(c)
}

// DefaultName returns the name used when a request names no rule set.
func (s *Store) DefaultName() string {
	return s.defaultName
}

// Resolve returns the named rule set, or the default when name is blank.
func (s *Store) Resolve(name string) (RuleSet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = s.defaultName
	}
	return s.Catalog().Get(name)
}

// RuleText picks the text for a request: explicit text wins, then the named
// rule set, then the default.
func (s *Store) RuleText(name, text string) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}
	rs, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	return rs.Text, nil
}
