package tools

import (
	"errors"
	"fmt"
)

var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrDuplicateTool = errors.New("duplicate tool name")
	ErrInvalidTool   = errors.New("invalid tool")
)

// Registry is an immutable, ordered set of tools keyed by exact name.
// It is safe for concurrent use.
type Registry struct {
	order  []string
	byName map[string]Tool
}

// NewRegistry builds a registry. Names must be non-empty and unique.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		order:  make([]string, 0, len(tools)),
		byName: make(map[string]Tool, len(tools)),
	}
	for i, t := range tools {
		if t == nil {
			return nil, fmt.Errorf("%w: tool %d is nil", ErrInvalidTool, i)
		}
		name := t.Spec().Name
		if name == "" {
			return nil, fmt.Errorf("%w: tool %d has an empty name", ErrInvalidTool, i)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTool, name)
		}
		r.order = append(r.order, name)
		r.byName[name] = t
	}
	return r, nil
}

// MustRegistry is NewRegistry for static tool sets; it panics on error.
func MustRegistry(tools ...Tool) *Registry {
	r, err := NewRegistry(tools...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup resolves name by exact match.
func (r *Registry) Lookup(name string) (Tool, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return t, nil
}

// DescribeAll returns every ToolSpec in registration order.
func (r *Registry) DescribeAll() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.byName[name].Spec())
	}
	return specs
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	return len(r.order)
}
