// Package tools defines the executable capabilities a plan may invoke and the
// immutable registry the orchestrator resolves them from.
package tools

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
)

// ParamSpec documents one tool parameter.
type ParamSpec struct {
	Name    string `json:"name"`
	Purpose string `json:"purpose"`
}

// ToolSpec describes a tool to the generator.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamSpec `json:"parameters"`
}

// Tool is a ToolSpec plus an executable capability.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, params extraction.Map) (extraction.Value, error)
}

// Func adapts a function into a Tool.
type Func struct {
	spec ToolSpec
	fn   func(ctx context.Context, params extraction.Map) (extraction.Value, error)
}

// NewFunc returns a Tool backed by fn.
func NewFunc(spec ToolSpec, fn func(ctx context.Context, params extraction.Map) (extraction.Value, error)) *Func {
	return &Func{spec: spec, fn: fn}
}

func (f *Func) Spec() ToolSpec { return f.spec }

func (f *Func) Execute(ctx context.Context, params extraction.Map) (extraction.Value, error) {
	return f.fn(ctx, params)
}

// Render describes specs for a prompt, one tool per entry:
//
//	* add_numbers: Adds two numbers
//	  Parameters: num1 (first addend), num2 (second addend)
func Render(specs []ToolSpec) string {
	entries := make([]string, 0, len(specs))
	for _, s := range specs {
		params := make([]string, 0, len(s.Parameters))
		for _, p := range s.Parameters {
			params = append(params, p.Name+" ("+p.Purpose+")")
		}
		entries = append(entries, "* "+s.Name+": "+s.Description+"\n  Parameters: "+strings.Join(params, ", "))
	}
	return strings.Join(entries, "\n")
}
