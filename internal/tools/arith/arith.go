// Package arith provides the four binary arithmetic tools used by the
// equation-solving recipe.
package arith

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
)

// Tool names.
const (
	Multiply = "multiply_numbers"
	Divide   = "divide_numbers"
	Add      = "add_numbers"
	Subtract = "subtract_numbers"
)

var (
	ErrMissingParam = errors.New("missing parameter")
	ErrNotNumeric   = errors.New("parameter is not numeric")
	ErrDivideByZero = errors.New("division by zero")
	ErrNotFinite    = errors.New("result is not a finite number")
)

type binaryOp func(a, b float64) (float64, error)

func newBinary(name, description, a, aPurpose, b, bPurpose string, op binaryOp) tools.Tool {
	spec := tools.ToolSpec{
		Name:        name,
		Description: description,
		Parameters: []tools.ParamSpec{
			{Name: a, Purpose: aPurpose},
			{Name: b, Purpose: bPurpose},
		},
	}
	return tools.NewFunc(spec, func(ctx context.Context, params extraction.Map) (extraction.Value, error) {
		if err := ctx.Err(); err != nil {
			return extraction.Value{}, err
		}
		x, err := number(params, a)
		if err != nil {
			return extraction.Value{}, fmt.Errorf("%s: %w", name, err)
		}
		y, err := number(params, b)
		if err != nil {
			return extraction.Value{}, fmt.Errorf("%s: %w", name, err)
		}
		r, err := op(x, y)
		if err != nil {
			return extraction.Value{}, fmt.Errorf("%s: %w", name, err)
		}
		if !extraction.IsFinite(r) {
			return extraction.Value{}, fmt.Errorf("%s: %w: %v", name, ErrNotFinite, r)
		}
		return extraction.Number(r), nil
	})
}

func number(params extraction.Map, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	n, ok := v.AsNumber()
	if !ok {
		return 0, fmt.Errorf("%w: %s=%s", ErrNotNumeric, key, v)
	}
	return n, nil
}

// Tools returns multiply, divide, add and subtract in that order.
func Tools() []tools.Tool {
	return []tools.Tool{
		newBinary(Multiply, "Multiplies two numbers", "num1", "first factor", "num2", "second factor",
			func(a, b float64) (float64, error) { return a * b, nil }),
		newBinary(Divide, "Divides the first number by the second", "num1", "dividend", "num2", "divisor",
			func(a, b float64) (float64, error) {
				if b == 0 {
					return 0, ErrDivideByZero
				}
				return a / b, nil
			}),
		newBinary(Add, "Adds two numbers", "num1", "first addend", "num2", "second addend",
			func(a, b float64) (float64, error) { return a + b, nil }),
		newBinary(Subtract, "Subtracts the subtrahend from the minuend", "minuend", "number to subtract from", "subtrahend", "number to subtract",
			func(a, b float64) (float64, error) { return a - b, nil }),
	}
}

// Registry returns a registry holding Tools().
func Registry() *tools.Registry {
	return tools.MustRegistry(Tools()...)
}
