package extraction

import (
	"math"
	"strconv"
)

// CritiqueVerdict is the judge's decision on a plan.
type CritiqueVerdict struct {
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason,omitempty"`
}

// StepDirective names the next tool call. It lives for one execute cycle.
type StepDirective struct {
	ToolName    string `json:"toolName"`
	Parameters  Map    `json:"parameters"`
	Step        int    `json:"step"`
	IsFinalStep bool   `json:"isFinalStep"`

	// label is the reported step as written when it is not an integer
	// that fits Step.
	label string
}

// maxExactStep bounds the step numbers a float64 carries exactly.
const maxExactStep = 1 << 53

// StepLabel renders the reported step for result keys: "2" for step 2,
// "2.5" for a fractional step.
func (d StepDirective) StepLabel() string {
	if d.label != "" {
		return d.label
	}
	return strconv.Itoa(d.Step)
}

// MissingVerdictReason is the reason recorded when a critique response has
// no usable isValid member.
const MissingVerdictReason = "critique response missing isValid"

// DecodeVerdict reads {isValid, reason}. A missing or non-boolean isValid
// is treated as a rejection.
func DecodeVerdict(v Value) CritiqueVerdict {
	valid, ok := member(v, "isValid").AsBool()
	if !ok {
		return CritiqueVerdict{IsValid: false, Reason: MissingVerdictReason}
	}
	verdict := CritiqueVerdict{IsValid: valid}
	if r := member(v, "reason"); !r.IsNull() {
		verdict.Reason = r.String()
	}
	return verdict
}

// DecodeDirective reads {toolName, parameters, step, isFinalStep}.
//
// A step that is fractional or too large for an exact integer keeps its
// formatted text as StepLabel and leaves Step at fallbackStep.
//
// Missing members decode leniently: toolName to "", parameters to an empty
// map, step to fallbackStep, isFinalStep to false. Name resolution is left
// to the caller.
func DecodeDirective(v Value, fallbackStep int) StepDirective {
	d := StepDirective{Step: fallbackStep, Parameters: Map{}}

	if name, ok := member(v, "toolName").AsString(); ok {
		d.ToolName = name
	}
	if params, ok := member(v, "parameters").AsMapping(); ok {
		d.Parameters = params
	}
	if n, ok := member(v, "step").AsNumber(); ok && IsFinite(n) {
		if n == math.Trunc(n) && math.Abs(n) <= maxExactStep {
			d.Step = int(n)
		} else {
			d.label = strconv.FormatFloat(n, 'g', -1, 64)
		}
	}
	if final, ok := member(v, "isFinalStep").AsBool(); ok {
		d.IsFinalStep = final
	}
	return d
}

func member(v Value, key string) Value {
	e, _ := v.Get(key)
	return e
}
