package orchestrator

import (
	"cmp"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
)

// WorkflowState accumulates the results of one run.
//
// It is owned by a single goroutine for the lifetime of the run and is not
// safe for concurrent use.
type WorkflowState struct {
	StepResults      map[string]extraction.Value
	StepNumber       int
	CritiqueAttempts int
}

// NewWorkflowState returns a fresh state for one run.
func NewWorkflowState() *WorkflowState {
	return &WorkflowState{
		StepResults:      make(map[string]extraction.Value),
		StepNumber:       1,
		CritiqueAttempts: 1,
	}
}

// StepKey derives the result key for a generator-reported step number.
func StepKey(step int) string {
	return "step" + strconv.Itoa(step)
}

// DirectiveKey derives the result key for d. Fractional steps keep their
// text, so step 2.5 records under "step2.5" rather than "step2".
func DirectiveKey(d extraction.StepDirective) string {
	return "step" + d.StepLabel()
}

// RecordResult stores v under key. An existing entry is replaced.
func (s *WorkflowState) RecordResult(key string, v extraction.Value) {
	s.StepResults[key] = v
}

// IncrementStep advances the step counter.
func (s *WorkflowState) IncrementStep() {
	s.StepNumber++
}

// IncrementCritiqueAttempts counts one rejected critique.
func (s *WorkflowState) IncrementCritiqueAttempts() {
	s.CritiqueAttempts++
}

// Result returns the value recorded under key.
func (s *WorkflowState) Result(key string) (extraction.Value, bool) {
	v, ok := s.StepResults[key]
	return v, ok
}

// Keys returns the recorded step keys, numeric steps in numeric order.
func (s *WorkflowState) Keys() []string {
	keys := slices.Collect(maps.Keys(s.StepResults))
	slices.SortFunc(keys, compareStepKeys)
	return keys
}

func compareStepKeys(a, b string) int {
	na, errA := strconv.ParseFloat(strings.TrimPrefix(a, "step"), 64)
	nb, errB := strconv.ParseFloat(strings.TrimPrefix(b, "step"), 64)
	if errA == nil && errB == nil {
		return cmp.Compare(na, nb)
	}
	return strings.Compare(a, b)
}

// Snapshot returns a copy that shares no map with s.
func (s *WorkflowState) Snapshot() WorkflowState {
	return WorkflowState{
		StepResults:      maps.Clone(s.StepResults),
		StepNumber:       s.StepNumber,
		CritiqueAttempts: s.CritiqueAttempts,
	}
}
