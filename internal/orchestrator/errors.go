package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
)

// ErrorKind classifies a run failure.
type ErrorKind string

const (
	KindGeneratorUnavailable ErrorKind = "generator_unavailable"
	KindExtractionFailed     ErrorKind = "extraction_failed"
	KindCritiqueRejected     ErrorKind = "critique_rejected"
	KindToolNotFound         ErrorKind = "tool_not_found"
	KindToolFailed           ErrorKind = "tool_failed"
	KindTimeout              ErrorKind = "timeout"
	KindCanceled             ErrorKind = "canceled"
	KindInvalidInput         ErrorKind = "invalid_input"
	KindInternal             ErrorKind = "internal"
)

// Retryable reports whether retrying the whole run may succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindGeneratorUnavailable || k == KindTimeout
}

var (
	ErrGeneratorUnavailable = errors.New("generator unavailable")
	ErrExtractionFailed     = extraction.ErrExtractionFailed
	ErrCritiqueRejected     = errors.New("critique rejected")
	ErrToolNotFound         = tools.ErrToolNotFound
	ErrToolFailed           = errors.New("tool failed")
	ErrCallTimeout          = errors.New("call timed out")
	ErrInvalidInput         = errors.New("invalid input")
)

// RunError is a classified failure raised while handling a state.
type RunError struct {
	Kind  ErrorKind // classification
	State State     // state being handled when the error occurred
	Step  int       // workflow step number at the time
	Err   error     // underlying error
}

// Error implements the error interface
func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed at step %d (%s): %v", e.State, e.Step, e.Kind, e.Err)
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e's kind, so a generator timeout in Plan
// matches ErrGeneratorUnavailable as well as ErrCallTimeout.
func (e *RunError) Is(target error) bool {
	return sentinel(e.Kind) == target && target != nil
}

func newRunError(kind ErrorKind, state State, st *WorkflowState, err error) *RunError {
	step := 0
	if st != nil {
		step = st.StepNumber
	}
	return &RunError{Kind: kind, State: state, Step: step, Err: err}
}

func sentinel(k ErrorKind) error {
	switch k {
	case KindGeneratorUnavailable:
		return ErrGeneratorUnavailable
	case KindExtractionFailed:
		return ErrExtractionFailed
	case KindCritiqueRejected:
		return ErrCritiqueRejected
	case KindToolNotFound:
		return ErrToolNotFound
	case KindToolFailed:
		return ErrToolFailed
	case KindTimeout:
		return ErrCallTimeout
	case KindCanceled:
		return context.Canceled
	case KindInvalidInput:
		return ErrInvalidInput
	}
	return nil
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrCallTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrToolNotFound):
		return KindToolNotFound
	case errors.Is(err, ErrExtractionFailed):
		return KindExtractionFailed
	case errors.Is(err, ErrGeneratorUnavailable):
		return KindGeneratorUnavailable
	case errors.Is(err, ErrToolFailed):
		return KindToolFailed
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	}
	return KindInternal
}
