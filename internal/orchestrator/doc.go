// Package orchestrator drives a plan, critique and execute loop against a
// text generator.
//
// # Overview
//
// A run moves through a closed set of states:
//
//	Plan → Critique → Execute → … → Execute → Done
//	  ↑        │
//	  └────────┘ (rejected, attempts remaining)
//
// Plan asks the generator for a step-by-step recipe that obeys the run's
// rule text. Critique asks the generator to judge that recipe; a rejection
// sends the run back to Plan with the reason, until the configured attempt
// cap is exceeded, after which the last recipe is executed as is. Execute
// asks the generator for one tool call at a time, runs it, and records the
// result under the step key reported by the generator.
//
// # State
//
// Every transition is a method of the form
//
//	(ctx, Event, *WorkflowState) → (Event, error)
//
// The WorkflowState is created by the caller for exactly one run and passed
// explicitly; the Orchestrator itself holds only configuration and
// collaborators, so a single instance serves concurrent runs.
//
// # Errors
//
// Failures surface as *RunError values classified by ErrorKind. Critique
// rejections never escape the package. Reaching the iteration cap ends the
// run normally with the last tool result.
package orchestrator
