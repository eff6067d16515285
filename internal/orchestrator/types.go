package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/recipeflow/internal/config"
	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
)

// State tags a point in the run.
type State string

const (
	// StatePlan asks the generator for a recipe.
	StatePlan State = "plan"

	// StateCritique asks the generator to judge the recipe.
	StateCritique State = "critique"

	// StateExecute runs one tool call chosen by the generator.
	StateExecute State = "execute"

	// StateDone is terminal.
	StateDone State = "done"
)

// AllStates returns every state in nominal order.
func AllStates() []State {
	return []State{StatePlan, StateCritique, StateExecute, StateDone}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateDone }

// Payload is the data carried by an Event. The set is closed.
type Payload interface {
	state() State
}

// PlanPayload starts or restarts planning.
type PlanPayload struct {
	Goal           string           `json:"goal"`
	RuleText       string           `json:"rule_text"`
	Tools          []tools.ToolSpec `json:"tools"`
	CritiqueReason string           `json:"critique_reason,omitempty"`
}

// CritiquePayload carries a freshly generated recipe.
type CritiquePayload struct {
	Goal     string           `json:"goal"`
	RuleText string           `json:"rule_text"`
	Tools    []tools.ToolSpec `json:"tools"`
	Plan     string           `json:"plan"`
}

// ExecutePayload carries the accepted recipe through every execute cycle.
type ExecutePayload struct {
	Goal     string           `json:"goal"`
	RuleText string           `json:"rule_text"`
	Tools    []tools.ToolSpec `json:"tools"`
	Plan     string           `json:"plan"`
}

// DonePayload is the terminal result of a run.
type DonePayload struct {
	Goal        string           `json:"goal"`
	RuleText    string           `json:"rule_text"`
	Tools       []tools.ToolSpec `json:"tools"`
	Plan        string           `json:"plan"`
	FinalResult extraction.Value `json:"final_result"`
}

func (PlanPayload) state() State     { return StatePlan }
func (CritiquePayload) state() State { return StateCritique }
func (ExecutePayload) state() State  { return StateExecute }
func (DonePayload) state() State     { return StateDone }

// Event pairs a state tag with its payload.
type Event struct {
	State   State
	Payload Payload
}

// NewEvent tags p with its own state.
func NewEvent(p Payload) Event {
	return Event{State: p.state(), Payload: p}
}

// Progress is reported after every transition. It never carries step results.
type Progress struct {
	RunID            string `json:"run_id"`
	State            State  `json:"state"`
	StepNumber       int    `json:"step_number"`
	CritiqueAttempts int    `json:"critique_attempts"`
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(Progress)

// PlanStreamFunc receives plan tokens as the generator produces them.
type PlanStreamFunc func(chunk string)

// Config bounds a run.
type Config struct {
	MaxIterations       int
	MaxCritiqueAttempts int
	MaxCycleRetries     int
	GeneratorTimeout    time.Duration
	ToolTimeout         time.Duration
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       30,
		MaxCritiqueAttempts: 3,
		MaxCycleRetries:     2,
		GeneratorTimeout:    60 * time.Second,
		ToolTimeout:         10 * time.Second,
	}
}

// FromSettings converts loaded configuration, keeping defaults for unset values.
func FromSettings(s config.OrchestratorConfig) Config {
	c := DefaultConfig()
	if s.MaxIterations > 0 {
		c.MaxIterations = s.MaxIterations
	}
	if s.MaxCritiqueAttempts > 0 {
		c.MaxCritiqueAttempts = s.MaxCritiqueAttempts
	}
	if s.MaxCycleRetries > 0 {
		c.MaxCycleRetries = s.MaxCycleRetries
	}
	if d := s.GeneratorTimeout.Duration(); d > 0 {
		c.GeneratorTimeout = d
	}
	if d := s.ToolTimeout.Duration(); d > 0 {
		c.ToolTimeout = d
	}
	return c
}
