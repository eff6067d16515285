// Package harness runs one orchestration to completion and reports a
// structured result. It is the boundary between the orchestrator and every
// delivery surface (CLI, HTTP, MCP, Temporal).
package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
	"github.com/fyrsmithlabs/recipeflow/internal/logging"
	"github.com/fyrsmithlabs/recipeflow/internal/orchestrator"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
)

// Input starts a run.
type Input struct {
	Goal     string `json:"goal"`
	RuleText string `json:"rule_text"`

	// Tools overrides the harness tool set for this run when non-nil.
	Tools []tools.Tool `json:"-"`
}

// Output is the payload of a successful run.
type Output struct {
	Goal        string           `json:"goal"`
	RuleText    string           `json:"rule_text"`
	Tools       []tools.ToolSpec `json:"tools"`
	Plan        string           `json:"plan"`
	FinalResult extraction.Value `json:"final_result"`
}

// Failure describes why a run stopped.
type Failure struct {
	Kind      orchestrator.ErrorKind `json:"kind"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	State     orchestrator.State     `json:"state,omitempty"`
	Step      int                    `json:"step,omitempty"`
}

// Error implements error so a Failure can cross error-returning boundaries.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Result is the terminal outcome of a run. Exactly one of Output and
// Failure is set.
type Result struct {
	RunID    string        `json:"run_id"`
	Output   *Output       `json:"output,omitempty"`
	Failure  *Failure      `json:"failure,omitempty"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the run completed.
func (r Result) OK() bool { return r.Failure == nil && r.Output != nil }

// Observer is notified of run lifecycle events. Errors are logged and never
// affect the run.
type Observer interface {
	RunStarted(ctx context.Context, runID string, in Input) error
	RunProgress(ctx context.Context, p orchestrator.Progress) error
	RunCompleted(ctx context.Context, runID string, out Output) error
	RunFailed(ctx context.Context, runID string, f Failure) error
}

// Harness runs orchestrations.
type Harness struct {
	orch      *orchestrator.Orchestrator
	logger    *logging.Logger
	metrics   *Metrics
	observers []Observer
	newID     func() string
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(h *Harness) { h.metrics = m }
}

// WithObserver adds a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(h *Harness) { h.observers = append(h.observers, o) }
}

// WithIDGenerator replaces the run ID source.
func WithIDGenerator(fn func() string) Option {
	return func(h *Harness) { h.newID = fn }
}

// New creates a Harness around orch.
func New(orch *orchestrator.Orchestrator, opts ...Option) *Harness {
	h := &Harness{
		orch:   orch,
		logger: logging.NewNop(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = DefaultMetrics()
	}
	return h
}

// Tools describes the harness's default tool set.
func (h *Harness) Tools() []tools.ToolSpec {
	return h.orch.Toolbox().DescribeAll()
}

// Run drives one run to Done or failure. It never panics and never retries
// the whole run. Observers hear about a run only once it has passed input
// validation and been announced with RunStarted.
func (h *Harness) Run(ctx context.Context, in Input) (res Result) {
	runID := h.newID()
	ctx = logging.WithRunID(ctx, runID)
	started := time.Now()
	res.RunID = runID
	announced := false

	h.metrics.RunsInFlight.Inc()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(ctx, "run panicked", zap.Any("panic", r), zap.Stack("stack"))
			res.Output = nil
			res.Failure = &Failure{
				Kind:    orchestrator.KindInternal,
				Message: fmt.Sprintf("panic: %v", r),
			}
		}
		res.Duration = time.Since(started)
		h.metrics.RunsInFlight.Dec()
		h.finish(ctx, res, announced)
	}()

	if strings.TrimSpace(in.Goal) == "" {
		res.Failure = invalidInput("goal is required")
		return res
	}

	opts := []orchestrator.Option{
		orchestrator.WithProgress(func(p orchestrator.Progress) { h.progress(ctx, p) }),
	}
	if in.Tools != nil {
		reg, err := tools.NewRegistry(in.Tools...)
		if err != nil {
			res.Failure = invalidInput(err.Error())
			return res
		}
		opts = append(opts, orchestrator.WithToolbox(reg))
	}
	orch, err := h.orch.Derive(opts...)
	if err != nil {
		res.Failure = invalidInput(err.Error())
		return res
	}

	h.logger.Info(ctx, "run started", zap.String("goal", in.Goal))
	h.notify(ctx, "started", func(o Observer) error { return o.RunStarted(ctx, runID, in) })
	announced = true

	st := orchestrator.NewWorkflowState()
	done, err := orch.Run(ctx, orchestrator.PlanPayload{
		Goal:     in.Goal,
		RuleText: in.RuleText,
		Tools:    orch.Toolbox().DescribeAll(),
	}, st)
	if err != nil {
		res.Failure = FailureFrom(err)
		return res
	}

	res.Output = &Output{
		Goal:        done.Goal,
		RuleText:    done.RuleText,
		Tools:       done.Tools,
		Plan:        done.Plan,
		FinalResult: done.FinalResult,
	}
	return res
}

func (h *Harness) finish(ctx context.Context, res Result, announced bool) {
	h.metrics.RunDuration.Observe(res.Duration.Seconds())

	if res.Failure != nil {
		h.metrics.RunsTotal.WithLabelValues("failed").Inc()
		h.metrics.FailuresTotal.WithLabelValues(string(res.Failure.Kind)).Inc()
		h.logger.Warn(ctx, "run failed",
			zap.String("kind", string(res.Failure.Kind)),
			zap.String("message", res.Failure.Message),
			zap.Bool("retryable", res.Failure.Retryable),
			zap.Duration("duration", res.Duration))
		if announced {
			h.notify(ctx, "failed", func(o Observer) error { return o.RunFailed(ctx, res.RunID, *res.Failure) })
		}
		return
	}

	h.metrics.RunsTotal.WithLabelValues("completed").Inc()
	h.logger.Info(ctx, "run completed",
		zap.Stringer("final_result", res.Output.FinalResult),
		zap.Duration("duration", res.Duration))
	h.notify(ctx, "completed", func(o Observer) error { return o.RunCompleted(ctx, res.RunID, *res.Output) })
}

func (h *Harness) progress(ctx context.Context, p orchestrator.Progress) {
	h.notify(ctx, "progress", func(o Observer) error { return o.RunProgress(ctx, p) })
}

func (h *Harness) notify(ctx context.Context, event string, fn func(Observer) error) {
	for _, o := range h.observers {
		if err := h.callObserver(fn, o); err != nil {
			h.logger.Warn(ctx, "observer failed", zap.String("event", event), zap.Error(err))
		}
	}
}

// callObserver turns an observer panic into an error so the remaining
// observers still run.
func (h *Harness) callObserver(fn func(Observer) error, o Observer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return fn(o)
}

// FailureFrom converts an orchestrator error into a Failure.
func FailureFrom(err error) *Failure {
	kind := orchestrator.KindOf(err)
	f := &Failure{
		Kind:      kind,
		Message:   err.Error(),
		Retryable: kind.Retryable(),
	}
	var re *orchestrator.RunError
	if errors.As(err, &re) {
		f.State = re.State
		f.Step = re.Step
		f.Message = re.Err.Error()
	}
	return f
}

func invalidInput(msg string) *Failure {
	return &Failure{Kind: orchestrator.KindInvalidInput, Message: msg}
}
