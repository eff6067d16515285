package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
	"github.com/fyrsmithlabs/recipeflow/internal/generator"
	"github.com/fyrsmithlabs/recipeflow/internal/logging"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
)

// Toolbox resolves tools by exact name and describes them for prompts.
type Toolbox interface {
	Lookup(name string) (tools.Tool, error)
	DescribeAll() []tools.ToolSpec
}

// Orchestrator runs the plan, critique and execute state machine.
//
// It holds no per-run state; every run supplies its own WorkflowState.
type Orchestrator struct {
	cfg        Config
	gen        generator.Generator
	extractor  extraction.Extractor
	toolbox    Toolbox
	logger     *logging.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	metrics    *instruments
	progress   ProgressCallback
	planStream PlanStreamFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the run limits.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithExtractor replaces the default extractor.
func WithExtractor(e extraction.Extractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// WithToolbox replaces the tool set.
func WithToolbox(tb Toolbox) Option {
	return func(o *Orchestrator) { o.toolbox = tb }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer used for per-state spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMeter sets the meter used for orchestrator instruments.
func WithMeter(m metric.Meter) Option {
	return func(o *Orchestrator) { o.meter = m }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressCallback) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithPlanStream makes the Plan state stream its chat call through fn.
// Only the resolved text is used for the plan.
func WithPlanStream(fn PlanStreamFunc) Option {
	return func(o *Orchestrator) { o.planStream = fn }
}

// New creates an Orchestrator.
func New(gen generator.Generator, toolbox Toolbox, opts ...Option) (*Orchestrator, error) {
	if gen == nil {
		return nil, errors.New("orchestrator: generator is required")
	}
	o := &Orchestrator{
		cfg:       DefaultConfig(),
		gen:       gen,
		extractor: extraction.Default{},
		toolbox:   toolbox,
		logger:    logging.NewNop(),
		tracer:    tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:     metricnoop.NewMeterProvider().Meter(instrumentationName),
	}
	if err := o.apply(opts...); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) apply(opts ...Option) error {
	for _, opt := range opts {
		opt(o)
	}
	if o.toolbox == nil {
		return errors.New("orchestrator: toolbox is required")
	}
	if o.cfg.MaxIterations < 1 || o.cfg.MaxCritiqueAttempts < 1 || o.cfg.MaxCycleRetries < 0 {
		return fmt.Errorf("orchestrator: invalid limits %+v", o.cfg)
	}
	m, err := newInstruments(o.meter)
	if err != nil {
		return err
	}
	o.metrics = m
	return nil
}

// Derive returns a copy of o with opts applied. The copy shares collaborators
// with o; it is how callers scope a tool set or progress callback to one run.
func (o *Orchestrator) Derive(opts ...Option) (*Orchestrator, error) {
	c := *o
	if err := c.apply(opts...); err != nil {
		return nil, err
	}
	return &c, nil
}

// Config returns the run limits.
func (o *Orchestrator) Config() Config { return o.cfg }

// Toolbox returns the configured tool set.
func (o *Orchestrator) Toolbox() Toolbox { return o.toolbox }

// Run drives one run from Plan to Done.
//
// st must be fresh and is mutated in place; on failure it still holds the
// results recorded before the failing cycle.
func (o *Orchestrator) Run(ctx context.Context, start PlanPayload, st *WorkflowState) (DonePayload, error) {
	if st == nil {
		return DonePayload{}, newRunError(KindInvalidInput, StatePlan, nil, fmt.Errorf("%w: nil workflow state", ErrInvalidInput))
	}
	if start.Tools == nil {
		start.Tools = o.toolbox.DescribeAll()
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("recipeflow.run_id", logging.RunIDFromContext(ctx))))
	defer span.End()

	ev := NewEvent(start)
	retries := 0
	for {
		if ev.State == StateDone {
			done, ok := ev.Payload.(DonePayload)
			if !ok {
				return DonePayload{}, newRunError(KindInternal, StateDone, st, errors.New("done event without done payload"))
			}
			span.SetAttributes(attribute.Int("recipeflow.steps", st.StepNumber-1))
			return done, nil
		}

		if err := ctx.Err(); err != nil {
			rerr := newRunError(contextKind(err), ev.State, st, err)
			o.fail(ctx, span, rerr)
			return DonePayload{}, rerr
		}

		started := time.Now()
		next, err := o.step(ctx, ev, st)
		if err != nil {
			if o.retryCycle(ctx, ev, err, retries) {
				retries++
				o.metrics.cycleRetries.Add(ctx, 1)
				o.logger.Warn(ctx, "execute cycle timed out, retrying",
					zap.Int("step", st.StepNumber),
					zap.Int("retry", retries),
					zap.Error(err))
				continue
			}
			o.fail(ctx, span, err)
			return DonePayload{}, err
		}
		if ev.State == StateExecute {
			retries = 0
		}

		o.metrics.recordTransition(ctx, ev.State, next.State, time.Since(started).Seconds())
		o.logger.Debug(ctx, "transition",
			zap.String("from", string(ev.State)),
			zap.String("to", string(next.State)),
			zap.Int("step", st.StepNumber),
			zap.Int("critique_attempts", st.CritiqueAttempts))
		o.report(ctx, next.State, st)
		ev = next
	}
}

func (o *Orchestrator) retryCycle(ctx context.Context, ev Event, err error, retries int) bool {
	return ev.State == StateExecute &&
		KindOf(err) == KindTimeout &&
		retries < o.cfg.MaxCycleRetries &&
		ctx.Err() == nil
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(KindOf(err)))
	o.logger.Error(ctx, "run failed", zap.String("kind", string(KindOf(err))), zap.Error(err))
}

func (o *Orchestrator) report(ctx context.Context, state State, st *WorkflowState) {
	if o.progress == nil {
		return
	}
	o.progress(Progress{
		RunID:            logging.RunIDFromContext(ctx),
		State:            state,
		StepNumber:       st.StepNumber,
		CritiqueAttempts: st.CritiqueAttempts,
	})
}

// step handles one event and returns the next.
func (o *Orchestrator) step(ctx context.Context, ev Event, st *WorkflowState) (Event, error) {
	if ev.Payload == nil || ev.Payload.state() != ev.State {
		return Event{}, newRunError(KindInternal, ev.State, st, fmt.Errorf("event %q carries mismatched payload %T", ev.State, ev.Payload))
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator."+string(ev.State),
		trace.WithAttributes(
			attribute.Int("recipeflow.step", st.StepNumber),
			attribute.Int("recipeflow.critique_attempts", st.CritiqueAttempts),
		))
	defer span.End()

	var (
		next Event
		err  error
	)
	switch p := ev.Payload.(type) {
	case PlanPayload:
		next, err = o.plan(ctx, p, st)
	case CritiquePayload:
		next, err = o.critique(ctx, p, st)
	case ExecutePayload:
		next, err = o.execute(ctx, p, st)
	case DonePayload:
		next = ev
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Event{}, err
	}
	span.SetAttributes(attribute.String("recipeflow.next_state", string(next.State)))
	return next, nil
}

// plan asks for a recipe. It does not touch st.
func (o *Orchestrator) plan(ctx context.Context, p PlanPayload, st *WorkflowState) (Event, error) {
	msgs, err := PlanMessages(p)
	if err != nil {
		return Event{}, newRunError(KindInternal, StatePlan, st, err)
	}

	text, err := o.callGenerator(ctx, StatePlan, st, func(ctx context.Context) (string, error) {
		if o.planStream == nil {
			return o.gen.Chat(ctx, msgs)
		}
		return o.gen.StreamChat(ctx, msgs, func(_ context.Context, chunk string) error {
			o.planStream(chunk)
			return nil
		})
	})
	if err != nil {
		return Event{}, err
	}

	recipe := o.extractor.ExtractTagged(text, RecipeTag)
	o.logger.Debug(ctx, "plan generated", zap.Int("plan_bytes", len(recipe)))

	return NewEvent(CritiquePayload{
		Goal:     p.Goal,
		RuleText: p.RuleText,
		Tools:    p.Tools,
		Plan:     recipe,
	}), nil
}

// critique judges the recipe and either accepts it or sends the run back to Plan.
func (o *Orchestrator) critique(ctx context.Context, p CritiquePayload, st *WorkflowState) (Event, error) {
	msgs, err := CritiqueMessages(p)
	if err != nil {
		return Event{}, newRunError(KindInternal, StateCritique, st, err)
	}

	text, err := o.callGenerator(ctx, StateCritique, st, func(ctx context.Context) (string, error) {
		return o.gen.Chat(ctx, msgs)
	})
	if err != nil {
		return Event{}, err
	}

	v, err := o.extractor.RecoverJSON(text)
	if err != nil {
		return Event{}, newRunError(KindExtractionFailed, StateCritique, st, err)
	}
	verdict := extraction.DecodeVerdict(v)

	execute := NewEvent(ExecutePayload{
		Goal:     p.Goal,
		RuleText: p.RuleText,
		Tools:    p.Tools,
		Plan:     p.Plan,
	})
	if verdict.IsValid {
		o.logger.Info(ctx, "plan accepted", zap.Int("critique_attempts", st.CritiqueAttempts))
		return execute, nil
	}

	o.metrics.rejections.Add(ctx, 1)
	st.IncrementCritiqueAttempts()

	if st.CritiqueAttempts > o.cfg.MaxCritiqueAttempts {
		o.logger.Warn(ctx, "critique attempts exhausted, executing last plan",
			zap.String("kind", string(KindCritiqueRejected)),
			zap.String("reason", verdict.Reason),
			zap.Int("critique_attempts", st.CritiqueAttempts),
			zap.Int("max_critique_attempts", o.cfg.MaxCritiqueAttempts))
		return execute, nil
	}

	o.logger.Info(ctx, "plan rejected, regenerating",
		zap.String("reason", verdict.Reason),
		zap.Int("critique_attempts", st.CritiqueAttempts))

	return NewEvent(PlanPayload{
		Goal:           p.Goal,
		RuleText:       p.RuleText,
		Tools:          p.Tools,
		CritiqueReason: verdict.Reason,
	}), nil
}

// execute runs one tool call chosen by the generator.
func (o *Orchestrator) execute(ctx context.Context, p ExecutePayload, st *WorkflowState) (Event, error) {
	prompt, err := ExecutePrompt(p, st)
	if err != nil {
		return Event{}, newRunError(KindInternal, StateExecute, st, err)
	}

	text, err := o.callGenerator(ctx, StateExecute, st, func(ctx context.Context) (string, error) {
		return o.gen.GenerateText(ctx, prompt)
	})
	if err != nil {
		return Event{}, err
	}

	v, err := o.extractor.RecoverJSON(text)
	if err != nil {
		return Event{}, newRunError(KindExtractionFailed, StateExecute, st, err)
	}
	directive := extraction.DecodeDirective(v, st.StepNumber)

	tool, err := o.toolbox.Lookup(directive.ToolName)
	if err != nil {
		o.metrics.recordToolCall(ctx, directive.ToolName, "not_found")
		return Event{}, newRunError(KindToolNotFound, StateExecute, st, err)
	}

	result, err := o.callTool(ctx, st, tool, directive.Parameters)
	if err != nil {
		o.metrics.recordToolCall(ctx, directive.ToolName, string(KindOf(err)))
		return Event{}, err
	}
	o.metrics.recordToolCall(ctx, directive.ToolName, "ok")

	key := DirectiveKey(directive)
	st.RecordResult(key, result)
	current := st.StepNumber
	st.IncrementStep()

	o.logger.Info(ctx, "step executed",
		zap.String("tool", directive.ToolName),
		zap.String("step_key", key),
		zap.Int("step", current),
		zap.Bool("final", directive.IsFinalStep))

	done := NewEvent(DonePayload{
		Goal:        p.Goal,
		RuleText:    p.RuleText,
		Tools:       p.Tools,
		Plan:        p.Plan,
		FinalResult: result,
	})
	if directive.IsFinalStep {
		return done, nil
	}
	if current > o.cfg.MaxIterations {
		o.logger.Info(ctx, "iteration cap reached, finishing with last result",
			zap.Bool("iteration_cap", true),
			zap.Int("max_iterations", o.cfg.MaxIterations))
		return done, nil
	}
	return NewEvent(p), nil
}

func (o *Orchestrator) callGenerator(ctx context.Context, state State, st *WorkflowState, call func(context.Context) (string, error)) (string, error) {
	callCtx, cancel := withTimeout(ctx, o.cfg.GeneratorTimeout)
	defer cancel()

	text, err := call(callCtx)
	if err != nil {
		return "", callError(ctx, callCtx, state, st, err, KindGeneratorUnavailable)
	}
	return text, nil
}

func (o *Orchestrator) callTool(ctx context.Context, st *WorkflowState, tool tools.Tool, params extraction.Map) (result extraction.Value, err error) {
	callCtx, cancel := withTimeout(ctx, o.cfg.ToolTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = newRunError(KindToolFailed, StateExecute, st,
				fmt.Errorf("%s: %w: panic: %v", tool.Spec().Name, ErrToolFailed, r))
		}
	}()

	result, err = tool.Execute(callCtx, params)
	if err != nil {
		return extraction.Value{}, callError(ctx, callCtx, StateExecute, st, fmt.Errorf("%s: %w", tool.Spec().Name, err), KindToolFailed)
	}
	return result, nil
}

// callError classifies a failed generator or tool call. A per-call timeout is
// KindTimeout in Execute, where the cycle can be retried, and
// KindGeneratorUnavailable elsewhere.
func callError(ctx, callCtx context.Context, state State, st *WorkflowState, err error, kind ErrorKind) *RunError {
	if parentErr := ctx.Err(); parentErr != nil {
		return newRunError(contextKind(parentErr), state, st, err)
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		timeoutErr := fmt.Errorf("%w: %w", ErrCallTimeout, err)
		if state == StateExecute {
			return newRunError(KindTimeout, state, st, timeoutErr)
		}
		return newRunError(KindGeneratorUnavailable, state, st, timeoutErr)
	}
	return newRunError(kind, state, st, err)
}

func contextKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindCanceled
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
