package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
	"github.com/fyrsmithlabs/recipeflow/internal/generator"
	"github.com/fyrsmithlabs/recipeflow/internal/generator/generatortest"
	"github.com/fyrsmithlabs/recipeflow/internal/logging"
	"github.com/fyrsmithlabs/recipeflow/internal/telemetry"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
	"github.com/fyrsmithlabs/recipeflow/internal/tools/arith"
)

const (
	pemdas = "Evaluate parentheses first, then exponents, then multiplication and division left to right, then addition and subtraction left to right."

	precedencePlan = "Here you go:\n<recipe>\nstep1: multiply 3 and 4\nstep2: add 2 and result_of_step_1\n</recipe>"
	approve        = `{"isValid": true}`
)

func directive(tool, params string, step int, final bool) string {
	var b strings.Builder
	b.WriteString(`{"toolName": "` + tool + `", "parameters": ` + params + `, "step": `)
	b.WriteString(itoa(step))
	if final {
		b.WriteString(`, "isFinalStep": true}`)
	} else {
		b.WriteString(`, "isFinalStep": false}`)
	}
	return b.String()
}

func itoa(n int) string {
	return extraction.Number(float64(n)).String()
}

func newTestOrchestrator(t *testing.T, gen generator.Generator, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(gen, arith.Registry(), opts...)
	require.NoError(t, err)
	return o
}

func start(goal string) PlanPayload {
	return PlanPayload{Goal: goal, RuleText: pemdas}
}

func TestRun_PrecedenceEndToEnd(t *testing.T) {
	gen := generatortest.Texts(
		precedencePlan,
		approve,
		directive(arith.Multiply, `{"num1": 3, "num2": 4}`, 1, false),
		"Next step: "+directive(arith.Add, `{"num1": 2, "num2": 12}`, 2, true),
	)
	o := newTestOrchestrator(t, gen)
	st := NewWorkflowState()

	done, err := o.Run(context.Background(), start("2 + 3 * 4"), st)
	require.NoError(t, err)

	n, ok := done.FinalResult.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 14.0, n)

	assert.Equal(t, "2 + 3 * 4", done.Goal)
	assert.Equal(t, pemdas, done.RuleText)
	assert.Len(t, done.Tools, 4)
	assert.Less(t, strings.Index(done.Plan, "multiply 3 and 4"), strings.Index(done.Plan, "add 2"))
	assert.NotContains(t, done.Plan, "<recipe>")

	assert.Equal(t, 1, st.CritiqueAttempts, "approval does not count an attempt")
	assert.Equal(t, 3, st.StepNumber)
	assert.Equal(t, []string{"step1", "step2"}, st.Keys())

	calls := gen.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, []string{"Chat", "Chat", "GenerateText", "GenerateText"},
		[]string{calls[0].Method, calls[1].Method, calls[2].Method, calls[3].Method})
	assert.Contains(t, calls[0].Messages[0].Content, "* multiply_numbers: ")
	assert.Contains(t, calls[0].Messages[0].Content, pemdas)
	assert.Contains(t, calls[0].Messages[1].Content, "2 + 3 * 4")
	assert.Contains(t, calls[1].Messages[0].Content, "step1: multiply 3 and 4")
	assert.Contains(t, calls[3].Prompt, "step1 result: 12")
}

func TestCritique_ApprovalGoesToExecute(t *testing.T) {
	o := newTestOrchestrator(t, generatortest.Texts(approve))
	st := NewWorkflowState()

	next, err := o.step(context.Background(), NewEvent(CritiquePayload{Goal: "g", RuleText: "r", Plan: "p"}), st)
	require.NoError(t, err)
	assert.Equal(t, StateExecute, next.State)
	assert.Equal(t, ExecutePayload{Goal: "g", RuleText: "r", Plan: "p"}, next.Payload)
	assert.Equal(t, 1, st.CritiqueAttempts)
}

func TestCritique_RejectionReturnsToPlan(t *testing.T) {
	o := newTestOrchestrator(t, generatortest.Texts(
		`{"isValid": false, "reason": "addition before multiplication"}`,
		`{"isValid": false, "reason": "second problem"}`,
	))
	st := NewWorkflowState()
	in := NewEvent(CritiquePayload{Goal: "g", RuleText: "r", Plan: "p"})

	for i, reason := range []string{"addition before multiplication", "second problem"} {
		next, err := o.step(context.Background(), in, st)
		require.NoError(t, err)
		require.Equal(t, StatePlan, next.State)
		assert.Equal(t, reason, next.Payload.(PlanPayload).CritiqueReason)
		assert.Equal(t, "g", next.Payload.(PlanPayload).Goal)
		assert.Equal(t, i+2, st.CritiqueAttempts, "exactly one attempt per rejection")
	}
}

func TestCritique_MissingVerdictIsRejection(t *testing.T) {
	o := newTestOrchestrator(t, generatortest.Texts("I think it looks fine"))
	st := NewWorkflowState()

	next, err := o.step(context.Background(), NewEvent(CritiquePayload{Plan: "p"}), st)
	require.NoError(t, err)
	assert.Equal(t, StatePlan, next.State)
	assert.Equal(t, extraction.MissingVerdictReason, next.Payload.(PlanPayload).CritiqueReason)
	assert.Equal(t, 2, st.CritiqueAttempts)
}

func TestRun_CritiqueAlwaysRejects(t *testing.T) {
	logger := logging.NewTestLogger()
	gen := generatortest.Texts(
		"<recipe>plan one</recipe>", `{"isValid": false, "reason": "r1"}`,
		"<recipe>plan two</recipe>", `{"isValid": false, "reason": "r2"}`,
		"<recipe>plan three</recipe>", `{"isValid": false, "reason": "r3"}`,
		directive(arith.Add, `{"num1": 1, "num2": 1}`, 1, true),
	)
	o := newTestOrchestrator(t, gen, WithLogger(logger.Logger))
	st := NewWorkflowState()

	done, err := o.Run(context.Background(), start("1 + 1"), st)
	require.NoError(t, err)

	assert.Equal(t, 4, st.CritiqueAttempts)
	assert.Equal(t, "plan three", done.Plan, "the last generated plan is executed")
	assert.Equal(t, 0, gen.Remaining())

	calls := gen.Calls()
	require.Len(t, calls, 7)
	assert.NotContains(t, calls[0].Messages[1].Content, "failed validation")
	assert.True(t, strings.HasPrefix(calls[2].Messages[1].Content,
		"The previous instructions failed validation due to: r1\nRegenerate the instructions carefully."))
	assert.Contains(t, calls[4].Messages[1].Content, "due to: r2")
	assert.Contains(t, calls[6].Prompt, "plan three")

	logger.AssertLogged(t, zapcore.WarnLevel, "critique attempts exhausted")
	logger.AssertField(t, "critique attempts exhausted", "reason", "r3")
}

func TestRun_MissingToolNameIsToolNotFound(t *testing.T) {
	gen := generatortest.Texts(
		precedencePlan,
		approve,
		directive(arith.Multiply, `{"num1": 3, "num2": 4}`, 1, false),
		`{"parameters": {"num1": 2, "num2": 12}, "step": 2, "isFinalStep": true}`,
	)
	o := newTestOrchestrator(t, gen)
	st := NewWorkflowState()

	_, err := o.Run(context.Background(), start("2 + 3 * 4"), st)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.Equal(t, KindToolNotFound, KindOf(err))
	assert.False(t, KindOf(err).Retryable())

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, StateExecute, re.State)
	assert.Equal(t, 2, re.Step)

	v, ok := st.Result("step1")
	require.True(t, ok, "earlier results stay in the discarded state")
	n, _ := v.AsNumber()
	assert.Equal(t, 12.0, n)
}

func TestRun_IterationCap(t *testing.T) {
	logger := logging.NewTestLogger()
	cfg := DefaultConfig()
	cfg.MaxIterations = 3

	replies := []string{precedencePlan, approve}
	for i := 1; i <= cfg.MaxIterations+1; i++ {
		replies = append(replies, directive(arith.Add, `{"num1": `+itoa(i)+`, "num2": 0}`, i, false))
	}
	gen := generatortest.Texts(replies...)
	o := newTestOrchestrator(t, gen, WithConfig(cfg), WithLogger(logger.Logger))
	st := NewWorkflowState()

	done, err := o.Run(context.Background(), start("count"), st)
	require.NoError(t, err, "reaching the cap is not an error")

	assert.Equal(t, 0, gen.Remaining(), "exactly MaxIterations+1 cycles ran")
	assert.Equal(t, cfg.MaxIterations+2, st.StepNumber)
	n, _ := done.FinalResult.AsNumber()
	assert.Equal(t, 4.0, n)
	logger.AssertField(t, "iteration cap reached", "iteration_cap", true)
}

func TestRun_StepKeyCollisionOverwrites(t *testing.T) {
	gen := generatortest.Texts(
		precedencePlan,
		approve,
		directive(arith.Multiply, `{"num1": 3, "num2": 4}`, 1, false),
		directive(arith.Add, `{"num1": 3, "num2": 4}`, 1, true),
	)
	o := newTestOrchestrator(t, gen)
	st := NewWorkflowState()

	_, err := o.Run(context.Background(), start("x"), st)
	require.NoError(t, err)

	assert.Equal(t, []string{"step1"}, st.Keys())
	v, _ := st.Result("step1")
	n, _ := v.AsNumber()
	assert.Equal(t, 7.0, n, "last write wins")
	assert.Equal(t, 3, st.StepNumber, "the counter advances independently of reported steps")
}

func TestRun_MissingStepUsesCounter(t *testing.T) {
	gen := generatortest.Texts(
		precedencePlan,
		approve,
		`{"toolName": "add_numbers", "parameters": {"num1": 1, "num2": 2}, "isFinalStep": true}`,
	)
	st := NewWorkflowState()
	_, err := newTestOrchestrator(t, gen).Run(context.Background(), start("1 + 2"), st)
	require.NoError(t, err)
	assert.Equal(t, []string{"step1"}, st.Keys())
}

func TestRun_ToolFailure(t *testing.T) {
	gen := generatortest.Texts(
		precedencePlan,
		approve,
		directive(arith.Divide, `{"num1": 1, "num2": 0}`, 1, true),
	)
	_, err := newTestOrchestrator(t, gen).Run(context.Background(), start("1 / 0"), NewWorkflowState())
	require.Error(t, err)
	assert.Equal(t, KindToolFailed, KindOf(err))
	assert.ErrorIs(t, err, arith.ErrDivideByZero)
	assert.ErrorIs(t, err, ErrToolFailed)
}

func TestRun_NonFiniteResultIsToolFailure(t *testing.T) {
	gen := generatortest.Texts(
		precedencePlan,
		approve,
		directive(arith.Multiply, `{"num1": "1e308", "num2": 10}`, 1, true),
	)
	_, err := newTestOrchestrator(t, gen).Run(context.Background(), start("1e308 * 10"), NewWorkflowState())
	require.Error(t, err)
	assert.Equal(t, KindToolFailed, KindOf(err))
	assert.ErrorIs(t, err, arith.ErrNotFinite)

	gen = generatortest.Texts(
		precedencePlan,
		approve,
		directive(arith.Add, `{"num1": "NaN", "num2": 1}`, 1, true),
	)
	_, err = newTestOrchestrator(t, gen).Run(context.Background(), start("NaN + 1"), NewWorkflowState())
	require.Error(t, err)
	assert.ErrorIs(t, err, arith.ErrNotNumeric)
}

func TestRun_FractionalStepKeepsOwnKey(t *testing.T) {
	gen := generatortest.Texts(
		precedencePlan,
		approve,
		`{"toolName": "multiply_numbers", "parameters": {"num1": 3, "num2": 4}, "step": 2.5}`,
		directive(arith.Add, `{"num1": 2, "num2": 12}`, 2, true),
	)
	st := NewWorkflowState()
	_, err := newTestOrchestrator(t, gen).Run(context.Background(), start("x"), st)
	require.NoError(t, err)

	assert.Equal(t, []string{"step2", "step2.5"}, st.Keys())
	v, _ := st.Result("step2.5")
	n, _ := v.AsNumber()
	assert.Equal(t, 12.0, n)
}

func TestRun_ToolPanic(t *testing.T) {
	boom := tools.NewFunc(tools.ToolSpec{Name: "boom", Description: "Panics"},
		func(context.Context, extraction.Map) (extraction.Value, error) { panic("kaboom") })
	gen := generatortest.Texts(precedencePlan, approve, directive("boom", "{}", 1, true))

	o, err := New(gen, tools.MustRegistry(boom))
	require.NoError(t, err)

	_, err = o.Run(context.Background(), start("x"), NewWorkflowState())
	require.Error(t, err)
	assert.Equal(t, KindToolFailed, KindOf(err))
	assert.Contains(t, err.Error(), "kaboom")
}

func TestRun_GeneratorFailures(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		gen := generatortest.NewScripted(generatortest.Reply{Err: generator.ErrUnavailable})
		_, err := newTestOrchestrator(t, gen).Run(context.Background(), start("x"), NewWorkflowState())
		assert.Equal(t, KindGeneratorUnavailable, KindOf(err))
		assert.ErrorIs(t, err, ErrGeneratorUnavailable)
		assert.True(t, KindOf(err).Retryable())
	})

	t.Run("plan timeout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.GeneratorTimeout = 10 * time.Millisecond
		gen := generatortest.NewScripted(generatortest.Reply{Text: "late", Delay: time.Second})

		_, err := newTestOrchestrator(t, gen, WithConfig(cfg)).Run(context.Background(), start("x"), NewWorkflowState())
		assert.Equal(t, KindGeneratorUnavailable, KindOf(err))
		assert.ErrorIs(t, err, ErrCallTimeout)
		assert.True(t, KindOf(err).Retryable())
		assert.Len(t, gen.Calls(), 1, "plan timeouts are not retried")
	})
}

type failingExtractor struct{ extraction.Default }

func (failingExtractor) RecoverJSON(string) (extraction.Value, error) {
	return extraction.Value{}, extraction.ErrExtractionFailed
}

func TestRun_ExtractionFailed(t *testing.T) {
	gen := generatortest.Texts(precedencePlan, approve)
	o := newTestOrchestrator(t, gen, WithExtractor(failingExtractor{}))

	_, err := o.Run(context.Background(), start("x"), NewWorkflowState())
	assert.Equal(t, KindExtractionFailed, KindOf(err))
	assert.ErrorIs(t, err, ErrExtractionFailed)

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, StateCritique, re.State)
}

// blockingTool blocks until its context ends for the first `blocks` calls.
type blockingTool struct {
	blocks int32
	calls  atomic.Int32
}

func (b *blockingTool) Spec() tools.ToolSpec {
	return tools.ToolSpec{Name: "slow", Description: "Sometimes slow"}
}

func (b *blockingTool) Execute(ctx context.Context, _ extraction.Map) (extraction.Value, error) {
	if b.calls.Add(1) <= b.blocks {
		<-ctx.Done()
		return extraction.Value{}, ctx.Err()
	}
	return extraction.String("done"), nil
}

func TestRun_ExecuteCycleTimeoutRetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ToolTimeout = 20 * time.Millisecond
	cfg.MaxCycleRetries = 2

	t.Run("recovers", func(t *testing.T) {
		tel := telemetry.NewTestTelemetry()
		slow := &blockingTool{blocks: 1}
		gen := generatortest.Texts(precedencePlan, approve,
			directive("slow", "{}", 1, true),
			directive("slow", "{}", 1, true),
		)
		o, err := New(gen, tools.MustRegistry(slow), WithConfig(cfg), WithMeter(tel.Meter("test")))
		require.NoError(t, err)

		done, err := o.Run(context.Background(), start("x"), NewWorkflowState())
		require.NoError(t, err)
		assert.Equal(t, extraction.String("done"), done.FinalResult)
		assert.Equal(t, int32(2), slow.calls.Load())
		assert.Equal(t, int64(1), tel.CounterValue(t, "recipeflow.orchestrator.cycle_retries"))
	})

	t.Run("exhausted", func(t *testing.T) {
		slow := &blockingTool{blocks: 100}
		gen := generatortest.Texts(precedencePlan, approve,
			directive("slow", "{}", 1, true),
			directive("slow", "{}", 1, true),
			directive("slow", "{}", 1, true),
		)
		o, err := New(gen, tools.MustRegistry(slow), WithConfig(cfg))
		require.NoError(t, err)

		st := NewWorkflowState()
		_, err = o.Run(context.Background(), start("x"), st)
		require.Error(t, err)
		assert.Equal(t, KindTimeout, KindOf(err))
		assert.ErrorIs(t, err, ErrCallTimeout)
		assert.True(t, KindOf(err).Retryable())
		assert.Equal(t, int32(3), slow.calls.Load(), "one attempt plus MaxCycleRetries")
		assert.Empty(t, st.Keys())
	})
}

func TestRun_Canceled(t *testing.T) {
	gen := generatortest.Texts(precedencePlan)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestOrchestrator(t, gen).Run(ctx, start("x"), NewWorkflowState())
	assert.Equal(t, KindCanceled, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, gen.Calls())
}

func TestRun_CanceledMidCall(t *testing.T) {
	gen := generatortest.NewScripted(generatortest.Reply{Text: "x", Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := newTestOrchestrator(t, gen).Run(ctx, start("x"), NewWorkflowState())
	assert.Equal(t, KindTimeout, KindOf(err), "the caller's own deadline is a timeout")
}

func TestRun_Progress(t *testing.T) {
	var got []Progress
	gen := generatortest.Texts(
		precedencePlan,
		`{"isValid": false, "reason": "nope"}`,
		precedencePlan,
		approve,
		directive(arith.Multiply, `{"num1": 3, "num2": 4}`, 1, false),
		directive(arith.Add, `{"num1": 2, "num2": 12}`, 2, true),
	)
	o := newTestOrchestrator(t, gen, WithProgress(func(p Progress) { got = append(got, p) }))

	ctx := logging.WithRunID(context.Background(), "run-1")
	_, err := o.Run(ctx, start("2 + 3 * 4"), NewWorkflowState())
	require.NoError(t, err)

	want := []Progress{
		{RunID: "run-1", State: StateCritique, StepNumber: 1, CritiqueAttempts: 1},
		{RunID: "run-1", State: StatePlan, StepNumber: 1, CritiqueAttempts: 2},
		{RunID: "run-1", State: StateCritique, StepNumber: 1, CritiqueAttempts: 2},
		{RunID: "run-1", State: StateExecute, StepNumber: 1, CritiqueAttempts: 2},
		{RunID: "run-1", State: StateExecute, StepNumber: 2, CritiqueAttempts: 2},
		{RunID: "run-1", State: StateDone, StepNumber: 3, CritiqueAttempts: 2},
	}
	assert.Equal(t, want, got)
}

func TestRun_PlanStream(t *testing.T) {
	var streamed strings.Builder
	gen := generatortest.Texts(
		precedencePlan,
		approve,
		directive(arith.Add, `{"num1": 1, "num2": 2}`, 1, true),
	)
	o := newTestOrchestrator(t, gen, WithPlanStream(func(chunk string) { streamed.WriteString(chunk) }))

	done, err := o.Run(context.Background(), start("1 + 2"), NewWorkflowState())
	require.NoError(t, err)

	assert.Equal(t, precedencePlan, streamed.String())
	assert.Equal(t, "StreamChat", gen.Calls()[0].Method)
	assert.Equal(t, "Chat", gen.Calls()[1].Method)
	assert.Contains(t, done.Plan, "step1: multiply 3 and 4")
}

func TestRun_Telemetry(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	gen := generatortest.Texts(
		precedencePlan,
		approve,
		directive(arith.Multiply, `{"num1": 3, "num2": 4}`, 1, false),
		directive(arith.Add, `{"num1": 2, "num2": 12}`, 2, true),
	)
	o := newTestOrchestrator(t, gen, WithTracer(tel.Tracer("test")), WithMeter(tel.Meter("test")))

	_, err := o.Run(context.Background(), start("2 + 3 * 4"), NewWorkflowState())
	require.NoError(t, err)

	tel.AssertSpanExists(t, "orchestrator.run")
	tel.AssertSpanExists(t, "orchestrator.plan")
	tel.AssertSpanExists(t, "orchestrator.critique")
	assert.Len(t, tel.SpansNamed("orchestrator.execute"), 2)

	assert.Equal(t, int64(4), tel.CounterValue(t, "recipeflow.orchestrator.transitions"))
	assert.Equal(t, int64(1), tel.CounterValue(t, "recipeflow.orchestrator.tool_calls",
		attribute.String("tool", arith.Add), attribute.String("outcome", "ok")))
	assert.Equal(t, int64(0), tel.CounterValue(t, "recipeflow.orchestrator.critique_rejections"))
}

func TestRun_NilState(t *testing.T) {
	_, err := newTestOrchestrator(t, generatortest.Texts()).Run(context.Background(), start("x"), nil)
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, arith.Registry())
	assert.Error(t, err)

	_, err = New(generatortest.Texts(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxIterations = 0
	_, err = New(generatortest.Texts(), arith.Registry(), WithConfig(cfg))
	assert.Error(t, err)
}

func TestDerive(t *testing.T) {
	base := newTestOrchestrator(t, generatortest.Texts())
	other := tools.MustRegistry(&blockingTool{})

	d, err := base.Derive(WithToolbox(other))
	require.NoError(t, err)
	assert.Same(t, other, d.Toolbox())
	assert.NotSame(t, other, base.Toolbox(), "the original is untouched")
}

func TestStep_MismatchedPayload(t *testing.T) {
	o := newTestOrchestrator(t, generatortest.Texts())
	_, err := o.step(context.Background(), Event{State: StateExecute, Payload: PlanPayload{}}, NewWorkflowState())
	assert.Equal(t, KindInternal, KindOf(err))
	assert.False(t, errors.Is(err, ErrToolNotFound))
}
