package harness

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
	"github.com/fyrsmithlabs/recipeflow/internal/generator"
	"github.com/fyrsmithlabs/recipeflow/internal/generator/generatortest"
	"github.com/fyrsmithlabs/recipeflow/internal/logging"
	"github.com/fyrsmithlabs/recipeflow/internal/orchestrator"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
	"github.com/fyrsmithlabs/recipeflow/internal/tools/arith"
)

const (
	plan    = "<recipe>\nstep1: multiply 3 and 4\nstep2: add 2 and result_of_step_1\n</recipe>"
	approve = `{"isValid": true}`
	step1   = `{"toolName": "multiply_numbers", "parameters": {"num1": 3, "num2": 4}, "step": 1, "isFinalStep": false}`
	step2   = `{"toolName": "add_numbers", "parameters": {"num1": 2, "num2": 12}, "step": 2, "isFinalStep": true}`
)

type recordingObserver struct {
	mu        sync.Mutex
	events    []string
	progress  []orchestrator.Progress
	output    *Output
	failure   *Failure
	failWith  error
	startedIn Input
}

func (r *recordingObserver) record(event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.failWith
}

func (r *recordingObserver) RunStarted(_ context.Context, _ string, in Input) error {
	r.startedIn = in
	return r.record("started")
}

func (r *recordingObserver) RunProgress(_ context.Context, p orchestrator.Progress) error {
	r.progress = append(r.progress, p)
	return r.record("progress")
}

func (r *recordingObserver) RunCompleted(_ context.Context, _ string, out Output) error {
	r.output = &out
	return r.record("completed")
}

func (r *recordingObserver) RunFailed(_ context.Context, _ string, f Failure) error {
	r.failure = &f
	return r.record("failed")
}

type fixture struct {
	harness  *Harness
	gen      *generatortest.Scripted
	metrics  *Metrics
	observer *recordingObserver
	logger   *logging.TestLogger
}

func newFixture(t *testing.T, gen generator.Generator, opts ...Option) *fixture {
	t.Helper()
	o, err := orchestrator.New(gen, arith.Registry())
	require.NoError(t, err)

	f := &fixture{
		metrics:  NewMetrics(prometheus.NewRegistry()),
		observer: &recordingObserver{},
		logger:   logging.NewTestLogger(),
	}
	if s, ok := gen.(*generatortest.Scripted); ok {
		f.gen = s
	}
	opts = append([]Option{
		WithMetrics(f.metrics),
		WithObserver(f.observer),
		WithLogger(f.logger.Logger),
		WithIDGenerator(func() string { return "run-1" }),
	}, opts...)
	f.harness = New(o, opts...)
	return f
}

func TestRun_Completes(t *testing.T) {
	f := newFixture(t, generatortest.Texts(plan, approve, step1, step2))

	res := f.harness.Run(context.Background(), Input{Goal: "2 + 3 * 4", RuleText: "PEMDAS"})
	require.True(t, res.OK(), "failure: %+v", res.Failure)
	assert.Nil(t, res.Failure)
	assert.Equal(t, "run-1", res.RunID)
	assert.Positive(t, res.Duration)

	n, ok := res.Output.FinalResult.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 14.0, n)
	assert.Equal(t, "2 + 3 * 4", res.Output.Goal)
	assert.Equal(t, "PEMDAS", res.Output.RuleText)
	assert.Len(t, res.Output.Tools, 4)

	assert.Equal(t, []string{"started", "progress", "progress", "progress", "progress", "completed"}, f.observer.events)
	assert.Equal(t, "run-1", f.observer.progress[0].RunID)
	assert.Equal(t, res.Output, f.observer.output)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.RunsInFlight))
	f.logger.AssertField(t, "run completed", "run.id", "run-1")
}

func TestRun_FailureIsStructured(t *testing.T) {
	f := newFixture(t, generatortest.Texts(plan, approve, step1, `{"step": 2}`))

	res := f.harness.Run(context.Background(), Input{Goal: "2 + 3 * 4"})
	require.False(t, res.OK())
	assert.Nil(t, res.Output)
	require.NotNil(t, res.Failure)

	assert.Equal(t, orchestrator.KindToolNotFound, res.Failure.Kind)
	assert.False(t, res.Failure.Retryable)
	assert.Equal(t, orchestrator.StateExecute, res.Failure.State)
	assert.Equal(t, 2, res.Failure.Step)
	assert.Contains(t, res.Failure.Message, "tool not found")

	assert.Equal(t, "failed", f.observer.events[len(f.observer.events)-1])
	assert.Equal(t, res.Failure, f.observer.failure)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FailuresTotal.WithLabelValues("tool_not_found")))
}

func TestRun_GeneratorUnavailableIsRetryable(t *testing.T) {
	f := newFixture(t, generatortest.NewScripted(generatortest.Reply{Err: generator.ErrUnavailable}))

	res := f.harness.Run(context.Background(), Input{Goal: "1 + 1"})
	require.NotNil(t, res.Failure)
	assert.Equal(t, orchestrator.KindGeneratorUnavailable, res.Failure.Kind)
	assert.True(t, res.Failure.Retryable)
	assert.Equal(t, orchestrator.StatePlan, res.Failure.State)
}

func TestRun_InvalidInput(t *testing.T) {
	dup := arith.Tools()
	dup = append(dup, dup[0])

	tests := []struct {
		name string
		in   Input
	}{
		{"empty goal", Input{Goal: "  "}},
		{"duplicate tools", Input{Goal: "x", Tools: dup}},
		{"unnamed tool", Input{Goal: "x", Tools: []tools.Tool{tools.NewFunc(tools.ToolSpec{}, nil)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, generatortest.Texts())
			res := f.harness.Run(context.Background(), tt.in)
			require.NotNil(t, res.Failure)
			assert.Equal(t, orchestrator.KindInvalidInput, res.Failure.Kind)
			assert.False(t, res.Failure.Retryable)
			assert.Empty(t, f.gen.Calls())
			assert.Empty(t, f.observer.events, "unannounced runs are not reported")
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FailuresTotal.WithLabelValues("invalid_input")))
		})
	}
}

func TestRun_PerRunTools(t *testing.T) {
	echo := tools.NewFunc(
		tools.ToolSpec{Name: "echo", Description: "Echoes its text", Parameters: []tools.ParamSpec{{Name: "text", Purpose: "what to echo"}}},
		func(_ context.Context, p extraction.Map) (extraction.Value, error) { return p["text"], nil },
	)
	f := newFixture(t, generatortest.Texts(
		"<recipe>step1: echo hi</recipe>",
		approve,
		`{"toolName": "echo", "parameters": {"text": "hi"}, "step": 1, "isFinalStep": true}`,
	))

	res := f.harness.Run(context.Background(), Input{Goal: "say hi", Tools: []tools.Tool{echo}})
	require.True(t, res.OK(), "failure: %+v", res.Failure)
	assert.Equal(t, extraction.String("hi"), res.Output.FinalResult)
	require.Len(t, res.Output.Tools, 1)
	assert.Equal(t, "echo", res.Output.Tools[0].Name)

	assert.Len(t, f.harness.Tools(), 4, "the default tool set is unchanged")
	assert.NotContains(t, f.gen.Calls()[0].Messages[0].Content, "multiply_numbers")
}

type panickingGenerator struct{ *generatortest.Scripted }

func (panickingGenerator) Chat(context.Context, []generator.Message, ...generator.CallOption) (string, error) {
	panic("generator exploded")
}

func TestRun_RecoversPanics(t *testing.T) {
	f := newFixture(t, panickingGenerator{generatortest.Texts()})

	var res Result
	require.NotPanics(t, func() {
		res = f.harness.Run(context.Background(), Input{Goal: "x"})
	})
	require.NotNil(t, res.Failure)
	assert.Equal(t, orchestrator.KindInternal, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "generator exploded")
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.RunsInFlight))
	f.logger.AssertLogged(t, zapcore.ErrorLevel, "run panicked")
}

func TestRun_ObserverErrorsDoNotFailRun(t *testing.T) {
	f := newFixture(t, generatortest.Texts(plan, approve, step1, step2))
	f.observer.failWith = errors.New("nats down")

	res := f.harness.Run(context.Background(), Input{Goal: "2 + 3 * 4"})
	assert.True(t, res.OK())
	f.logger.AssertLogged(t, zapcore.WarnLevel, "observer failed")
}

type panickingObserver struct{ recordingObserver }

func (p *panickingObserver) RunProgress(context.Context, orchestrator.Progress) error {
	panic("progress boom")
}

func (p *panickingObserver) RunCompleted(context.Context, string, Output) error {
	panic("boom")
}

func TestRun_ObserverPanicsAreContained(t *testing.T) {
	after := &recordingObserver{}
	f := newFixture(t, generatortest.Texts(plan, approve, step1, step2),
		WithObserver(&panickingObserver{}), WithObserver(after))

	var res Result
	require.NotPanics(t, func() {
		res = f.harness.Run(context.Background(), Input{Goal: "2 + 3 * 4"})
	})
	require.True(t, res.OK(), "failure: %+v", res.Failure)
	assert.Equal(t, "completed", after.events[len(after.events)-1])
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.RunsInFlight))
	f.logger.AssertLogged(t, zapcore.WarnLevel, "observer failed")
}

func TestRun_NonFiniteResultEncodes(t *testing.T) {
	overflow := tools.NewFunc(
		tools.ToolSpec{Name: "overflow", Description: "Returns infinity"},
		func(context.Context, extraction.Map) (extraction.Value, error) {
			return extraction.Number(math.Inf(1)), nil
		},
	)
	f := newFixture(t, generatortest.Texts(
		"<recipe>step1: overflow</recipe>",
		approve,
		`{"toolName": "overflow", "parameters": {}, "step": 1, "isFinalStep": true}`,
	))

	res := f.harness.Run(context.Background(), Input{Goal: "overflow", Tools: []tools.Tool{overflow}})
	require.True(t, res.OK(), "failure: %+v", res.Failure)

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"final_result":"+Inf"`)
}

func TestRun_Canceled(t *testing.T) {
	f := newFixture(t, generatortest.Texts(plan))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.harness.Run(ctx, Input{Goal: "x"})
	require.NotNil(t, res.Failure)
	assert.Equal(t, orchestrator.KindCanceled, res.Failure.Kind)
	assert.False(t, res.Failure.Retryable)
}

func TestFailureFrom(t *testing.T) {
	f := FailureFrom(errors.New("boom"))
	assert.Equal(t, orchestrator.KindInternal, f.Kind)
	assert.Equal(t, "boom", f.Message)
	assert.Equal(t, "internal: boom", f.Error())
}
