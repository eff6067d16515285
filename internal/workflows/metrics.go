package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/recipeflow/internal/harness"
)

const instrumentationName = "github.com/fyrsmithlabs/recipeflow/internal/workflows"

var (
	solveCounter     metric.Int64Counter
	activityAttempts metric.Int64Counter
	activityDuration metric.Float64Histogram
)

func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	solveCounter, err = meter.Int64Counter(
		"recipeflow.workflows.solve.executions",
		metric.WithDescription("Total number of solve workflow executions by outcome"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create solve counter: %v", err))
	}

	activityAttempts, err = meter.Int64Counter(
		"recipeflow.workflows.activity.attempts",
		metric.WithDescription("Number of recipe activity attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity attempt counter: %v", err))
	}

	activityDuration, err = meter.Float64Histogram(
		"recipeflow.workflows.activity.duration",
		metric.WithDescription("Duration of recipe activity attempts"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}
}

func init() {
	initMetrics()
}

func outcome(res harness.Result) string {
	if res.Failure != nil {
		return string(res.Failure.Kind)
	}
	return "completed"
}

func recordActivity(ctx context.Context, res harness.Result, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome(res)))
	activityAttempts.Add(ctx, 1, attrs)
	activityDuration.Record(ctx, d.Seconds(), attrs)
}

// Replays would double count, so only the first execution records.
func recordWorkflowOutcome(ctx workflow.Context, res harness.Result) {
	if workflow.IsReplaying(ctx) {
		return
	}
	solveCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome(res))))
}
