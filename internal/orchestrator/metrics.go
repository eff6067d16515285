package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/recipeflow/internal/orchestrator"

// instruments holds the orchestrator's OpenTelemetry instruments.
type instruments struct {
	transitions  metric.Int64Counter
	rejections   metric.Int64Counter
	toolCalls    metric.Int64Counter
	cycleRetries metric.Int64Counter
	cycleTime    metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		m   instruments
		err error
	)

	m.transitions, err = meter.Int64Counter(
		"recipeflow.orchestrator.transitions",
		metric.WithDescription("State transitions taken by runs"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create transitions counter: %w", err)
	}

	m.rejections, err = meter.Int64Counter(
		"recipeflow.orchestrator.critique_rejections",
		metric.WithDescription("Plans rejected by the critique pass"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create critique rejections counter: %w", err)
	}

	m.toolCalls, err = meter.Int64Counter(
		"recipeflow.orchestrator.tool_calls",
		metric.WithDescription("Tool executions by tool and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool calls counter: %w", err)
	}

	m.cycleRetries, err = meter.Int64Counter(
		"recipeflow.orchestrator.cycle_retries",
		metric.WithDescription("Execute cycles retried after a call timeout"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cycle retries counter: %w", err)
	}

	m.cycleTime, err = meter.Float64Histogram(
		"recipeflow.orchestrator.transition.duration",
		metric.WithDescription("Time spent handling one state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create transition duration histogram: %w", err)
	}

	return &m, nil
}

func (m *instruments) recordTransition(ctx context.Context, from, to State, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)
	m.transitions.Add(ctx, 1, attrs)
	m.cycleTime.Record(ctx, seconds, metric.WithAttributes(attribute.String("state", string(from))))
}

func (m *instruments) recordToolCall(ctx context.Context, tool, outcome string) {
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	))
}
