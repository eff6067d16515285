// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// The package wraps Zap with:
//   - a Trace level (-2, below Debug)
//   - stdout/stderr output teed with an optional OpenTelemetry core
//   - automatic context fields (trace_id, span_id, run.id, request.id)
//   - redaction of sensitive keys and value patterns
//   - sampling below Error
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "transition", zap.String("state", "critique"))
//
// Every entry logged with ctx carries "run.id" so one run's log lines can be
// pulled out of interleaved concurrent runs.
package logging
