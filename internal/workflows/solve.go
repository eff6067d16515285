// Package workflows provides the Temporal workflow that supervises recipe
// runs. A run is retried as a whole only when its failure kind is retryable.
package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/recipeflow/internal/harness"
	"github.com/fyrsmithlabs/recipeflow/internal/orchestrator"
)

const (
	// SolveWorkflowName is the registered name of SolveWorkflow.
	SolveWorkflowName = "SolveWorkflow"

	defaultMaxRunAttempts  = 3
	defaultActivityTimeout = 5 * time.Minute
)

// SolveInput starts a supervised run.
type SolveInput struct {
	Goal     string `json:"goal"`
	RuleSet  string `json:"ruleset,omitempty"`   // catalog name; blank selects the default
	RuleText string `json:"rule_text,omitempty"` // overrides RuleSet when set

	MaxRunAttempts  int           `json:"max_run_attempts,omitempty"`
	ActivityTimeout time.Duration `json:"activity_timeout,omitempty"`
}

// SolveWorkflow runs RunRecipeActivity under a retry policy and always
// returns a Result. Terminal activity errors become a Failure result; the
// workflow itself only errors when the input is unusable.
func SolveWorkflow(ctx workflow.Context, in SolveInput) (harness.Result, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting solve workflow", "goal", in.Goal, "ruleset", in.RuleSet)

	attempts := in.MaxRunAttempts
	if attempts <= 0 {
		attempts = defaultMaxRunAttempts
	}
	timeout := in.ActivityTimeout
	if timeout <= 0 {
		timeout = defaultActivityTimeout
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    int32(attempts),
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	var res harness.Result
	err := workflow.ExecuteActivity(ctx, a.RunRecipeActivity, in).Get(ctx, &res)
	if err != nil {
		res = resultFromError(err)
		logger.Warn("Solve workflow finished with failure",
			"kind", res.Failure.Kind,
			"message", res.Failure.Message)
		recordWorkflowOutcome(ctx, res)
		return res, nil
	}

	logger.Info("Solve workflow completed", "run_id", res.RunID)
	recordWorkflowOutcome(ctx, res)
	return res, nil
}

// resultFromError recovers the Result carried in an activity error's
// details. Errors without details (activity timeouts, cancellation) are
// mapped onto a failure kind.
func resultFromError(err error) harness.Result {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.HasDetails() {
		var res harness.Result
		if derr := appErr.Details(&res); derr == nil && res.Failure != nil {
			return res
		}
	}

	kind := orchestrator.KindInternal
	switch {
	case temporal.IsTimeoutError(err):
		kind = orchestrator.KindTimeout
	case temporal.IsCanceledError(err):
		kind = orchestrator.KindCanceled
	}
	return harness.Result{Failure: &harness.Failure{
		Kind:      kind,
		Message:   err.Error(),
		Retryable: kind.Retryable(),
	}}
}
