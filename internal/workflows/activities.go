package workflows

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/recipeflow/internal/harness"
	"github.com/fyrsmithlabs/recipeflow/internal/orchestrator"
	"github.com/fyrsmithlabs/recipeflow/internal/rules"
)

// Activities holds the dependencies of the solve activities. Register a
// pointer with the worker; workflows reference methods through a nil
// *Activities.
type Activities struct {
	harness *harness.Harness
	rules   *rules.Store
}

// NewActivities creates the activity set.
func NewActivities(h *harness.Harness, store *rules.Store) *Activities {
	return &Activities{harness: h, rules: store}
}

// RunRecipeActivity executes one whole run. A failed run is returned as an
// application error whose details carry the Result, so the workflow can
// report it after retries stop. Only retryable failure kinds are retried.
func (a *Activities) RunRecipeActivity(ctx context.Context, in SolveInput) (harness.Result, error) {
	info := activity.GetInfo(ctx)
	logger := activity.GetLogger(ctx)
	logger.Info("Running recipe", "attempt", info.Attempt, "goal", in.Goal)

	started := time.Now()
	res := a.run(ctx, in, info.WorkflowExecution.ID)
	recordActivity(ctx, res, time.Since(started))

	if res.Failure == nil {
		return res, nil
	}
	return res, toActivityError(res)
}

func (a *Activities) run(ctx context.Context, in SolveInput, fallbackID string) harness.Result {
	ruleText, err := a.rules.RuleText(in.RuleSet, in.RuleText)
	if err != nil {
		return harness.Result{
			RunID: fallbackID,
			Failure: &harness.Failure{
				Kind:    orchestrator.KindInvalidInput,
				Message: err.Error(),
			},
		}
	}
	return a.harness.Run(ctx, harness.Input{Goal: in.Goal, RuleText: ruleText})
}

func toActivityError(res harness.Result) error {
	f := res.Failure
	if f.Retryable {
		return temporal.NewApplicationError(f.Message, string(f.Kind), res)
	}
	return temporal.NewNonRetryableApplicationError(f.Message, string(f.Kind), nil, res)
}
