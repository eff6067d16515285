package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/recipeflow/internal/config"
	"github.com/fyrsmithlabs/recipeflow/internal/harness"
)

// Dial connects to the Temporal frontend named in cfg.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal at %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// NewWorker creates a worker on taskQueue with the solve workflow and
// activities registered. The caller starts and stops it.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(SolveWorkflow, workflow.RegisterOptions{Name: SolveWorkflowName})
	w.RegisterActivity(acts)
	return w
}

// Submitter starts solve workflows and waits for their results.
type Submitter struct {
	client    client.Client
	taskQueue string
	timeout   time.Duration
	attempts  int
}

// NewSubmitter creates a submitter from cfg.
func NewSubmitter(c client.Client, cfg config.TemporalConfig) *Submitter {
	return &Submitter{
		client:    c,
		taskQueue: cfg.TaskQueue,
		timeout:   cfg.WorkflowTimeout.Duration(),
		attempts:  cfg.MaxRunAttempts,
	}
}

// Solve starts a workflow for in and blocks until it finishes.
func (s *Submitter) Solve(ctx context.Context, in SolveInput) (harness.Result, error) {
	if in.MaxRunAttempts == 0 {
		in.MaxRunAttempts = s.attempts
	}
	opts := client.StartWorkflowOptions{
		ID:                       "solve-" + uuid.NewString(),
		TaskQueue:                s.taskQueue,
		WorkflowExecutionTimeout: s.timeout,
	}
	run, err := s.client.ExecuteWorkflow(ctx, opts, SolveWorkflowName, in)
	if err != nil {
		return harness.Result{}, fmt.Errorf("failed to start solve workflow: %w", err)
	}

	var res harness.Result
	if err := run.Get(ctx, &res); err != nil {
		return harness.Result{}, fmt.Errorf("solve workflow %s: %w", run.GetID(), err)
	}
	return res, nil
}
