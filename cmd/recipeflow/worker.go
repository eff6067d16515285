package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recipeflow/internal/workflows"
)

func newWorkerCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a Temporal worker for solve workflows",
		Long: `Run a Temporal worker that executes SolveWorkflow and RunRecipeActivity
on the configured task queue. Retryable run failures are retried as whole
runs up to temporal.max_run_attempts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), root.configPath)
		},
	}
}

func runWorker(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	c, err := workflows.Dial(a.cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	o, err := a.newOrchestrator()
	if err != nil {
		return err
	}
	w := workflows.NewWorker(c, a.cfg.Temporal.TaskQueue, workflows.NewActivities(a.newHarness(o), a.rules))
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start temporal worker: %w", err)
	}
	a.logger.Info(ctx, "temporal worker started",
		zap.String("host_port", a.cfg.Temporal.HostPort),
		zap.String("namespace", a.cfg.Temporal.Namespace),
		zap.String("task_queue", a.cfg.Temporal.TaskQueue))

	<-ctx.Done()
	w.Stop()
	a.logger.Info(context.Background(), "temporal worker stopped")
	return nil
}
