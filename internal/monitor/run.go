package monitor

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/recipeflow/internal/harness"
	"github.com/fyrsmithlabs/recipeflow/internal/orchestrator"
)

// Runner runs a single input. *harness.Harness satisfies it.
type Runner interface {
	Run(ctx context.Context, in harness.Input) harness.Result
}

// Run drives in through r while rendering it in the terminal. The bridge
// must already be registered as an observer on r and, for streamed plans,
// as the orchestrator's plan stream. Quitting early cancels the run.
func Run(ctx context.Context, r Runner, bridge *Bridge, in harness.Input, cfg orchestrator.Config, opts ...tea.ProgramOption) (harness.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if in.Tools != nil {
		in.Tools = bridge.WrapTools(in.Tools)
	}

	p := tea.NewProgram(NewModel(in.Goal, cfg, cancel), append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	bridge.Attach(p)

	results := make(chan harness.Result, 1)
	go func() {
		res := r.Run(ctx, in)
		results <- res
		bridge.Done(res)
	}()

	final, err := p.Run()
	if err != nil && ctx.Err() == nil {
		return harness.Result{}, fmt.Errorf("run dashboard: %w", err)
	}
	cancel()

	if m, ok := final.(Model); ok {
		if res, done := m.Result(); done {
			return res, nil
		}
	}
	// The user quit first; wait for the canceled run to unwind.
	return <-results, nil
}
