package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recipeflow/internal/harness"
	"github.com/fyrsmithlabs/recipeflow/internal/monitor"
	"github.com/fyrsmithlabs/recipeflow/internal/orchestrator"
	"github.com/fyrsmithlabs/recipeflow/internal/workflows"
)

var errRunFailed = errors.New("run failed")

type solveOptions struct {
	*rootOptions
	ruleSet  string
	ruleText string
	tui      bool
	stream   bool
	temporal bool
	jsonOut  bool
}

func newSolveCmd(root *rootOptions) *cobra.Command {
	opts := &solveOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "solve <goal>",
		Short: "Plan, critique and execute a goal",
		Long: `Solve a goal with the configured generator and the arithmetic toolset.
When Spotify credentials are configured, search_songs is available too.

Examples:
  # Use the default rule set
  recipeflow solve "2 + 3 * 4"

  # Evaluate strictly left to right
  recipeflow solve --ruleset left-to-right "2 + 3 * 4"

  # Stream the plan as it is generated
  recipeflow solve --stream "(2 + 3) * 4"

  # Submit through the Temporal supervisor
  recipeflow solve --temporal "10 / 4 - 1"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(cmd, opts, strings.Join(args, " "))
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ruleSet, "ruleset", "", "named rule set from the catalog (default from config)")
	f.StringVar(&opts.ruleText, "rule-text", "", "literal rule text; overrides --ruleset")
	f.BoolVar(&opts.tui, "tui", false, "show a live view of the run")
	f.BoolVar(&opts.stream, "stream", false, "print plan tokens as they are generated")
	f.BoolVar(&opts.temporal, "temporal", false, "run under the Temporal supervisor")
	f.BoolVar(&opts.jsonOut, "json", false, "print the result as JSON")
	cmd.MarkFlagsMutuallyExclusive("tui", "stream")
	cmd.MarkFlagsMutuallyExclusive("tui", "temporal")

	return cmd
}

func runSolve(cmd *cobra.Command, opts *solveOptions, goal string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	if opts.temporal {
		return solveTemporal(cmd, a, opts, goal)
	}

	ruleText, err := a.rules.RuleText(opts.ruleSet, opts.ruleText)
	if err != nil {
		return err
	}
	in := harness.Input{Goal: goal, RuleText: ruleText}

	var res harness.Result
	switch {
	case opts.tui:
		bridge := monitor.NewBridge()
		o, err := a.newOrchestrator(orchestrator.WithPlanStream(bridge.PlanChunk))
		if err != nil {
			return err
		}
		in.Tools = a.tools()
		res, err = monitor.Run(ctx, a.newHarness(o, bridge), bridge, in, o.Config())
		if err != nil {
			return err
		}

	case opts.stream:
		o, err := a.newOrchestrator(orchestrator.WithPlanStream(func(chunk string) {
			fmt.Fprint(out, chunk)
		}))
		if err != nil {
			return err
		}
		res = a.newHarness(o).Run(ctx, in)
		fmt.Fprintln(out)

	default:
		o, err := a.newOrchestrator()
		if err != nil {
			return err
		}
		res = a.newHarness(o).Run(ctx, in)
	}

	return printResult(out, res, opts.jsonOut, !opts.stream && !opts.tui)
}

func solveTemporal(cmd *cobra.Command, a *app, opts *solveOptions, goal string) error {
	c, err := workflows.Dial(a.cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := workflows.NewSubmitter(c, a.cfg.Temporal).Solve(cmd.Context(), workflows.SolveInput{
		Goal:     goal,
		RuleSet:  opts.ruleSet,
		RuleText: opts.ruleText,
	})
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res, opts.jsonOut, true)
}

// printResult writes res to w. A failed run is reported and returned as
// errRunFailed so the process exits non-zero.
func printResult(w io.Writer, res harness.Result, asJSON, withPlan bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else if f := res.Failure; f != nil {
		fmt.Fprintf(w, "Run:     %s\n", res.RunID)
		fmt.Fprintf(w, "Failed:  %s\n", f.Error())
		if f.State != "" {
			fmt.Fprintf(w, "State:   %s (step %d)\n", f.State, f.Step)
		}
	} else if res.Output != nil {
		if withPlan {
			fmt.Fprintf(w, "%s\n\n", strings.TrimSpace(res.Output.Plan))
		}
		fmt.Fprintf(w, "Run:     %s\n", res.RunID)
		fmt.Fprintf(w, "Result:  %s\n", res.Output.FinalResult.String())
		fmt.Fprintf(w, "Took:    %s\n", monitor.FormatElapsed(res.Duration))
	}

	if !res.OK() {
		return fmt.Errorf("%w: %s", errRunFailed, res.RunID)
	}
	return nil
}
