package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recipeflow/internal/config"
	"github.com/fyrsmithlabs/recipeflow/internal/events"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch [run-id]",
		Short: "Follow run events from NATS",
		Long: `Follow run lifecycle events published by serve, worker or solve.

With a run id the command exits after that run completes or fails. Without
one it follows every run until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var runID string
			if len(args) == 1 {
				runID = args[0]
			}
			return runWatch(cmd.Context(), cmd.OutOrStdout(), root.configPath, runID, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw events as JSON lines")
	return cmd
}

func runWatch(ctx context.Context, w io.Writer, configPath, runID string, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := initLogger(cfg.Logging, nil)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	nc, err := events.Connect(cfg.Events, logger.Named("events"))
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	sub, err := events.Subscribe(nc, cfg.Events.SubjectPrefix, runID, func(ev events.RunEvent) {
		mu.Lock()
		defer mu.Unlock()
		printEvent(w, ev, asJSON)
		if runID != "" && (ev.Type == events.TypeCompleted || ev.Type == events.TypeFailed) {
			cancel()
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	<-ctx.Done()
	return nil
}

func printEvent(w io.Writer, ev events.RunEvent, asJSON bool) {
	if asJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintln(w, string(data))
		return
	}

	ts := ev.Timestamp.Format("15:04:05.000")
	switch ev.Type {
	case events.TypeStarted:
		fmt.Fprintf(w, "%s %s started   %q\n", ts, ev.RunID, ev.Goal)
	case events.TypeProgress:
		if p := ev.Progress; p != nil {
			fmt.Fprintf(w, "%s %s %-9s step=%d critique=%d\n", ts, ev.RunID, p.State, p.StepNumber, p.CritiqueAttempts)
		}
	case events.TypeCompleted:
		if o := ev.Output; o != nil {
			fmt.Fprintf(w, "%s %s completed result=%s\n", ts, ev.RunID, o.FinalResult.String())
		}
	case events.TypeFailed:
		if f := ev.Failure; f != nil {
			fmt.Fprintf(w, "%s %s failed    %s\n", ts, ev.RunID, f.Error())
		}
	}
}
