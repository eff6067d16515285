// Recipeflow turns a natural-language goal into a checked plan and executes
// it one tool call at a time.
//
// Usage:
//
//	# Solve a goal in the terminal
//	recipeflow solve "2 + 3 * 4"
//
//	# Watch the run live
//	recipeflow solve --tui "(2 + 3) * 4"
//
//	# Build a playlist for a mood
//	recipeflow playlist "rainy sunday morning"
//
//	# Serve the HTTP API
//	recipeflow serve --config recipeflow.yaml
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "recipeflow",
		Short: "Plan, critique and execute goals with tools",
		Long: `recipeflow asks a text generator for a step-by-step recipe, has the
generator critique it against a rule set, then executes it one tool call
at a time until the final step produces a result.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("RECIPEFLOW_CONFIG"), "path to a YAML config file")

	root.AddCommand(
		newSolveCmd(opts),
		newPlaylistCmd(opts),
		newServeCmd(opts),
		newWorkerCmd(opts),
		newMCPCmd(opts),
		newToolsCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "recipeflow by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
