package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recipeflow/internal/mcp"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the solve tool over MCP stdio",
		Long: `Serve solve, list_tools and list_rulesets to an MCP client over stdin and
stdout. The playlist tool is added when Spotify credentials are configured.
Logs are written to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd.Context(), root.configPath)
		},
	}
}

func runMCP(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	o, err := a.newOrchestrator()
	if err != nil {
		return err
	}

	cfg := mcp.DefaultConfig()
	cfg.Version = version
	cfg.Logger = a.logger.Named("mcp")
	cfg.Meter = a.tel.Meter(instrumentationName)
	if agent, err := a.newPlaylistAgent(); err == nil {
		cfg.Playlists = agent
	}

	srv, err := mcp.NewServer(cfg, a.newHarness(o), a.rules)
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
