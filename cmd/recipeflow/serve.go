package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recipeflow/internal/config"
	httpserver "github.com/fyrsmithlabs/recipeflow/internal/http"
	"github.com/fyrsmithlabs/recipeflow/internal/rules"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve POST /api/v1/runs, GET /api/v1/tools, GET /api/v1/rulesets,
GET /health and GET /metrics. POST /api/v1/playlists is added when Spotify
credentials are configured.

When rules.watch is enabled the rule-set catalog is reloaded whenever its
file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root.configPath, host, port)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}

func runServe(ctx context.Context, configPath, host string, port int) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	if host != "" {
		a.cfg.Server.Host = host
	}
	if port != 0 {
		a.cfg.Server.Port = port
	}

	stopWatch, err := watchRules(ctx, a)
	if err != nil {
		return err
	}
	defer stopWatch()

	o, err := a.newOrchestrator()
	if err != nil {
		return err
	}
	opts := []httpserver.Option{
		httpserver.WithGatherer(a.registry),
		httpserver.WithMeter(a.tel.Meter(instrumentationName)),
	}
	if agent, err := a.newPlaylistAgent(); err == nil {
		opts = append(opts, httpserver.WithPlaylists(agent))
	}
	srv, err := httpserver.NewServer(a.newHarness(o), a.rules, a.logger.Named("http"), &httpserver.Config{
		Host:       a.cfg.Server.Host,
		Port:       a.cfg.Server.Port,
		RunTimeout: runTimeout(a.cfg),
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}

// runTimeout bounds one HTTP run by the worst case of its generator calls.
func runTimeout(cfg *config.Config) time.Duration {
	o := cfg.Orchestrator
	calls := 1 + o.MaxCritiqueAttempts*2 + o.MaxIterations
	return time.Duration(calls) * o.GeneratorTimeout.Duration()
}

// watchRules starts the catalog watcher when configured. The returned func
// stops it.
func watchRules(ctx context.Context, a *app) (func(), error) {
	if !a.cfg.Rules.Watch || a.cfg.Rules.Path == "" {
		return func() {}, nil
	}

	w, err := rules.NewWatcher(a.cfg.Rules.Path, a.rules, a.logger.Named("rules"))
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w.Stop, nil
}
