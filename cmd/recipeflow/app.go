package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recipeflow/internal/config"
	"github.com/fyrsmithlabs/recipeflow/internal/events"
	"github.com/fyrsmithlabs/recipeflow/internal/generator"
	"github.com/fyrsmithlabs/recipeflow/internal/harness"
	"github.com/fyrsmithlabs/recipeflow/internal/logging"
	"github.com/fyrsmithlabs/recipeflow/internal/orchestrator"
	"github.com/fyrsmithlabs/recipeflow/internal/rules"
	"github.com/fyrsmithlabs/recipeflow/internal/telemetry"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
	"github.com/fyrsmithlabs/recipeflow/internal/tools/arith"
	"github.com/fyrsmithlabs/recipeflow/internal/tools/playlist"
)

const instrumentationName = "github.com/fyrsmithlabs/recipeflow"

// newGenerator builds the configured backend. Tests replace it.
var newGenerator = generator.New

// newSearcher builds the track searcher. Tests replace it.
var newSearcher = func(ctx context.Context, cfg config.PlaylistConfig) (playlist.Searcher, error) {
	return playlist.NewSpotify(ctx, cfg)
}

// app holds the dependencies shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	rules    *rules.Store
	gen      generator.Generator
	registry *prometheus.Registry
	metrics  *harness.Metrics
	nc       *nats.Conn
	search   playlist.Searcher
}

// newApp loads configuration and initializes logging, telemetry, the rule
// store and the generator. Event publishing is connected only when enabled.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg.Logging, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := rules.Open(cfg.Rules)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to load rule sets: %w", err)
	}

	gen, err := newGenerator(cfg.Generator)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		tel:      tel,
		rules:    store,
		gen:      gen,
		registry: registry,
		metrics:  harness.NewMetrics(registry),
	}

	if cfg.Playlist.Configured() {
		search, err := newSearcher(context.WithoutCancel(ctx), cfg.Playlist)
		if err != nil {
			logger.Warn(ctx, "track search disabled", zap.Error(err))
		} else {
			a.search = search
		}
	}

	if cfg.Events.Enabled {
		nc, err := events.Connect(cfg.Events, logger.Named("events"))
		if err != nil {
			// Events are best effort; runs proceed without them.
			logger.Warn(ctx, "run events disabled", zap.Error(err))
		} else {
			a.nc = nc
		}
	}

	logger.Info(ctx, "recipeflow initialized",
		zap.String("version", version),
		zap.String("generator", cfg.Generator.Provider),
		zap.String("model", cfg.Generator.Model),
		zap.String("default_ruleset", store.DefaultName()),
		zap.Bool("events", a.nc != nil),
		zap.Bool("track_search", a.search != nil),
		zap.Bool("telemetry", tel.IsEnabled()))

	return a, nil
}

// initLogger builds the process logger. Logs always go to stderr so that
// stdout carries only command output and the MCP stdio stream.
func initLogger(s config.LoggingConfig, tel *telemetry.Telemetry) (*logging.Logger, error) {
	cfg, err := logging.FromSettings(s)
	if err != nil {
		return nil, err
	}
	cfg.Output.Stdout = false
	cfg.Output.Stderr = true
	return logging.NewLogger(cfg, tel.LoggerProvider())
}

// tools returns the arithmetic toolset plus track search when Spotify is
// configured.
func (a *app) tools() []tools.Tool {
	ts := arith.Tools()
	if a.search != nil {
		ts = append(ts, playlist.SearchTool(a.search, a.cfg.Playlist.SearchLimit))
	}
	return ts
}

// newPlaylistAgent builds the vibe playlist agent. It fails when no
// searcher is configured.
func (a *app) newPlaylistAgent() (*playlist.Agent, error) {
	if a.search == nil {
		return nil, fmt.Errorf("playlist: %w", playlist.ErrMissingCredentials)
	}
	return playlist.New(a.gen, a.search,
		playlist.WithLogger(a.logger.Named("playlist")),
		playlist.WithLimit(a.cfg.Playlist.SearchLimit),
		playlist.WithModel(a.cfg.Playlist.Model),
	)
}

// newOrchestrator builds an orchestrator over a.tools().
func (a *app) newOrchestrator(opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	base := []orchestrator.Option{
		orchestrator.WithConfig(orchestrator.FromSettings(a.cfg.Orchestrator)),
		orchestrator.WithLogger(a.logger.Named("orchestrator")),
		orchestrator.WithTracer(a.tel.Tracer(instrumentationName)),
		orchestrator.WithMeter(a.tel.Meter(instrumentationName)),
	}
	reg, err := tools.NewRegistry(a.tools()...)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(a.gen, reg, append(base, opts...)...)
}

// newHarness wraps o with logging, metrics and run events.
func (a *app) newHarness(o *orchestrator.Orchestrator, observers ...harness.Observer) *harness.Harness {
	opts := []harness.Option{
		harness.WithLogger(a.logger.Named("harness")),
		harness.WithMetrics(a.metrics),
	}
	if a.nc != nil {
		opts = append(opts, harness.WithObserver(events.NewPublisher(a.nc, a.cfg.Events.SubjectPrefix)))
	}
	for _, obs := range observers {
		opts = append(opts, harness.WithObserver(obs))
	}
	return harness.New(o, opts...)
}

// close releases connections and flushes telemetry.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
