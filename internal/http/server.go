// Package http provides the HTTP API for recipeflow.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recipeflow/internal/harness"
	"github.com/fyrsmithlabs/recipeflow/internal/logging"
	"github.com/fyrsmithlabs/recipeflow/internal/orchestrator"
	"github.com/fyrsmithlabs/recipeflow/internal/rules"
	"github.com/fyrsmithlabs/recipeflow/internal/tools/playlist"
)

// Server provides HTTP endpoints for recipeflow.
type Server struct {
	echo     *echo.Echo
	harness  *harness.Harness
	rules    *rules.Store
	logger   *logging.Logger
	config   *Config
	gatherer prometheus.Gatherer
	meter    metric.Meter
	playlist Playlists
}

// Playlists builds vibe playlists.
type Playlists interface {
	Respond(ctx context.Context, vibe string) playlist.Response
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RunTimeout bounds a single POST /api/v1/runs request. Zero means the
	// run is bounded only by the client connection.
	RunTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer sets the Prometheus gatherer served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithMeter sets the meter used for request metrics.
func WithMeter(m metric.Meter) Option {
	return func(s *Server) { s.meter = m }
}

// WithPlaylists enables POST /api/v1/playlists.
func WithPlaylists(p Playlists) Option {
	return func(s *Server) { s.playlist = p }
}

// NewServer creates a new HTTP server.
func NewServer(h *harness.Harness, store *rules.Store, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if h == nil {
		return nil, fmt.Errorf("harness cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rule store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	s := &Server{
		harness:  h,
		rules:    store,
		logger:   logger,
		config:   cfg,
		gatherer: prometheus.DefaultGatherer,
		meter:    otel.Meter(httpInstrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(s.meter, logger).MetricsMiddleware())
	e.Use(s.requestLogger)

	s.echo = e
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleRun)
	v1.GET("/tools", s.handleTools)
	v1.GET("/rulesets", s.handleRuleSets)
	if s.playlist != nil {
		v1.POST("/playlists", s.handlePlaylist)
	}
}

// requestLogger tags the request context with its request ID and logs the
// request once it completes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleRun runs one orchestration synchronously.
func (s *Server) handleRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Goal) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "goal field is required")
	}

	ruleText, err := s.rules.RuleText(req.RuleSet, req.RuleText)
	if err != nil {
		if errors.Is(err, rules.ErrUnknownRuleSet) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve rule set")
	}

	ctx := c.Request().Context()
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	res := s.harness.Run(ctx, harness.Input{Goal: req.Goal, RuleText: ruleText})
	return c.JSON(statusFor(res), res)
}

// statusFor maps a run result onto a response status.
func statusFor(res harness.Result) int {
	switch {
	case res.Failure == nil:
		return http.StatusOK
	case res.Failure.Kind == orchestrator.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

// handlePlaylist builds a playlist synchronously. Error payloads keep the
// agent's shape: 400 for a missing vibe, 502 when a dependency failed.
func (s *Server) handlePlaylist(c echo.Context) error {
	var req PlaylistRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp := s.playlist.Respond(c.Request().Context(), req.Vibe)
	switch {
	case resp.Playlist != nil:
		return c.JSON(http.StatusOK, resp)
	case resp.Error == playlist.MissingVibeMessage:
		return c.JSON(http.StatusBadRequest, resp)
	default:
		return c.JSON(http.StatusBadGateway, resp)
	}
}

func (s *Server) handleTools(c echo.Context) error {
	return c.JSON(http.StatusOK, ToolsResponse{Tools: s.harness.Tools()})
}

func (s *Server) handleRuleSets(c echo.Context) error {
	return c.JSON(http.StatusOK, RuleSetsResponse{
		Default:  s.rules.DefaultName(),
		RuleSets: s.rules.Catalog().All(),
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}
