package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/recipeflow/internal/harness"
	"github.com/fyrsmithlabs/recipeflow/internal/logging"
	"github.com/fyrsmithlabs/recipeflow/internal/rules"
	"github.com/fyrsmithlabs/recipeflow/internal/tools/playlist"
)

// Server exposes recipe runs as MCP tools.
type Server struct {
	mcp     *mcp.Server
	harness *harness.Harness
	rules   *rules.Store
	metrics  *Metrics
	logger   *logging.Logger
	playlist Playlists
}

// Playlists builds vibe playlists.
type Playlists interface {
	Respond(ctx context.Context, vibe string) playlist.Response
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "recipeflow")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger *logging.Logger

	// Meter records tool metrics. Defaults to the global meter provider.
	Meter metric.Meter

	// Playlists, when set, adds the playlist tool.
	Playlists Playlists
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "recipeflow",
		Version: "dev",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates an MCP server backed by h.
func NewServer(cfg *Config, h *harness.Harness, store *rules.Store) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if h == nil {
		return nil, fmt.Errorf("harness is required")
	}
	if store == nil {
		return nil, fmt.Errorf("rule store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter(instrumentationName)
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		harness:  h,
		rules:    store,
		metrics:  NewMetrics(cfg.Meter, cfg.Logger),
		logger:   cfg.Logger,
		playlist: cfg.Playlists,
	}
	s.registerTools()

	return s, nil
}

// Run serves MCP on the stdio transport until ctx ends or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on t. It is used for in-process clients.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
