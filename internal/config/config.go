// Package config provides configuration loading for recipeflow.
//
// Configuration is read from an optional YAML file and then overridden by
// RECIPEFLOW_* environment variables. Missing values fall back to defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/recipeflow/internal/sanitize"
)

// Config holds the complete recipeflow configuration.
type Config struct {
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Generator    GeneratorConfig    `koanf:"generator"`
	Rules        RulesConfig        `koanf:"rules"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Server       ServerConfig       `koanf:"server"`
	Events       EventsConfig       `koanf:"events"`
	Temporal     TemporalConfig     `koanf:"temporal"`
	Playlist     PlaylistConfig     `koanf:"playlist"`
}

// OrchestratorConfig bounds a single run.
type OrchestratorConfig struct {
	MaxIterations       int      `koanf:"max_iterations"`
	MaxCritiqueAttempts int      `koanf:"max_critique_attempts"`
	MaxCycleRetries     int      `koanf:"max_cycle_retries"`
	GeneratorTimeout    Duration `koanf:"generator_timeout"`
	ToolTimeout         Duration `koanf:"tool_timeout"`
}

// GeneratorConfig selects and tunes the text generation backend.
type GeneratorConfig struct {
	Provider       string  `koanf:"provider"` // ollama or openai
	Model          string  `koanf:"model"`
	BaseURL        string  `koanf:"base_url"`
	APIKey         Secret  `koanf:"api_key"`
	Temperature    float64 `koanf:"temperature"`
	MaxTokens      int     `koanf:"max_tokens"`
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`
}

// RulesConfig locates the rule-set catalog.
type RulesConfig struct {
	Path    string `koanf:"path"`    // TOML catalog; empty uses the embedded catalog
	Watch   bool   `koanf:"watch"`   // reload the catalog when the file changes
	Default string `koanf:"default"` // rule set used when a request names none
}

// LoggingConfig holds the subset of logging settings exposed to users.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // grpc or http
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// EventsConfig controls NATS run event publishing.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// TemporalConfig controls the optional Temporal supervisor.
type TemporalConfig struct {
	Enabled         bool     `koanf:"enabled"`
	HostPort        string   `koanf:"host_port"`
	Namespace       string   `koanf:"namespace"`
	TaskQueue       string   `koanf:"task_queue"`
	WorkflowTimeout Duration `koanf:"workflow_timeout"`
	MaxRunAttempts  int      `koanf:"max_run_attempts"`
}

// PlaylistConfig configures the vibe playlist agent and its Spotify client.
// SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET are read when the credentials
// are not set otherwise.
type PlaylistConfig struct {
	Model        string   `koanf:"model"` // empty uses generator.model
	ClientID     string   `koanf:"client_id"`
	ClientSecret Secret   `koanf:"client_secret"`
	TokenURL     string   `koanf:"token_url"`
	APIURL       string   `koanf:"api_url"`
	SearchLimit  int      `koanf:"search_limit"`
	Timeout      Duration `koanf:"timeout"`
}

// Configured reports whether Spotify credentials are present.
func (p PlaylistConfig) Configured() bool {
	return p.ClientID != "" && p.ClientSecret.IsSet()
}

// Default returns a Config populated with defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values. Booleans default to false.
func applyDefaults(cfg *Config) {
	o := &cfg.Orchestrator
	if o.MaxIterations == 0 {
		o.MaxIterations = 30
	}
	if o.MaxCritiqueAttempts == 0 {
		o.MaxCritiqueAttempts = 3
	}
	if o.MaxCycleRetries == 0 {
		o.MaxCycleRetries = 2
	}
	if o.GeneratorTimeout == 0 {
		o.GeneratorTimeout = Duration(60 * time.Second)
	}
	if o.ToolTimeout == 0 {
		o.ToolTimeout = Duration(10 * time.Second)
	}

	g := &cfg.Generator
	if g.Provider == "" {
		g.Provider = "ollama"
	}
	if g.Model == "" {
		g.Model = "llama3.1"
	}
	if g.BaseURL == "" && g.Provider == "ollama" {
		g.BaseURL = "http://localhost:11434"
	}
	if g.RateLimitRPS == 0 {
		g.RateLimitRPS = 5
	}
	if g.RateLimitBurst == 0 {
		g.RateLimitBurst = 1
	}

	if cfg.Rules.Default == "" {
		cfg.Rules.Default = "pemdas"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	t := &cfg.Telemetry
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.Protocol == "" {
		t.Protocol = "grpc"
	}
	if t.ServiceName == "" {
		t.ServiceName = "recipeflow"
	}
	if t.SampleRate == 0 {
		t.SampleRate = 1.0
	}
	if t.ExportInterval == 0 {
		t.ExportInterval = Duration(15 * time.Second)
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "recipeflow.runs"
	}

	tp := &cfg.Temporal
	if tp.HostPort == "" {
		tp.HostPort = "localhost:7233"
	}
	if tp.Namespace == "" {
		tp.Namespace = "default"
	}
	if tp.TaskQueue == "" {
		tp.TaskQueue = "recipeflow"
	}
	if tp.WorkflowTimeout == 0 {
		tp.WorkflowTimeout = Duration(10 * time.Minute)
	}
	if tp.MaxRunAttempts == 0 {
		tp.MaxRunAttempts = 3
	}

	p := &cfg.Playlist
	if p.TokenURL == "" {
		p.TokenURL = "https://accounts.spotify.com/api/token"
	}
	if p.APIURL == "" {
		p.APIURL = "https://api.spotify.com/v1"
	}
	if p.SearchLimit == 0 {
		p.SearchLimit = 15
	}
	if p.Timeout == 0 {
		p.Timeout = Duration(15 * time.Second)
	}
}

// Validate validates the configuration.
//
// Returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	o := c.Orchestrator
	if o.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.max_iterations must be >= 1, got %d", o.MaxIterations))
	}
	if o.MaxCritiqueAttempts < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.max_critique_attempts must be >= 1, got %d", o.MaxCritiqueAttempts))
	}
	if o.MaxCycleRetries < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_cycle_retries must be >= 0, got %d", o.MaxCycleRetries))
	}

	switch c.Generator.Provider {
	case "ollama":
	case "openai":
		if !c.Generator.APIKey.IsSet() {
			errs = append(errs, errors.New("generator.api_key is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("generator.provider must be 'ollama' or 'openai', got %q", c.Generator.Provider))
	}
	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generator.temperature must be between 0 and 2, got %g", c.Generator.Temperature))
	}
	if c.Generator.RateLimitRPS < 0 {
		errs = append(errs, errors.New("generator.rate_limit_rps must be >= 0"))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http', got %q", c.Telemetry.Protocol))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %g", c.Telemetry.SampleRate))
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	if c.Events.Enabled {
		if err := sanitize.ValidateSubjectPrefix(c.Events.SubjectPrefix); err != nil {
			errs = append(errs, fmt.Errorf("events.subject_prefix: %w", err))
		}
	}

	if c.Playlist.SearchLimit < 1 || c.Playlist.SearchLimit > 50 {
		errs = append(errs, fmt.Errorf("playlist.search_limit must be between 1 and 50, got %d", c.Playlist.SearchLimit))
	}

	if c.Temporal.Enabled && c.Temporal.MaxRunAttempts < 1 {
		errs = append(errs, errors.New("temporal.max_run_attempts must be >= 1"))
	}

	return errors.Join(errs...)
}
