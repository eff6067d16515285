package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "RECIPEFLOW_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load reads configuration from the YAML file at path, then overrides it with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RECIPEFLOW_ORCHESTRATOR_MAX_ITERATIONS, ...)
//  2. YAML config file
//  3. Defaults
//
// An empty path or a missing file is not an error.
//
// # Environment Variable Mapping
//
// The prefix is stripped, the rest lowercased and split on the first underscore:
//
//	RECIPEFLOW_ORCHESTRATOR_MAX_ITERATIONS -> orchestrator.max_iterations
//	RECIPEFLOW_GENERATOR_API_KEY           -> generator.api_key
//	RECIPEFLOW_SERVER_PORT                 -> server.port
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applySpotifyEnv(&cfg.Playlist)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applySpotifyEnv fills unset Spotify credentials from the variables the
// Spotify tooling conventionally uses.
func applySpotifyEnv(p *PlaylistConfig) {
	if p.ClientID == "" {
		p.ClientID = os.Getenv("SPOTIFY_CLIENT_ID")
	}
	if !p.ClientSecret.IsSet() {
		p.ClientSecret = Secret(os.Getenv("SPOTIFY_CLIENT_SECRET"))
	}
}

// envKey maps RECIPEFLOW_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// readConfigFile reads the file through a single descriptor and rejects
// oversized files.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
