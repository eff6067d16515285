package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Orchestrator.MaxIterations)
	assert.Equal(t, 3, cfg.Orchestrator.MaxCritiqueAttempts)
	assert.Equal(t, 2, cfg.Orchestrator.MaxCycleRetries)
	assert.Equal(t, 60*time.Second, cfg.Orchestrator.GeneratorTimeout.Duration())
	assert.Equal(t, "ollama", cfg.Generator.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.Generator.BaseURL)
	assert.Equal(t, "pemdas", cfg.Rules.Default)
	assert.Equal(t, "recipeflow.runs", cfg.Events.SubjectPrefix)
	assert.False(t, cfg.Temporal.Enabled)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Orchestrator.MaxIterations)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
orchestrator:
  max_iterations: 12
  max_critique_attempts: 5
  tool_timeout: 3s
generator:
  provider: openai
  model: gpt-4o-mini
  api_key: sk-test
rules:
  path: /etc/recipeflow/rules.toml
  watch: true
server:
  port: 8088
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Orchestrator.MaxIterations)
	assert.Equal(t, 5, cfg.Orchestrator.MaxCritiqueAttempts)
	assert.Equal(t, 3*time.Second, cfg.Orchestrator.ToolTimeout.Duration())
	assert.Equal(t, "openai", cfg.Generator.Provider)
	assert.Equal(t, "sk-test", cfg.Generator.APIKey.Value())
	assert.Empty(t, cfg.Generator.BaseURL, "openai has no default base url")
	assert.True(t, cfg.Rules.Watch)
	assert.Equal(t, 8088, cfg.Server.Port)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "orchestrator:\n  max_iterations: 12\n")
	t.Setenv("RECIPEFLOW_ORCHESTRATOR_MAX_ITERATIONS", "7")
	t.Setenv("RECIPEFLOW_GENERATOR_MODEL", "qwen2.5")
	t.Setenv("RECIPEFLOW_EVENTS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Orchestrator.MaxIterations)
	assert.Equal(t, "qwen2.5", cfg.Generator.Model)
	assert.True(t, cfg.Events.Enabled)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "openai without key",
			body:    "generator:\n  provider: openai\n",
			wantErr: "generator.api_key",
		},
		{
			name:    "unknown provider",
			body:    "generator:\n  provider: bard\n",
			wantErr: "generator.provider",
		},
		{
			name:    "negative iterations",
			body:    "orchestrator:\n  max_iterations: -1\n",
			wantErr: "orchestrator.max_iterations",
		},
		{
			name:    "bad log format",
			body:    "logging:\n  format: xml\n",
			wantErr: "logging.format",
		},
		{
			name:    "search limit above spotify max",
			body:    "playlist:\n  search_limit: 51\n",
			wantErr: "playlist.search_limit",
		},
		{
			name:    "wildcard subject prefix",
			body:    "events:\n  enabled: true\n  subject_prefix: runs.>\n",
			wantErr: "events.subject_prefix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_Playlist(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://accounts.spotify.com/api/token", cfg.Playlist.TokenURL)
	assert.Equal(t, "https://api.spotify.com/v1", cfg.Playlist.APIURL)
	assert.Equal(t, 15, cfg.Playlist.SearchLimit)
	assert.False(t, cfg.Playlist.Configured())

	t.Setenv("SPOTIFY_CLIENT_ID", "spotify-id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "spotify-secret")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Playlist.Configured())
	assert.Equal(t, "spotify-id", cfg.Playlist.ClientID)
	assert.Equal(t, "spotify-secret", cfg.Playlist.ClientSecret.Value())

	t.Setenv("RECIPEFLOW_PLAYLIST_CLIENT_ID", "own-id")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "own-id", cfg.Playlist.ClientID, "prefixed variables win")
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	big := make([]byte, maxConfigFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	path := filepath.Join(t.TempDir(), "big.yaml")
	require.NoError(t, os.WriteFile(path, big, 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "orchestrator.max_iterations", envKey("RECIPEFLOW_ORCHESTRATOR_MAX_ITERATIONS"))
	assert.Equal(t, "server.port", envKey("RECIPEFLOW_SERVER_PORT"))
	assert.Equal(t, "debug", envKey("RECIPEFLOW_DEBUG"))
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")

	b, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(b))

	assert.Equal(t, "sk-live-123", s.Value())
	assert.Empty(t, Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
