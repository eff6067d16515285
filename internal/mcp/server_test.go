package mcp

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/recipeflow/internal/generator/generatortest"
	"github.com/fyrsmithlabs/recipeflow/internal/harness"
	"github.com/fyrsmithlabs/recipeflow/internal/orchestrator"
	"github.com/fyrsmithlabs/recipeflow/internal/rules"
	"github.com/fyrsmithlabs/recipeflow/internal/telemetry"
	"github.com/fyrsmithlabs/recipeflow/internal/tools/arith"
	"github.com/fyrsmithlabs/recipeflow/internal/tools/playlist"
)

const (
	plan    = "<recipe>\nstep1: multiply 3 and 4\nstep2: add 2 and result_of_step_1\n</recipe>"
	approve = `{"isValid": true}`
	step1   = `{"toolName": "multiply_numbers", "parameters": {"num1": 3, "num2": 4}, "step": 1, "isFinalStep": false}`
	step2   = `{"toolName": "add_numbers", "parameters": {"num1": 2, "num2": 12}, "step": 2, "isFinalStep": true}`
	badTool = `{"toolName": "Modulo", "parameters": {}, "step": 1, "isFinalStep": true}`
)

func newTestServer(t *testing.T, gen *generatortest.Scripted) (*Server, *telemetry.TestTelemetry) {
	t.Helper()
	o, err := orchestrator.New(gen, arith.Registry())
	require.NoError(t, err)
	h := harness.New(o,
		harness.WithMetrics(harness.NewMetrics(prometheus.NewRegistry())),
		harness.WithIDGenerator(func() string { return "run-1" }),
	)

	tel := telemetry.NewTestTelemetry()
	cfg := DefaultConfig()
	cfg.Meter = tel.Meter(instrumentationName)

	s, err := NewServer(cfg, h, rules.NewStore(rules.Default(), ""))
	require.NoError(t, err)
	return s, tel
}

func connectClient(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ss, err := s.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestNewServer(t *testing.T) {
	o, err := orchestrator.New(generatortest.Texts(), arith.Registry())
	require.NoError(t, err)
	h := harness.New(o, harness.WithMetrics(harness.NewMetrics(prometheus.NewRegistry())))

	_, err = NewServer(nil, nil, rules.NewStore(rules.Default(), ""))
	assert.ErrorContains(t, err, "harness is required")

	_, err = NewServer(nil, h, nil)
	assert.ErrorContains(t, err, "rule store is required")

	s, err := NewServer(&Config{Name: "x", Version: "1"}, h, rules.NewStore(rules.Default(), ""))
	require.NoError(t, err)
	assert.NotNil(t, s.logger)
}

func TestSolve_Handler(t *testing.T) {
	ctx := context.Background()

	t.Run("completed run", func(t *testing.T) {
		s, _ := newTestServer(t, generatortest.Texts(plan, approve, step1, step2))

		res, out, err := s.solve(ctx, nil, solveInput{Goal: "2 + 3 * 4"})
		require.NoError(t, err)
		assert.Nil(t, res)
		assert.True(t, out.OK)
		assert.Equal(t, "run-1", out.RunID)
		assert.Equal(t, 14.0, out.FinalResult)
		assert.Contains(t, out.Plan, "step1: multiply 3 and 4")
		assert.Nil(t, out.Failure)
	})

	t.Run("failed run is a tool error with structured failure", func(t *testing.T) {
		s, _ := newTestServer(t, generatortest.Texts(plan, approve, badTool))

		res, out, err := s.solve(ctx, nil, solveInput{Goal: "2 + 3 * 4"})
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.True(t, res.IsError)
		require.Len(t, res.Content, 1)
		assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "tool_not_found")

		assert.False(t, out.OK)
		require.NotNil(t, out.Failure)
		assert.Equal(t, string(orchestrator.KindToolNotFound), out.Failure.Kind)
		assert.Equal(t, string(orchestrator.StateExecute), out.Failure.State)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		s, _ := newTestServer(t, generatortest.Texts())

		_, _, err := s.solve(ctx, nil, solveInput{Goal: " "})
		assert.ErrorContains(t, err, "goal is required")

		_, _, err = s.solve(ctx, nil, solveInput{Goal: "1 + 1", RuleSet: "nope"})
		assert.ErrorIs(t, err, rules.ErrUnknownRuleSet)
	})
}

func TestCatalog_Handlers(t *testing.T) {
	s, _ := newTestServer(t, generatortest.Texts())

	_, tools, err := s.listTools(context.Background(), nil, listToolsInput{})
	require.NoError(t, err)
	assert.Equal(t, 4, tools.Count)
	assert.Equal(t, arith.Multiply, tools.Tools[0].Name)

	_, sets, err := s.listRuleSets(context.Background(), nil, listRuleSetsInput{})
	require.NoError(t, err)
	assert.Equal(t, rules.DefaultName, sets.Default)
	assert.Len(t, sets.RuleSets, 2)
}

func TestSession(t *testing.T) {
	s, tel := newTestServer(t, generatortest.Texts(plan, approve, step1, step2))
	cs := connectClient(t, s)
	ctx := context.Background()

	listed, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{toolSolve, toolListTools, toolListRuleSets}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolSolve,
		Arguments: map[string]any{"goal": "2 + 3 * 4"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	structured, ok := res.StructuredContent.(map[string]any)
	require.True(t, ok, "structured content is %T", res.StructuredContent)
	assert.Equal(t, true, structured["ok"])
	assert.Equal(t, 14.0, structured["final_result"])

	assert.Equal(t, int64(1), tel.CounterValue(t, "recipeflow.mcp.tool.invocations_total",
		attribute.String("tool", toolSolve)))
	assert.Zero(t, tel.CounterValue(t, "recipeflow.mcp.tool.errors_total"))
}

func TestSession_FailedRunCountsAsError(t *testing.T) {
	s, tel := newTestServer(t, generatortest.Texts(plan, approve, badTool))
	cs := connectClient(t, s)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      toolSolve,
		Arguments: map[string]any{"goal": "2 + 3 * 4"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	assert.Equal(t, int64(1), tel.CounterValue(t, "recipeflow.mcp.tool.errors_total",
		attribute.String("reason", "run_failed")))
}

type staticPlaylists map[string]playlist.Response

func (p staticPlaylists) Respond(_ context.Context, vibe string) playlist.Response {
	if resp, ok := p[vibe]; ok {
		return resp
	}
	return playlist.Response{Error: playlist.MissingVibeMessage}
}

func TestSession_Playlist(t *testing.T) {
	o, err := orchestrator.New(generatortest.Texts(), arith.Registry())
	require.NoError(t, err)
	h := harness.New(o, harness.WithMetrics(harness.NewMetrics(prometheus.NewRegistry())))

	cfg := DefaultConfig()
	cfg.Meter = telemetry.NewTestTelemetry().Meter(instrumentationName)
	cfg.Playlists = staticPlaylists{
		"rain": {Playlist: &playlist.Playlist{
			Title: "Playlist for: rain",
			Vibe:  "rain",
			Songs: []playlist.Song{{Title: "Purple Rain", Artist: "Prince", Reason: "It is about rain."}},
		}},
	}
	s, err := NewServer(cfg, h, rules.NewStore(rules.Default(), ""))
	require.NoError(t, err)
	cs := connectClient(t, s)
	ctx := context.Background()

	listed, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, toolPlaylist)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: toolPlaylist, Arguments: map[string]any{"vibe": "rain"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	structured, ok := res.StructuredContent.(map[string]any)
	require.True(t, ok, "structured content is %T", res.StructuredContent)
	assert.Equal(t, "Playlist for: rain", structured["title"])

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: toolPlaylist, Arguments: map[string]any{"vibe": ""}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Equal(t, playlist.MissingVibeMessage, res.Content[0].(*mcp.TextContent).Text)
}
