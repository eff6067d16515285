package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recipeflow/internal/harness"
	"github.com/fyrsmithlabs/recipeflow/internal/rules"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
)

const (
	toolSolve        = "solve"
	toolListTools    = "list_tools"
	toolListRuleSets = "list_rulesets"
	toolPlaylist     = "playlist"
)

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolSolve,
		Description: "Plan, critique and execute a goal step by step using the available tools",
	}, instrumentFor(s.metrics, toolSolve, s.solve))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolListTools,
		Description: "List the tools a plan may use",
	}, instrumentFor(s.metrics, toolListTools, s.listTools))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolListRuleSets,
		Description: "List the named rule sets a solve request may select",
	}, instrumentFor(s.metrics, toolListRuleSets, s.listRuleSets))

	if s.playlist != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        toolPlaylist,
			Description: "Build a Spotify playlist for a mood, with a reason for each song",
		}, instrumentFor(s.metrics, toolPlaylist, s.buildPlaylist))
	}
}

// instrumentFor wraps a typed handler with active-request and invocation
// metrics. A result flagged IsError counts as a failed run.
func instrumentFor[In, Out any](m *Metrics, name string, fn mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		m.IncrementActive(ctx, name)
		res, out, err := fn(ctx, req, in)
		m.DecrementActive(ctx, name)

		reason := categorizeError(err)
		if err == nil && res != nil && res.IsError {
			reason = "run_failed"
		}
		m.RecordInvocation(ctx, name, time.Since(start), reason)
		return res, out, err
	}
}

// ===== SOLVE =====

type solveInput struct {
	Goal     string `json:"goal" jsonschema:"The task to accomplish, for example an arithmetic expression"`
	RuleSet  string `json:"ruleset,omitempty" jsonschema:"Name of the rule set to apply (default: the configured default)"`
	RuleText string `json:"rule_text,omitempty" jsonschema:"Literal rule text; overrides ruleset when set"`
}

type solveFailure struct {
	Kind      string `json:"kind" jsonschema:"Failure kind"`
	Message   string `json:"message" jsonschema:"Human-readable reason"`
	Retryable bool   `json:"retryable" jsonschema:"Whether retrying the whole run may succeed"`
	State     string `json:"state,omitempty" jsonschema:"State the run failed in"`
	Step      int    `json:"step,omitempty" jsonschema:"Step counter when the run failed"`
}

type solveOutput struct {
	RunID       string        `json:"run_id" jsonschema:"Run identifier"`
	OK          bool          `json:"ok" jsonschema:"True if the run reached Done"`
	Plan        string        `json:"plan,omitempty" jsonschema:"The accepted plan text"`
	FinalResult any           `json:"final_result,omitempty" jsonschema:"Result of the last executed step"`
	DurationMS  int64         `json:"duration_ms" jsonschema:"Wall time of the run in milliseconds"`
	Failure     *solveFailure `json:"failure,omitempty" jsonschema:"Present when the run failed"`
}

func (s *Server) solve(ctx context.Context, _ *mcp.CallToolRequest, args solveInput) (*mcp.CallToolResult, solveOutput, error) {
	if strings.TrimSpace(args.Goal) == "" {
		return nil, solveOutput{}, fmt.Errorf("goal is required")
	}
	ruleText, err := s.rules.RuleText(args.RuleSet, args.RuleText)
	if err != nil {
		return nil, solveOutput{}, err
	}

	res := s.harness.Run(ctx, harness.Input{Goal: args.Goal, RuleText: ruleText})
	out := toSolveOutput(res)
	if res.Failure != nil {
		s.logger.Debug(ctx, "solve failed", zap.String("run_id", res.RunID), zap.String("kind", string(res.Failure.Kind)))
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: res.Failure.Error()}},
		}, out, nil
	}
	return nil, out, nil
}

func toSolveOutput(res harness.Result) solveOutput {
	out := solveOutput{
		RunID:      res.RunID,
		OK:         res.OK(),
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Output != nil {
		out.Plan = res.Output.Plan
		out.FinalResult = res.Output.FinalResult.Any()
	}
	if f := res.Failure; f != nil {
		out.Failure = &solveFailure{
			Kind:      string(f.Kind),
			Message:   f.Message,
			Retryable: f.Retryable,
			State:     string(f.State),
			Step:      f.Step,
		}
	}
	return out
}

// ===== PLAYLIST =====

type playlistInput struct {
	Vibe string `json:"vibe" jsonschema:"The mood to build a playlist for, for example 'rainy sunday morning'"`
}

type playlistSong struct {
	Title  string `json:"title" jsonschema:"Track title"`
	Artist string `json:"artist" jsonschema:"First credited artist"`
	URL    string `json:"url,omitempty" jsonschema:"Spotify link"`
	Reason string `json:"reason" jsonschema:"Why the song fits the vibe"`
}

type playlistOutput struct {
	Title   string         `json:"title,omitempty" jsonschema:"Playlist title"`
	Vibe    string         `json:"vibe,omitempty" jsonschema:"The requested vibe"`
	Query   string         `json:"query,omitempty" jsonschema:"Keywords used to search"`
	Songs   []playlistSong `json:"songs,omitempty" jsonschema:"Songs with reasons"`
	Error   string         `json:"error,omitempty" jsonschema:"Present when no playlist could be built"`
	Details string         `json:"details,omitempty" jsonschema:"Underlying failure"`
}

func (s *Server) buildPlaylist(ctx context.Context, _ *mcp.CallToolRequest, args playlistInput) (*mcp.CallToolResult, playlistOutput, error) {
	resp := s.playlist.Respond(ctx, args.Vibe)
	out := playlistOutput{Error: resp.Error, Details: resp.Details}
	if p := resp.Playlist; p != nil {
		out.Title, out.Vibe, out.Query = p.Title, p.Vibe, p.Query
		for _, song := range p.Songs {
			out.Songs = append(out.Songs, playlistSong(song))
		}
		return nil, out, nil
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: resp.Error}},
	}, out, nil
}

// ===== CATALOG =====

type listToolsInput struct{}

type listToolsOutput struct {
	Tools []tools.ToolSpec `json:"tools" jsonschema:"Available tools with their parameters"`
	Count int              `json:"count" jsonschema:"Number of tools"`
}

func (s *Server) listTools(_ context.Context, _ *mcp.CallToolRequest, _ listToolsInput) (*mcp.CallToolResult, listToolsOutput, error) {
	specs := s.harness.Tools()
	return nil, listToolsOutput{Tools: specs, Count: len(specs)}, nil
}

type listRuleSetsInput struct{}

type listRuleSetsOutput struct {
	Default  string          `json:"default" jsonschema:"Rule set used when none is named"`
	RuleSets []rules.RuleSet `json:"rulesets" jsonschema:"Available rule sets"`
}

func (s *Server) listRuleSets(_ context.Context, _ *mcp.CallToolRequest, _ listRuleSetsInput) (*mcp.CallToolResult, listRuleSetsOutput, error) {
	return nil, listRuleSetsOutput{
		Default:  s.rules.DefaultName(),
		RuleSets: s.rules.Catalog().All(),
	}, nil
}
