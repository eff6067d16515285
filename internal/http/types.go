package http

import (
	"github.com/fyrsmithlabs/recipeflow/internal/rules"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
)

// RunRequest is the request body for POST /api/v1/runs.
type RunRequest struct {
	Goal     string `json:"goal"`
	RuleSet  string `json:"ruleset,omitempty"`   // catalog name; blank selects the default
	RuleText string `json:"rule_text,omitempty"` // overrides RuleSet when set
}

// PlaylistRequest is the request body for POST /api/v1/playlists.
type PlaylistRequest struct {
	Vibe string `json:"vibe"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ToolsResponse is the response body for GET /api/v1/tools.
type ToolsResponse struct {
	Tools []tools.ToolSpec `json:"tools"`
}

// RuleSetsResponse is the response body for GET /api/v1/rulesets.
type RuleSetsResponse struct {
	Default  string          `json:"default"`
	RuleSets []rules.RuleSet `json:"rulesets"`
}
