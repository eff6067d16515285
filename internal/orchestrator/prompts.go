package orchestrator

import (
	"strings"
	"text/template"

	"github.com/fyrsmithlabs/recipeflow/internal/generator"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
)

// RecipeTag wraps the plan in the generator's response.
const RecipeTag = "recipe"

var (
	planSystemTmpl = template.Must(template.New("plan_system").Parse(
		`You are a step-by-step assistant that breaks a goal down into instructions for the available tools.

You must follow these rules:
{{.RuleText}}

The available tools are:
{{.Tools}}

Write the instructions step by step, according to the rules and tools.
Put each step on its own line like this: step1: <instruction>
Perform only one operation per step.
Reference results from earlier steps using result_of_step_X.
Only write the instruction in each step; do not evaluate anything.
Conclude with the final result, such as result_of_step_X.
Put all steps inside a <recipe> ... </recipe> tag.`))

	planUserTmpl = template.Must(template.New("plan_user").Parse(
		`{{if .Reason}}The previous instructions failed validation due to: {{.Reason}}
Regenerate the instructions carefully.
{{end}}Using the rules, break down this goal: {{.Goal}}`))

	critiqueSystemTmpl = template.Must(template.New("critique_system").Parse(
		`You are a critique assistant. Given a goal, rules, and step-by-step instructions,
determine if the instructions strictly adhere to the rules.

Rules:
{{.RuleText}}

Instructions:
{{.Plan}}

Respond ONLY with JSON:
{"isValid": boolean, "reason": "brief explanation if invalid"}`))

	critiqueUserTmpl = template.Must(template.New("critique_user").Parse(
		`Critique these instructions for the goal: {{.Goal}}`))

	executeTmpl = template.Must(template.New("execute").Parse(
		`Given the instructions:
{{.Plan}}

And these available tools:
{{.Tools}}

These are previous steps results:
{{.Results}}

Determine the next step details to execute. Respond ONLY with JSON in this exact format:
{"toolName": "Tool Name", "parameters": { /* parameters */ }, "step": number, "isFinalStep": boolean}`))
)

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// PlanMessages builds the chat request for the Plan state.
func PlanMessages(p PlanPayload) ([]generator.Message, error) {
	system, err := render(planSystemTmpl, map[string]string{
		"RuleText": p.RuleText,
		"Tools":    tools.Render(p.Tools),
	})
	if err != nil {
		return nil, err
	}
	user, err := render(planUserTmpl, map[string]string{
		"Reason": p.CritiqueReason,
		"Goal":   p.Goal,
	})
	if err != nil {
		return nil, err
	}
	return []generator.Message{generator.System(system), generator.User(user)}, nil
}

// CritiqueMessages builds the chat request for the Critique state.
func CritiqueMessages(p CritiquePayload) ([]generator.Message, error) {
	system, err := render(critiqueSystemTmpl, map[string]string{
		"RuleText": p.RuleText,
		"Plan":     p.Plan,
	})
	if err != nil {
		return nil, err
	}
	user, err := render(critiqueUserTmpl, map[string]string{"Goal": p.Goal})
	if err != nil {
		return nil, err
	}
	return []generator.Message{generator.System(system), generator.User(user)}, nil
}

// ExecutePrompt builds the single-prompt request for one Execute cycle.
func ExecutePrompt(p ExecutePayload, st *WorkflowState) (string, error) {
	return render(executeTmpl, map[string]string{
		"Plan":    p.Plan,
		"Tools":   tools.Render(p.Tools),
		"Results": RenderResults(st),
	})
}

// RenderResults formats recorded results as "stepKey result: value" lines.
func RenderResults(st *WorkflowState) string {
	keys := st.Keys()
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+" result: "+st.StepResults[k].String())
	}
	return strings.Join(lines, "\n")
}
