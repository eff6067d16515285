// Package monitor renders a live terminal view of a single run: state,
// step counter, streamed plan, and a sparkline of numeric step results.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
	"github.com/fyrsmithlabs/recipeflow/internal/harness"
	"github.com/fyrsmithlabs/recipeflow/internal/orchestrator"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	planLines       = 8
	recentSteps     = 5
)

// StepResult is one executed tool call.
type StepResult struct {
	Step  int
	Tool  string
	Value extraction.Value
}

// Model is the BubbleTea model for a run.
type Model struct {
	goal          string
	maxIterations int
	maxCritique   int
	cancel        context.CancelFunc

	spinner  spinner.Model
	progress progress.Model

	state    orchestrator.State
	step     int
	critique int
	plan     string
	steps    []StepResult
	history  []float64
	result   *harness.Result
	started  time.Time
	elapsed  time.Duration
	quitting bool
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a model for a run of goal. cancel, when set, is called
// if the user quits before the run finishes.
func NewModel(goal string, cfg orchestrator.Config, cancel context.CancelFunc) Model {
	return Model{
		goal:          goal,
		maxIterations: cfg.MaxIterations,
		maxCritique:   cfg.MaxCritiqueAttempts,
		cancel:        cancel,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(sparklineStyle),
		),
		progress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
		state:   orchestrator.StatePlan,
		step:    1,
		history: make([]float64, 0, historySize),
		started: time.Now(),
	}
}

// Message types
type progressMsg orchestrator.Progress
type planChunkMsg string
type stepResultMsg StepResult
type doneMsg harness.Result

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			if m.cancel != nil && m.result == nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.result != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		m.state = msg.State
		m.step = msg.StepNumber
		m.critique = msg.CritiqueAttempts
		if msg.State == orchestrator.StatePlan && m.critique > 1 {
			// A rejected plan is regenerated from scratch.
			m.plan = ""
		}
		return m, nil

	case planChunkMsg:
		m.plan += string(msg)
		return m, nil

	case stepResultMsg:
		m.steps = append(m.steps, StepResult(msg))
		if n, ok := msg.Value.AsNumber(); ok {
			m.history = appendToHistory(m.history, n)
		}
		return m, nil

	case doneMsg:
		res := harness.Result(msg)
		m.result = &res
		m.elapsed = time.Since(m.started)
		if res.Failure == nil {
			m.state = orchestrator.StateDone
		}
		return m, tea.Quit
	}

	return m, nil
}

// Result returns the run result once the run has finished.
func (m Model) Result() (harness.Result, bool) {
	if m.result == nil {
		return harness.Result{}, false
	}
	return *m.result, true
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no numeric results"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

func (m Model) stateBadge() string {
	switch {
	case m.result != nil && m.result.Failure != nil:
		return errorStyle.Render("✗ FAILED")
	case m.result != nil:
		return healthyStyle.Render("✓ DONE")
	case m.state == orchestrator.StateCritique && m.critique > 1:
		return warningStyle.Render(m.spinner.View() + " " + strings.ToUpper(string(m.state)))
	default:
		return valueStyle.Render(m.spinner.View() + " " + strings.ToUpper(string(m.state)))
	}
}

// View renders the run.
func (m Model) View() string {
	if m.quitting && m.result == nil {
		return dimStyle.Render("run canceled") + "\n"
	}

	var b strings.Builder

	elapsed := m.elapsed
	if m.result == nil {
		elapsed = time.Since(m.started)
	}
	b.WriteString(headerStyle.Render(" recipeflow ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s %s\n",
		m.stateBadge(),
		dimStyle.Render("Elapsed:"),
		valueStyle.Render(FormatElapsed(elapsed))))

	b.WriteString("\n" + sectionStyle.Render("┃ Goal") + "\n")
	b.WriteString("  " + valueStyle.Render(m.goal) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Progress") + "\n")
	b.WriteString(labelStyle.Render("  Step: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.step)) +
		dimStyle.Render(fmt.Sprintf(" / %d", m.maxIterations)) + "\n")
	b.WriteString(labelStyle.Render("  Critique attempts: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.critique)) +
		dimStyle.Render(fmt.Sprintf(" (max %d)", m.maxCritique)) + "\n")
	b.WriteString(labelStyle.Render("  Iterations: ") +
		m.progress.ViewAs(Ratio(m.step-1, m.maxIterations)) + "\n")

	if plan := strings.TrimSpace(m.plan); plan != "" {
		b.WriteString("\n" + sectionStyle.Render("┃ Plan") + "\n")
		for _, line := range LastLines(plan, planLines) {
			b.WriteString("  " + dimStyle.Render(line) + "\n")
		}
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Step Results") + "\n")
	b.WriteString("  " + createSparkline(m.history) + "\n")
	start := max(0, len(m.steps)-recentSteps)
	for _, s := range m.steps[start:] {
		b.WriteString(labelStyle.Render(fmt.Sprintf("  step%d ", s.Step)) +
			dimStyle.Render(s.Tool+" → ") +
			valueStyle.Render(s.Value.String()) + "\n")
	}

	if m.result != nil {
		b.WriteString("\n" + sectionStyle.Render("┃ Result") + "\n")
		if f := m.result.Failure; f != nil {
			b.WriteString("  " + errorStyle.Render(string(f.Kind)) + " " + dimStyle.Render(f.Message) + "\n")
		} else {
			b.WriteString("  " + healthyStyle.Render(m.result.Output.FinalResult.String()) + "\n")
		}
	}

	b.WriteString("\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" quit"))

	return containerStyle.Render(b.String())
}
