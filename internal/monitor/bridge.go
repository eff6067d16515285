package monitor

import (
	"context"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
	"github.com/fyrsmithlabs/recipeflow/internal/harness"
	"github.com/fyrsmithlabs/recipeflow/internal/orchestrator"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
)

// Sender delivers messages to a running program. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Bridge forwards run events into a BubbleTea program. Events that arrive
// before Attach are dropped.
type Bridge struct {
	mu     sync.RWMutex
	sender Sender
	step   atomic.Int64
}

var _ harness.Observer = (*Bridge)(nil)

// NewBridge returns an unattached bridge.
func NewBridge() *Bridge {
	b := &Bridge{}
	b.step.Store(1)
	return b
}

// Attach directs subsequent events to s.
func (b *Bridge) Attach(s Sender) {
	b.mu.Lock()
	b.sender = s
	b.mu.Unlock()
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.RLock()
	s := b.sender
	b.mu.RUnlock()
	if s != nil {
		s.Send(msg)
	}
}

// PlanChunk is an orchestrator.PlanStreamFunc.
func (b *Bridge) PlanChunk(chunk string) {
	b.send(planChunkMsg(chunk))
}

// Done delivers the final result and ends the program.
func (b *Bridge) Done(res harness.Result) {
	b.send(doneMsg(res))
}

func (b *Bridge) RunStarted(context.Context, string, harness.Input) error {
	return nil
}

func (b *Bridge) RunProgress(_ context.Context, p orchestrator.Progress) error {
	b.step.Store(int64(p.StepNumber))
	b.send(progressMsg(p))
	return nil
}

func (b *Bridge) RunCompleted(context.Context, string, harness.Output) error {
	return nil
}

func (b *Bridge) RunFailed(context.Context, string, harness.Failure) error {
	return nil
}

// WrapTools decorates ts so that every successful call is reported as a
// step result.
func (b *Bridge) WrapTools(ts []tools.Tool) []tools.Tool {
	out := make([]tools.Tool, len(ts))
	for i, t := range ts {
		out[i] = &observedTool{Tool: t, bridge: b}
	}
	return out
}

type observedTool struct {
	tools.Tool
	bridge *Bridge
}

func (t *observedTool) Execute(ctx context.Context, params extraction.Map) (extraction.Value, error) {
	v, err := t.Tool.Execute(ctx, params)
	if err == nil {
		t.bridge.send(stepResultMsg{
			Step:  int(t.bridge.step.Load()),
			Tool:  t.Spec().Name,
			Value: v,
		})
	}
	return v, err
}
