// Package events publishes run lifecycle events to NATS.
//
// Events are published to subjects:
//   - {prefix}.{run_id}.started
//   - {prefix}.{run_id}.progress
//   - {prefix}.{run_id}.completed
//   - {prefix}.{run_id}.failed
//
// Run IDs are reduced to a single subject token first.
//
// Payloads are JSON-encoded RunEvent values. Progress events carry state
// tags and counters only; step results are delivered with completed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recipeflow/internal/config"
	"github.com/fyrsmithlabs/recipeflow/internal/harness"
	"github.com/fyrsmithlabs/recipeflow/internal/logging"
	"github.com/fyrsmithlabs/recipeflow/internal/orchestrator"
	"github.com/fyrsmithlabs/recipeflow/internal/sanitize"
)

// Type names a lifecycle event.
type Type string

const (
	TypeStarted   Type = "started"
	TypeProgress  Type = "progress"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "recipeflow.runs"

// RunEvent is the payload of every published message.
type RunEvent struct {
	RunID     string                 `json:"run_id"`
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Goal      string                 `json:"goal,omitempty"`
	Progress  *orchestrator.Progress `json:"progress,omitempty"`
	Output    *harness.Output        `json:"output,omitempty"`
	Failure   *harness.Failure       `json:"failure,omitempty"`
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends run events to NATS. It implements harness.Observer.
type Publisher struct {
	conn   Conn
	prefix string
	now    func() time.Time
}

var _ harness.Observer = (*Publisher)(nil)

// NewPublisher creates a publisher on conn. An empty prefix uses DefaultPrefix.
func NewPublisher(conn Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{conn: conn, prefix: prefix, now: time.Now}
}

// Connect dials the NATS server named in cfg.
func Connect(cfg config.EventsConfig, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("recipeflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Subject returns the subject for one event of one run.
func Subject(prefix, runID string, t Type) string {
	return fmt.Sprintf("%s.%s.%s", prefix, sanitize.SubjectToken(runID), t)
}

// RunStarted publishes a started event.
func (p *Publisher) RunStarted(_ context.Context, runID string, in harness.Input) error {
	return p.publish(RunEvent{RunID: runID, Type: TypeStarted, Goal: in.Goal})
}

// RunProgress publishes a progress event.
func (p *Publisher) RunProgress(_ context.Context, pr orchestrator.Progress) error {
	return p.publish(RunEvent{RunID: pr.RunID, Type: TypeProgress, Progress: &pr})
}

// RunCompleted publishes a completed event carrying the output.
func (p *Publisher) RunCompleted(_ context.Context, runID string, out harness.Output) error {
	return p.publish(RunEvent{RunID: runID, Type: TypeCompleted, Goal: out.Goal, Output: &out})
}

// RunFailed publishes a failed event carrying the failure.
func (p *Publisher) RunFailed(_ context.Context, runID string, f harness.Failure) error {
	return p.publish(RunEvent{RunID: runID, Type: TypeFailed, Failure: &f})
}

func (p *Publisher) publish(ev RunEvent) error {
	if ev.RunID == "" {
		return fmt.Errorf("publish %s event: missing run id", ev.Type)
	}
	ev.Timestamp = p.now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if err := p.conn.Publish(Subject(p.prefix, ev.RunID, ev.Type), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// Subscribe delivers decoded events for runID, or for every run when runID
// is empty. Messages that fail to decode are skipped.
func Subscribe(nc *nats.Conn, prefix, runID string, fn func(RunEvent)) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	id := "*"
	if runID != "" {
		id = sanitize.SubjectToken(runID)
	}
	return nc.Subscribe(prefix+"."+id+".*", func(msg *nats.Msg) {
		var ev RunEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		fn(ev)
	})
}
