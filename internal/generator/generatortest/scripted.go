// Package generatortest provides deterministic Generator doubles.
package generatortest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fyrsmithlabs/recipeflow/internal/generator"
)

// ErrScriptExhausted is returned once every scripted reply has been consumed.
var ErrScriptExhausted = errors.New("script exhausted")

// Reply is one scripted response.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Call records what a Scripted generator was asked.
type Call struct {
	Method   string
	Prompt   string
	Messages []generator.Message
}

// Scripted replays replies in order regardless of input.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	index   int
	calls   []Call
}

var _ generator.Generator = (*Scripted)(nil)

// NewScripted returns a generator replaying replies.
func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Texts is shorthand for a script of successful replies.
func Texts(texts ...string) *Scripted {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return NewScripted(replies...)
}

// Calls returns a copy of recorded calls.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Remaining reports how many replies are unconsumed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies) - s.index
}

func (s *Scripted) next(ctx context.Context, call Call) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	if s.index >= len(s.replies) {
		n := s.index
		s.mu.Unlock()
		return "", fmt.Errorf("%w at call %d", ErrScriptExhausted, n+1)
	}
	r := s.replies[s.index]
	s.index++
	s.mu.Unlock()

	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

func (s *Scripted) GenerateText(ctx context.Context, prompt string, _ ...generator.CallOption) (string, error) {
	return s.next(ctx, Call{Method: "GenerateText", Prompt: prompt})
}

func (s *Scripted) Chat(ctx context.Context, messages []generator.Message, _ ...generator.CallOption) (string, error) {
	return s.next(ctx, Call{Method: "Chat", Messages: messages})
}

func (s *Scripted) StreamText(ctx context.Context, prompt string, fn generator.StreamFunc, _ ...generator.CallOption) (string, error) {
	text, err := s.next(ctx, Call{Method: "StreamText", Prompt: prompt})
	if err != nil {
		return "", err
	}
	return text, emit(ctx, text, fn)
}

func (s *Scripted) StreamChat(ctx context.Context, messages []generator.Message, fn generator.StreamFunc, _ ...generator.CallOption) (string, error) {
	text, err := s.next(ctx, Call{Method: "StreamChat", Messages: messages})
	if err != nil {
		return "", err
	}
	return text, emit(ctx, text, fn)
}

// emit delivers text one rune at a time.
func emit(ctx context.Context, text string, fn generator.StreamFunc) error {
	if fn == nil {
		return nil
	}
	for _, r := range text {
		if err := fn(ctx, string(r)); err != nil {
			return err
		}
	}
	return nil
}

// Mock is a testify mock of generator.Generator.
type Mock struct {
	mock.Mock
}

var _ generator.Generator = (*Mock)(nil)

func (m *Mock) GenerateText(ctx context.Context, prompt string, _ ...generator.CallOption) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *Mock) Chat(ctx context.Context, messages []generator.Message, _ ...generator.CallOption) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

func (m *Mock) StreamText(ctx context.Context, prompt string, fn generator.StreamFunc, _ ...generator.CallOption) (string, error) {
	args := m.Called(ctx, prompt, fn)
	return args.String(0), args.Error(1)
}

func (m *Mock) StreamChat(ctx context.Context, messages []generator.Message, fn generator.StreamFunc, _ ...generator.CallOption) (string, error) {
	args := m.Called(ctx, messages, fn)
	return args.String(0), args.Error(1)
}
