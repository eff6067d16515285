// Package generator abstracts the text generation service that plans,
// critiques and directs a run.
//
// The orchestrator only consumes fully resolved text; the streaming variants
// exist for interactive callers that want to surface tokens as they arrive.
package generator

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnavailable wraps transport or service failures.
	ErrUnavailable = errors.New("generator unavailable")

	// ErrEmptyResponse is returned when the service answers with no choices.
	ErrEmptyResponse = errors.New("generator returned no content")
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// StreamFunc receives incremental text. Returning an error aborts the stream.
type StreamFunc func(ctx context.Context, chunk string) error

// Generator turns prompts or chat transcripts into text.
type Generator interface {
	GenerateText(ctx context.Context, prompt string, opts ...CallOption) (string, error)
	Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, error)
	StreamText(ctx context.Context, prompt string, fn StreamFunc, opts ...CallOption) (string, error)
	StreamChat(ctx context.Context, messages []Message, fn StreamFunc, opts ...CallOption) (string, error)
}

// CallOptions tunes a single call. Zero values defer to the backend defaults.
type CallOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// CallOption mutates CallOptions.
type CallOption func(*CallOptions)

// WithModel selects a model for one call.
func WithModel(model string) CallOption {
	return func(o *CallOptions) { o.Model = model }
}

// WithTemperature sets the sampling temperature for one call.
func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) { o.Temperature = &t }
}

// WithMaxTokens caps the response length for one call.
func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = n }
}

// ApplyOptions folds opts over defaults.
func ApplyOptions(defaults CallOptions, opts ...CallOption) CallOptions {
	o := defaults
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Transcript renders messages as "role: content" lines, for logs and tests.
func Transcript(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
