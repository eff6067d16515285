package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/fyrsmithlabs/recipeflow/internal/config"
)

// LangChain adapts a langchaingo model to Generator.
type LangChain struct {
	model    llms.Model
	defaults CallOptions
}

var _ Generator = (*LangChain)(nil)

// NewLangChain wraps an existing langchaingo model.
func NewLangChain(model llms.Model, defaults CallOptions) *LangChain {
	return &LangChain{model: model, defaults: defaults}
}

// New builds the backend selected by cfg and wraps it in a rate limiter.
func New(cfg config.GeneratorConfig) (Generator, error) {
	var (
		model llms.Model
		err   error
	)

	switch cfg.Provider {
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	case "openai":
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey.Value()),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	defaults := CallOptions{Model: cfg.Model, MaxTokens: cfg.MaxTokens}
	if cfg.Temperature > 0 {
		t := cfg.Temperature
		defaults.Temperature = &t
	}

	return NewLimited(NewLangChain(model, defaults), cfg.RateLimitRPS, cfg.RateLimitBurst), nil
}

func (g *LangChain) GenerateText(ctx context.Context, prompt string, opts ...CallOption) (string, error) {
	return g.generate(ctx, []Message{User(prompt)}, nil, opts)
}

func (g *LangChain) Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	return g.generate(ctx, messages, nil, opts)
}

func (g *LangChain) StreamText(ctx context.Context, prompt string, fn StreamFunc, opts ...CallOption) (string, error) {
	return g.generate(ctx, []Message{User(prompt)}, fn, opts)
}

func (g *LangChain) StreamChat(ctx context.Context, messages []Message, fn StreamFunc, opts ...CallOption) (string, error) {
	return g.generate(ctx, messages, fn, opts)
}

func (g *LangChain) generate(ctx context.Context, messages []Message, fn StreamFunc, opts []CallOption) (string, error) {
	o := ApplyOptions(g.defaults, opts...)

	var callOpts []llms.CallOption
	if o.Model != "" {
		callOpts = append(callOpts, llms.WithModel(o.Model))
	}
	if o.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*o.Temperature))
	}
	if o.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(o.MaxTokens))
	}
	if fn != nil {
		callOpts = append(callOpts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			return fn(ctx, string(chunk))
		}))
	}

	resp, err := g.model.GenerateContent(ctx, toContent(messages), callOpts...)
	if err != nil {
		return "", classify(ctx, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// toContent maps messages onto langchaingo chat roles.
func toContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role schema.ChatMessageType
		switch m.Role {
		case RoleSystem:
			role = schema.ChatMessageTypeSystem
		case RoleAssistant:
			role = schema.ChatMessageTypeAI
		default:
			role = schema.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

// classify keeps context errors recognizable and wraps everything else as ErrUnavailable.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	msg := strings.TrimSpace(err.Error())
	return fmt.Errorf("%w: %s", ErrUnavailable, msg)
}
