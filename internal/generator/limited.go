package generator

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited throttles calls to an underlying Generator.
type Limited struct {
	next    Generator
	limiter *rate.Limiter
}

var _ Generator = (*Limited)(nil)

// NewLimited wraps next with a token bucket of rps and burst.
// rps <= 0 disables throttling.
func NewLimited(next Generator, rps float64, burst int) *Limited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		// Wait refuses early when the deadline is too close, without
		// returning a context error.
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			return fmt.Errorf("rate limiter: %w: %w", context.DeadlineExceeded, err)
		}
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (l *Limited) GenerateText(ctx context.Context, prompt string, opts ...CallOption) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.next.GenerateText(ctx, prompt, opts...)
}

func (l *Limited) Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.next.Chat(ctx, messages, opts...)
}

func (l *Limited) StreamText(ctx context.Context, prompt string, fn StreamFunc, opts ...CallOption) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.next.StreamText(ctx, prompt, fn, opts...)
}

func (l *Limited) StreamChat(ctx context.Context, messages []Message, fn StreamFunc, opts ...CallOption) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.next.StreamChat(ctx, messages, fn, opts...)
}
