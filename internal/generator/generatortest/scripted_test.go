package generatortest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recipeflow/internal/generator"
)

func TestScripted_ReplaysInOrder(t *testing.T) {
	boom := errors.New("boom")
	s := NewScripted(Reply{Text: "one"}, Reply{Err: boom}, Reply{Text: "three"})
	ctx := context.Background()

	out, err := s.GenerateText(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	_, err = s.Chat(ctx, []generator.Message{generator.User("p2")})
	assert.ErrorIs(t, err, boom)

	var streamed string
	out, err = s.StreamChat(ctx, nil, func(_ context.Context, c string) error {
		streamed += c
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "three", out)
	assert.Equal(t, "three", streamed)

	_, err = s.GenerateText(ctx, "p4")
	assert.ErrorIs(t, err, ErrScriptExhausted)

	calls := s.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "GenerateText", calls[0].Method)
	assert.Equal(t, "p1", calls[0].Prompt)
	assert.Equal(t, "Chat", calls[1].Method)
	assert.Equal(t, 0, s.Remaining())
}

func TestScripted_DelayHonorsContext(t *testing.T) {
	s := NewScripted(Reply{Text: "late", Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := s.GenerateText(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMock(t *testing.T) {
	m := &Mock{}
	m.On("GenerateText", mock.Anything, "hello").Return("world", nil)

	out, err := m.GenerateText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "world", out)
	m.AssertExpectations(t)
}
