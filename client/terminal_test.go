package client

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

// -------------------- Terminal Tests --------------------

func TestTerminal_RoundTrip(t *testing.T) {
	var out bytes.Buffer
	c := NewTerminal(func(o *TerminalOptions) {
		o.In = strings.NewReader("hello\n\n  \nboom\nexit\nignored\n")
		o.Out = &out
		o.SessionID = "s-1"
	})

	var got []core.Turn
	c.OnMessage(func(ctx context.Context, turn core.Turn) error {
		got = append(got, turn)
		if turn.Text() == "boom" {
			return errors.New("router unavailable")
		}
		return c.SendMessage(ctx, core.NewAgentTurn("summarizer", "hi there"))
	})

	require.NoError(t, c.Start(context.Background()))

	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text())
	assert.Equal(t, "s-1", got[0].SessionID())
	assert.Equal(t, core.RoleUser, got[0].Role)

	assert.Contains(t, out.String(), "summarizer: hi there\n")
	assert.Contains(t, out.String(), "error: router unavailable\n")
	assert.Equal(t, "terminal", c.Name())
}

func TestTerminal_EndOfInput(t *testing.T) {
	var out bytes.Buffer
	c := NewTerminal(func(o *TerminalOptions) {
		o.In = strings.NewReader("only line")
		o.Out = &out
		o.Prompt = "$ "
	})
	calls := 0
	c.OnMessage(func(context.Context, core.Turn) error {
		calls++
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, 1, calls)
	assert.True(t, strings.HasPrefix(out.String(), "$ "))
}

func TestTerminal_SendMessageDefaultsAuthor(t *testing.T) {
	var out bytes.Buffer
	c := NewTerminal(func(o *TerminalOptions) { o.Out = &out })

	require.NoError(t, c.SendMessage(context.Background(), core.Turn{Parts: []core.Part{core.TextPart{Text: "ok"}}}))
	assert.Equal(t, "assistant: ok\n", out.String())
}
