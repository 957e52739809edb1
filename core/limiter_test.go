package core

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentrelay/logging"
)

func TestIterationLimiter(t *testing.T) {
	l := NewIterationLimiter(2)
	assert.NoError(t, l.Next())
	assert.NoError(t, l.Next())
	assert.Equal(t, 0, l.Remaining())

	err := l.Next()
	assert.True(t, errors.Is(err, ErrIterationLimit))
	assert.Equal(t, 2, l.Count())
}

func TestIterationLimiter_Unbounded(t *testing.T) {
	l := NewIterationLimiter(0)
	for i := 0; i < 100; i++ {
		assert.NoError(t, l.Next())
	}
	assert.Equal(t, -1, l.Remaining())
}

func TestCapabilityContext_ReadsRunInfo(t *testing.T) {
	ctx := WithRunInfo(context.Background(), RunInfo{
		RunID:     "run-1",
		SessionID: "s-1",
		Metadata:  map[string]string{"chat": "tg"},
	})

	cc := NewCapabilityContext(ctx, "degen", "call-9", nil)
	assert.Equal(t, "run-1", cc.RunID())
	assert.Equal(t, "s-1", cc.SessionID())
	assert.Equal(t, "degen", cc.AgentName())
	assert.Equal(t, "call-9", cc.CallID())

	v, ok := cc.Metadata("chat")
	assert.True(t, ok)
	assert.Equal(t, "tg", v)

	assert.NotNil(t, cc.Logger())
}

func TestCapabilityContext_ScopedLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithRunInfo(context.Background(), RunInfo{RunID: "run-7"})
	cc := NewCapabilityContext(ctx, "oracle", "call-1", logging.New(logging.LogLevelDebug, "text", &buf))

	cc.Logger().Info("lookup")

	out := buf.String()
	assert.Contains(t, out, "agent=oracle")
	assert.Contains(t, out, "call_id=call-1")
	assert.Contains(t, out, "run_id=run-7")
}
