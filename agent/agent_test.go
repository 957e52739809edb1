package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transferTool(hash string) tool.Tool {
	return tool.NewFunctionTool("transfer", "Transfer tokens",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to":     map[string]any{"type": "string"},
				"amount": map[string]any{"type": "number"},
			},
			"required": []string{"to", "amount"},
		},
		func(_ *core.CapabilityContext, _ map[string]any) (any, error) { return hash, nil },
	)
}

// -------------------- Agent Tests --------------------

func TestAgent_ProcessWithCapability(t *testing.T) {
	llm := model.NewMockModel("m",
		model.ToolCallResponse(core.FunctionCall{ID: "c1", Name: "transfer", Arguments: `{"to":"alice.eth","amount":5}`}),
		model.TextResponse("Transferred 5 tokens to alice.eth. Tx: 0xfeed"),
	)
	a := New("degen", llm, func(o *Options) {
		o.Persona = "You execute on-chain transactions."
		o.Tools = []tool.Tool{transferTool("0xfeed")}
	})

	turn, err := a.Process(context.Background(), core.Transcript{core.NewUserTurn("Transfer 5 tokens to alice.eth")})
	require.NoError(t, err)
	assert.Contains(t, turn.Text(), "0xfeed")

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "You execute on-chain transactions.", reqs[0].Turns[0].Text())
	require.Len(t, reqs[0].Tools, 1)
}

func TestAgent_AddCapabilitiesRebinds(t *testing.T) {
	llm := model.NewMockModel("m", model.TextResponse("ok"))
	a := New("degen", llm)
	assert.Empty(t, a.ToolDefinitions())

	require.NoError(t, a.AddCapabilities(transferTool("0x1")))
	require.Len(t, a.ToolDefinitions(), 1)

	_, err := a.Process(context.Background(), core.Transcript{core.NewUserTurn("hello there")})
	require.NoError(t, err)
	require.Len(t, llm.Requests()[0].Tools, 1)
	assert.Equal(t, "transfer", llm.Requests()[0].Tools[0].Function.Name)
}

func TestAgent_SealedRejectsChanges(t *testing.T) {
	a := New("degen", model.NewMockModel("m"))
	a.Seal()

	err := a.AddCapabilities(transferTool("0x1"))
	assert.ErrorIs(t, err, core.ErrSealed)
	assert.ErrorIs(t, a.SetPersona("new"), core.ErrSealed)
}

func TestAgent_ModelFailurePropagates(t *testing.T) {
	llm := model.NewMockModel("m")
	llm.FailNext(errors.New("upstream 503"))

	_, err := New("oracle", llm).Process(context.Background(), core.Transcript{core.NewUserTurn("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream 503")
}

func TestAgent_NewFromBinding(t *testing.T) {
	r := model.NewResolver("mock")
	var got model.Binding
	r.Register("mock", func(b model.Binding) (model.Model, error) {
		got = b
		return model.NewMockModel(b.ModelName), nil
	})

	a, err := NewFromBinding("oracle", model.Binding{ModelName: "mock:gpt-x", Temperature: 0.2}, r)
	require.NoError(t, err)
	assert.Equal(t, "gpt-x", a.Model().Info().Name)
	assert.Equal(t, 0.2, got.Temperature)

	_, err = NewFromBinding("oracle", model.Binding{ModelName: "nope:x"}, r)
	assert.Error(t, err)
}

func TestAgent_Think(t *testing.T) {
	llm := model.NewMockModel("m", model.TextResponse("thought"))
	a := New("oracle", llm, func(o *Options) { o.Tools = []tool.Tool{transferTool("0x")} })

	turn, err := a.Think(context.Background(), core.Transcript{core.NewUserTurn("hi")})
	require.NoError(t, err)
	assert.Equal(t, "thought", turn.Text())
	assert.Empty(t, llm.Requests()[0].Tools)
}
