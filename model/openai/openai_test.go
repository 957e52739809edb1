package openai

import (
	"testing"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessages_RolesAndToolResults(t *testing.T) {
	call := core.NewTurn(core.RoleAgent, "degen", core.FunctionCallPart{
		FunctionCall: core.FunctionCall{ID: "c1", Name: "transfer", Arguments: `{"amount":5}`},
	})
	turns := core.Transcript{
		core.NewSystemTurn("degen", "You move tokens."),
		core.NewUserTurn("Transfer 5 tokens to alice.eth"),
		call,
		core.NewToolResultTurn("degen", "c1", "transfer", "0xabc", nil),
		core.NewAgentTurn("degen", "Sent, tx 0xabc"),
	}

	msgs := buildMessages(turns)
	require.Len(t, msgs, 5)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "transfer", msgs[2].OfAssistant.ToolCalls[0].Function.Name)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	assert.NotNil(t, msgs[4].OfAssistant)
}

func TestFinalParts_OrdersToolCalls(t *testing.T) {
	parts := finalParts("thinking", map[int64]*aggCall{
		1: {id: "b", name: "second"},
		0: {id: "a", name: "first"},
	})

	require.Len(t, parts, 3)
	assert.Equal(t, "first", parts[1].(core.FunctionCallPart).FunctionCall.Name)
	assert.Equal(t, "second", parts[2].(core.FunctionCallPart).FunctionCall.Name)
}

func TestFactory_BindsModelName(t *testing.T) {
	f := Factory(func(o *Options) { o.APIKey = "test-key" })

	m, err := f(model.Binding{ModelName: "gpt-4o", Temperature: 0.1})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", m.Info().Name)
	assert.Equal(t, "openai", m.Info().Provider)
}
