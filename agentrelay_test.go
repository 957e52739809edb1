package agentrelay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
)

func newRelay(t *testing.T, routerReplies ...string) (*Relay, *model.MockModel) {
	t.Helper()
	responses := make([]model.Response, 0, len(routerReplies))
	for _, r := range routerReplies {
		responses = append(responses, model.TextResponse(r))
	}
	routerLLM := model.NewMockModel("router", responses...)
	router, err := agent.NewRouter(routerLLM)
	require.NoError(t, err)

	summarizer := agent.NewSummarizer(model.NewMockModelFunc("summarizer", func(req model.Request) (model.Response, error) {
		last := req.Turns[len(req.Turns)-1]
		return model.TextResponse("Summary: " + last.Text()), nil
	}))

	oracle := agent.New("oracle", model.NewMockModel("oracle", model.TextResponse("It is sunny in Berlin.")))
	transfer := tool.NewFunctionTool("transfer", "Transfer tokens", map[string]any{"type": "object"},
		func(*core.CapabilityContext, map[string]any) (any, error) { return "0xabc123", nil })
	degen := agent.New("degen", model.NewMockModel("degen",
		model.ToolCallResponse(core.FunctionCall{ID: "c1", Name: "transfer", Arguments: `{"to":"alice.eth","amount":5}`}),
		model.TextResponse("Sent 5 tokens, tx 0xabc123."),
	), func(o *agent.Options) { o.Tools = []tool.Tool{transfer} })

	relay, err := New(router, summarizer, []core.Agent{oracle, degen}, func(o *Options) {
		o.TransactionalAgent = "degen"
		o.KnowledgeAgent = "oracle"
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = relay.Close() })
	return relay, routerLLM
}

// -------------------- Relay Tests --------------------

func TestRelay_Ask(t *testing.T) {
	relay, _ := newRelay(t, "oracle", "done")

	reply, err := relay.Ask(context.Background(), "s-1", "What's the weather in Berlin?")
	require.NoError(t, err)
	assert.Equal(t, "Summary: It is sunny in Berlin.", reply)

	recs, err := relay.Engine().Store().ListBySession(context.Background(), "s-1", 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRelay_NotifyChainEvent(t *testing.T) {
	relay, routerLLM := newRelay(t, "done")

	reply, err := relay.Notify(context.Background(), core.ChainEvent{
		Network:   "base",
		EventType: "Transfer",
		TxHash:    "0xfeed",
		Timestamp: time.Now(),
	}, "")
	require.NoError(t, err)
	assert.Contains(t, reply, "0xabc123")
	assert.Equal(t, 1, routerLLM.Calls(), "the classified agent runs without a routing call")
}

func TestRelay_RegistrationErrors(t *testing.T) {
	router, err := agent.NewRouter(model.NewMockModel("router"))
	require.NoError(t, err)
	summarizer := agent.NewSummarizer(model.NewMockModel("summarizer"))
	a := agent.New("oracle", model.NewMockModel("oracle"))

	_, err = New(router, summarizer, []core.Agent{a, a})
	assert.Error(t, err)
}
