package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relay struct {
	coordinator *Coordinator
	routerLLM   *model.MockModel
	oracleLLM   *model.MockModel
	degenLLM    *model.MockModel
	summaryLLM  *model.MockModel
}

// echoSummary replies with the non-system texts it was given, so tests can
// assert what reached the summarizer.
func echoSummary() *model.MockModel {
	return model.NewMockModelFunc("summary", func(req model.Request) (model.Response, error) {
		var parts []string
		for _, t := range req.Turns {
			if t.Role != core.RoleSystem {
				parts = append(parts, t.Text())
			}
		}
		return model.TextResponse(strings.Join(parts, " | ")), nil
	})
}

func newRelay(t *testing.T, routerLLM, oracleLLM, degenLLM *model.MockModel, optFns ...func(o *CoordinatorOptions)) *relay {
	t.Helper()

	router, err := agent.NewRouter(routerLLM)
	require.NoError(t, err)

	transfer := tool.NewFunctionTool("transfer", "Transfer tokens to an address",
		map[string]any{"type": "object", "properties": map[string]any{"to": map[string]any{"type": "string"}}},
		func(_ *core.CapabilityContext, _ map[string]any) (any, error) { return "0x9f2c4e1ab", nil },
	)
	oracle := agent.New("oracle", oracleLLM, func(o *agent.Options) { o.Description = "Knowledge and weather" })
	degen := agent.New("degen", degenLLM, func(o *agent.Options) {
		o.Description = "On-chain transactions"
		o.Tools = []tool.Tool{transfer}
	})
	summaryLLM := echoSummary()
	summarizer := agent.NewSummarizer(summaryLLM)

	c, err := NewCoordinator(router, summarizer, []core.Agent{oracle, degen}, optFns...)
	require.NoError(t, err)

	return &relay{coordinator: c, routerLLM: routerLLM, oracleLLM: oracleLLM, degenLLM: degenLLM, summaryLLM: summaryLLM}
}

// -------------------- Coordinator Construction Tests --------------------

func TestNewCoordinator_Graph(t *testing.T) {
	r := newRelay(t, model.NewMockModel("router"), model.NewMockModel("oracle"), model.NewMockModel("degen"))

	assert.Equal(t, "coordinator", r.coordinator.Graph().Entry())
	assert.ElementsMatch(t, []string{"coordinator", "summarizer", "oracle", "degen"}, r.coordinator.Graph().Nodes())
	assert.Equal(t, "oracle", r.coordinator.Fallback())
	assert.Equal(t, []string{"oracle", "degen"}, r.coordinator.Agents())
}

func TestNewCoordinator_Validation(t *testing.T) {
	router, err := agent.NewRouter(model.NewMockModel("router"))
	require.NoError(t, err)
	summarizer := agent.NewSummarizer(model.NewMockModel("s"))

	_, err = NewCoordinator(router, summarizer, nil)
	assert.Error(t, err)

	_, err = NewCoordinator(router, summarizer, []core.Agent{agent.New("summarizer", model.NewMockModel("x"))})
	assert.Error(t, err)

	_, err = NewCoordinator(router, summarizer, []core.Agent{agent.New("oracle", model.NewMockModel("x"))},
		func(o *CoordinatorOptions) { o.Fallback = "ghost" })
	assert.Error(t, err)
}

// -------------------- End-to-End Scenario Tests --------------------

func TestCoordinator_DirectAnswer(t *testing.T) {
	r := newRelay(t,
		model.NewMockModel("router", model.TextResponse("oracle"), model.TextResponse("done")),
		model.NewMockModel("oracle", model.TextResponse("Berlin is sunny today with a high of 21C.")),
		model.NewMockModel("degen"),
	)

	final, err := r.coordinator.Run(context.Background(), SeedMessage(core.NewUserTurn("What's the weather in Berlin?")))
	require.NoError(t, err)

	require.NotNil(t, final.Reply)
	assert.Contains(t, final.Reply.Text(), "sunny today with a high of 21C")
	assert.Equal(t, 1, final.Hops)
	assert.False(t, final.LoopDetected)
	assert.Equal(t, 2, r.routerLLM.Calls())
	assert.Equal(t, 0, r.degenLLM.Calls())

	assert.Equal(t, []string{
		"What's the weather in Berlin?",
		"Routing to oracle",
		"Berlin is sunny today with a high of 21C.",
		"Workflow complete",
	}, texts(final.Transcript[:4]))
	assert.Equal(t, "oracle", final.Transcript[1].Meta(core.MetadataRoute))
}

func TestCoordinator_CapabilityResultReachesReply(t *testing.T) {
	r := newRelay(t,
		model.NewMockModel("router", model.TextResponse("degen"), model.TextResponse("complete")),
		model.NewMockModel("oracle"),
		model.NewMockModel("degen",
			model.ToolCallResponse(core.FunctionCall{ID: "c1", Name: "transfer", Arguments: `{"to":"alice.eth"}`}),
			model.TextResponse("Transferred 5 tokens to alice.eth. Transaction hash: 0x9f2c4e1ab"),
		),
	)

	final, err := r.coordinator.Run(context.Background(), SeedMessage(core.NewUserTurn("Transfer 5 tokens to alice.eth")))
	require.NoError(t, err)

	assert.Contains(t, final.Reply.Text(), "0x9f2c4e1ab")
	assert.Equal(t, 2, r.degenLLM.Calls())

	// capability turns stay inside the agent; only its final turn joins the run
	for _, turn := range final.Transcript {
		assert.NotEqual(t, core.RoleToolResult, turn.Role)
	}
}

func TestCoordinator_LoopDetectionForcesSummary(t *testing.T) {
	r := newRelay(t,
		model.NewMockModel("router", model.TextResponse("degen")),
		model.NewMockModel("oracle"),
		model.NewMockModel("degen", model.TextResponse("I need the recipient address before I can send.")),
	)

	var loops []LoopReason
	c := r.coordinator
	c.opts.Observer.OnLoop = func(_ context.Context, _ State, reason LoopReason) { loops = append(loops, reason) }

	final, err := c.Run(context.Background(), SeedMessage(core.NewUserTurn("Send some tokens please")))
	require.NoError(t, err)

	assert.True(t, final.LoopDetected)
	assert.Equal(t, []LoopReason{LoopRepetition}, loops)
	assert.Equal(t, 2, r.degenLLM.Calls())
	assert.Equal(t, 2, r.routerLLM.Calls())
	require.NotNil(t, final.Reply)
	assert.Contains(t, final.Reply.Text(), "recipient address")
}

func TestCoordinator_HopCap(t *testing.T) {
	n := 0
	oracle := model.NewMockModelFunc("oracle", func(model.Request) (model.Response, error) {
		n++
		return model.TextResponse(fmt.Sprintf("Finding number %d about the market.", n)), nil
	})
	r := newRelay(t,
		model.NewMockModel("router", model.TextResponse("oracle")),
		oracle,
		model.NewMockModel("degen"),
		func(o *CoordinatorOptions) {
			o.MaxHops = 3
			o.LoopDetector.Window = 0
		},
	)

	final, err := r.coordinator.Run(context.Background(), SeedMessage(core.NewUserTurn("Tell me everything")))
	require.NoError(t, err)
	assert.Equal(t, 3, final.Hops)
	assert.NotNil(t, final.Reply)
}

func TestCoordinator_CompletionMarkerInProse(t *testing.T) {
	r := newRelay(t,
		model.NewMockModel("router", model.TextResponse("oracle"), model.TextResponse("The oracle has finished, nothing left.")),
		model.NewMockModel("oracle", model.TextResponse("Bitcoin trades at 97k USD right now.")),
		model.NewMockModel("degen"),
	)

	final, err := r.coordinator.Run(context.Background(), SeedMessage(core.NewUserTurn("BTC price?")))
	require.NoError(t, err)
	assert.Equal(t, 1, final.Hops)
	assert.Contains(t, final.Reply.Text(), "97k USD")
}

func TestCoordinator_FallbackRoutesToDefaultAgent(t *testing.T) {
	r := newRelay(t,
		model.NewMockModel("router",
			model.TextResponse("degen"),
			model.TextResponse("no idea"),
			model.TextResponse("done"),
		),
		model.NewMockModel("oracle", model.TextResponse("Nothing else is needed for this request.")),
		model.NewMockModel("degen", model.TextResponse("Balance of alice.eth is 42 tokens.")),
	)

	final, err := r.coordinator.Run(context.Background(), SeedMessage(core.NewUserTurn("What's alice.eth's balance?")))
	require.NoError(t, err)

	assert.Equal(t, "Routing to degen", final.Transcript[1].Text())
	assert.Equal(t, "Routing to oracle (fallback)", final.Transcript[3].Text())
	assert.Equal(t, "oracle", final.SelectedAgent)
	assert.Equal(t, 1, r.degenLLM.Calls())
	assert.Equal(t, 1, r.oracleLLM.Calls())
}

// -------------------- Event Run Tests --------------------

func TestCoordinator_EventRunPreselection(t *testing.T) {
	r := newRelay(t,
		model.NewMockModel("router", model.TextResponse("done")),
		model.NewMockModel("oracle"),
		model.NewMockModel("degen", model.TextResponse("Observed a 5 token transfer, no action required.")),
	)
	seeder, err := NewSeeder(NewClassifier("degen", "oracle"), nil)
	require.NoError(t, err)

	st, err := seeder.SeedEvent(chainEvent(), "")
	require.NoError(t, err)

	var decisions []agent.Decision
	r.coordinator.opts.Observer.OnRoute = func(_ context.Context, _ State, d agent.Decision) { decisions = append(decisions, d) }

	final, err := r.coordinator.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 1, r.routerLLM.Calls())
	assert.Equal(t, 1, r.degenLLM.Calls())
	require.Len(t, decisions, 2)
	assert.Equal(t, agent.MethodPreselected, decisions[0].Method)
	assert.True(t, decisions[1].Terminal)
	assert.Equal(t, core.TriggerEvent, final.TriggerType)
	assert.Contains(t, final.Reply.Text(), "no action required")
}

func TestCoordinator_UnknownOverrideIsFatal(t *testing.T) {
	r := newRelay(t, model.NewMockModel("router"), model.NewMockModel("oracle"), model.NewMockModel("degen"))

	st := SeedMessage(core.NewUserTurn("hi"))
	st.SelectedAgent = "ghost"

	_, err := r.coordinator.Run(context.Background(), st)
	assert.ErrorIs(t, err, ErrUnknownRoute)
	assert.ErrorIs(t, err, core.ErrAgentNotFound)
	assert.Equal(t, 0, r.routerLLM.Calls())
}

// -------------------- Failure Tests --------------------

func TestCoordinator_ModelFailureFailsRun(t *testing.T) {
	routerLLM := model.NewMockModel("router", model.TextResponse("oracle"))
	routerLLM.FailNext(errors.New("router offline"))
	r := newRelay(t, routerLLM, model.NewMockModel("oracle"), model.NewMockModel("degen"))

	_, err := r.coordinator.Run(context.Background(), SeedMessage(core.NewUserTurn("hi")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "router offline")
}

func TestCoordinator_TranscriptNeverShrinks(t *testing.T) {
	var lengths []int
	r := newRelay(t,
		model.NewMockModel("router", model.TextResponse("oracle"), model.TextResponse("degen"), model.TextResponse("done")),
		model.NewMockModel("oracle", model.TextResponse("ETH is at 3.1k USD according to the feed.")),
		model.NewMockModel("degen", model.TextResponse("Your wallet holds 2 ETH worth 6.2k USD.")),
		func(o *CoordinatorOptions) {
			o.Hooks.AfterNode = func(_ context.Context, _ string, s State, _ time.Duration, _ error) {
				lengths = append(lengths, len(s.Transcript))
			}
		},
	)

	_, err := r.coordinator.Run(context.Background(), SeedMessage(core.NewUserTurn("What is my ETH worth?")))
	require.NoError(t, err)

	require.NotEmpty(t, lengths)
	for i := 1; i < len(lengths); i++ {
		assert.GreaterOrEqual(t, lengths[i], lengths[i-1])
	}
}

func texts(tr core.Transcript) []string {
	out := make([]string, len(tr))
	for i, t := range tr {
		out[i] = t.Text()
	}
	return out
}
