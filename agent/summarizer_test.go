package agent

import (
	"context"
	"testing"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/testutil"
	"github.com/hupe1980/agentrelay/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- MetaFilter Tests --------------------

func TestMetaFilter_Keep(t *testing.T) {
	f := DefaultMetaFilter()

	assert.True(t, f.Keep(core.NewUserTurn("What's the weather in Berlin?")))
	assert.True(t, f.Keep(core.NewAgentTurn("oracle", "Berlin is sunny at 21C today.")))
	assert.False(t, f.Keep(core.NewAgentTurn("coordinator", "Routing to oracle")))
	assert.False(t, f.Keep(core.NewAgentTurn("coordinator", "Routing to oracle (fallback)")))
	assert.False(t, f.Keep(core.NewAgentTurn("coordinator", "Workflow complete")))
	assert.False(t, f.Keep(core.NewAgentTurn("oracle", "ok, done.")))
	assert.False(t, f.Keep(core.NewAgentTurn("oracle", "0123456789")))
	assert.True(t, f.Keep(core.NewAgentTurn("oracle", "01234567890")))
	assert.False(t, f.Keep(core.NewSystemTurn("oracle", "You are a very helpful oracle.")))
}

// -------------------- Summarizer Tests --------------------

func TestSummarizer_OnlySubstantiveTurnsReachModel(t *testing.T) {
	llm := model.NewMockModel("sum", model.TextResponse("Berlin is sunny at 21C."))
	s := NewSummarizer(llm)

	tr := core.Transcript{
		core.NewUserTurn("What's the weather in Berlin?"),
		core.NewAgentTurn("coordinator", "Routing to oracle"),
		core.NewAgentTurn("oracle", "Berlin is sunny at 21C today."),
		core.NewAgentTurn("coordinator", "Workflow complete"),
	}

	reply, err := s.Process(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, "Berlin is sunny at 21C.", reply.Text())

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	// persona + the two substantive turns
	assert.Equal(t, []string{
		DefaultSummarizerPersona,
		"What's the weather in Berlin?",
		"Berlin is sunny at 21C today.",
	}, testutil.Texts(reqs[0].Turns))
	assert.Empty(t, reqs[0].Tools)
}

func TestSummarizer_FallsBackToUserTurn(t *testing.T) {
	s := NewSummarizer(model.NewMockModel("sum"))

	tr := core.Transcript{
		core.NewUserTurn("hi"),
		core.NewAgentTurn("coordinator", "Routing to oracle"),
	}
	input, err := s.Input(tr)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, testutil.Texts(input))

	_, err = s.Input(core.Transcript{core.NewAgentTurn("coordinator", "Routing to oracle")})
	assert.ErrorIs(t, err, ErrNothingToSummarize)
}

func TestSummarizer_CustomFilter(t *testing.T) {
	s := NewSummarizer(model.NewMockModel("sum"), func(o *SummarizerOptions) {
		o.Filter = MetaFilter{Markers: []string{"[meta]"}, MinLength: 0}
	})

	input, err := s.Input(core.Transcript{
		core.NewUserTurn("short"),
		core.NewAgentTurn("oracle", "[META] internal"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, testutil.Texts(input))
}
