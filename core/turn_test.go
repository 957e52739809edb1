package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- Constructors --------------------

func TestTurn_Constructors(t *testing.T) {
	u := NewUserTurn("hello")
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, "hello", u.Text())
	assert.NotEmpty(t, u.ID)
	assert.False(t, u.Timestamp.IsZero())

	a := NewAgentTurn("oracle", "sunny")
	assert.Equal(t, RoleAgent, a.Role)
	assert.Equal(t, "oracle", a.Author)
	assert.False(t, a.HasToolRequests())
}

func TestTurn_ToolResultCapturesError(t *testing.T) {
	ok := NewToolResultTurn("degen", "call-1", "transfer", "0xabc", nil)
	assert.Equal(t, "0xabc", ok.Text())

	failed := NewToolResultTurn("degen", "call-2", "transfer", "ignored", errors.New("insufficient funds"))
	resp := failed.FunctionResponses()
	require.Len(t, resp, 1)
	assert.Equal(t, "insufficient funds", resp[0].Error)
	assert.Empty(t, resp[0].Response)
	assert.Equal(t, "error: insufficient funds", failed.Text())
}

func TestTurn_FunctionCalls(t *testing.T) {
	turn := NewTurn(RoleAgent, "degen",
		TextPart{Text: "let me check"},
		FunctionCallPart{FunctionCall: FunctionCall{ID: "1", Name: "balance"}},
		FunctionCallPart{FunctionCall: FunctionCall{ID: "2", Name: "transfer", Arguments: `{"to":"alice.eth"}`}},
	)

	calls := turn.FunctionCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "balance", calls[0].Name)
	assert.Equal(t, "transfer", calls[1].Name)
	assert.True(t, turn.HasToolRequests())
	assert.Equal(t, "let me check", turn.Text())
}

func TestTurn_WithMetadataCopies(t *testing.T) {
	orig := NewUserTurn("hi").WithMetadata(MetadataSessionID, "s1")
	next := orig.WithMetadata("extra", "x")

	assert.Equal(t, "s1", next.SessionID())
	assert.Equal(t, "", orig.Meta("extra"))
	assert.Equal(t, "x", next.Meta("extra"))
}

// -------------------- Transcript --------------------

func TestTranscript_AppendDoesNotAlias(t *testing.T) {
	base := make(Transcript, 0, 10)
	base = base.Append(NewUserTurn("one"))

	left := base.Append(NewAgentTurn("a", "left"))
	right := base.Append(NewAgentTurn("b", "right"))

	require.Len(t, left, 2)
	require.Len(t, right, 2)
	assert.Equal(t, "left", left[1].Text())
	assert.Equal(t, "right", right[1].Text())
	assert.Len(t, base, 1)
}

func TestTranscript_Tail(t *testing.T) {
	tr := Transcript{NewUserTurn("1"), NewUserTurn("2"), NewUserTurn("3")}

	assert.Len(t, tr.Tail(2), 2)
	assert.Equal(t, "2", tr.Tail(2)[0].Text())
	assert.Len(t, tr.Tail(10), 3)
	assert.Nil(t, tr.Tail(0))

	last, ok := tr.Last()
	assert.True(t, ok)
	assert.Equal(t, "3", last.Text())

	_, ok = Transcript{}.Last()
	assert.False(t, ok)
}

// -------------------- JSON --------------------

func TestTurn_JSONPreservesParts(t *testing.T) {
	turn := NewTurn(RoleAgent, "degen",
		TextPart{Text: "sending"},
		FunctionCallPart{FunctionCall: FunctionCall{ID: "c1", Name: "transfer", Arguments: `{"amount":5}`}},
	).WithMetadata(MetadataSessionID, "chat-42")

	data, err := json.Marshal(turn)
	require.NoError(t, err)

	var decoded Turn
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, turn.ID, decoded.ID)
	assert.Equal(t, "chat-42", decoded.SessionID())
	require.Len(t, decoded.Parts, 2)
	assert.IsType(t, TextPart{}, decoded.Parts[0])
	assert.Equal(t, "transfer", decoded.FunctionCalls()[0].Name)
}

func TestTurn_JSONRejectsUnknownPart(t *testing.T) {
	var decoded Turn
	err := json.Unmarshal([]byte(`{"id":"x","role":"user","parts":[{"type":"video"}]}`), &decoded)
	assert.Error(t, err)
}
