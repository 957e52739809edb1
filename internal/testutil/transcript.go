package testutil

import "github.com/hupe1980/agentrelay/core"

// Transcript builds a transcript starting with a user turn followed by
// alternating agent turns authored by author.
//
//	tr := Transcript("What's the weather?", "oracle", "Sunny, 21C")
func Transcript(user, author string, agentTexts ...string) core.Transcript {
	tr := core.Transcript{core.NewUserTurn(user)}
	for _, text := range agentTexts {
		tr = tr.Append(core.NewAgentTurn(author, text))
	}
	return tr
}

// Texts returns the text of each turn, for compact assertions.
func Texts(tr core.Transcript) []string {
	out := make([]string, len(tr))
	for i, t := range tr {
		out[i] = t.Text()
	}
	return out
}
