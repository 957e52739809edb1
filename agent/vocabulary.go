package agent

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Terminal routing tokens.
const (
	TokenDone     = "done"
	TokenComplete = "complete"
)

// Method names how a raw router output was canonicalized.
type Method string

const (
	MethodExact       Method = "exact"
	MethodSubstring   Method = "substring"
	MethodStripped    Method = "stripped"
	MethodFallback    Method = "fallback"
	// MethodPreselected marks decisions taken without a model call, such as
	// the classified agent of an event run.
	MethodPreselected Method = "preselected"
)

// Vocabulary is the closed set of routing tokens: agent names plus the
// terminal sentinels.
type Vocabulary struct {
	agents   []string
	fallback string
	tokens   []string
	patterns map[string]*regexp.Regexp
}

// NewVocabulary builds a vocabulary over agent names. fallback must be one of
// them.
func NewVocabulary(agents []string, fallback string) (*Vocabulary, error) {
	if len(agents) == 0 {
		return nil, errors.New("vocabulary needs at least one agent")
	}

	v := &Vocabulary{
		fallback: strings.ToLower(fallback),
		patterns: map[string]*regexp.Regexp{},
	}
	for _, name := range agents {
		tok := strings.ToLower(strings.TrimSpace(name))
		if tok == "" {
			return nil, errors.New("empty agent name in vocabulary")
		}
		if tok == TokenDone || tok == TokenComplete {
			return nil, fmt.Errorf("agent name %q collides with a terminal token", name)
		}
		if slices.Contains(v.agents, tok) {
			return nil, fmt.Errorf("duplicate agent name %q in vocabulary", name)
		}
		v.agents = append(v.agents, tok)
	}
	if !slices.Contains(v.agents, v.fallback) {
		return nil, fmt.Errorf("fallback %q is not a vocabulary agent", fallback)
	}

	v.tokens = append(slices.Clone(v.agents), TokenDone, TokenComplete)
	for _, tok := range v.tokens {
		v.patterns[tok] = regexp.MustCompile(`(^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(tok) + `($|[^\p{L}\p{N}_])`)
	}
	return v, nil
}

// Agents returns the agent tokens in registration order.
func (v *Vocabulary) Agents() []string { return slices.Clone(v.agents) }

// Tokens returns every token, terminals last.
func (v *Vocabulary) Tokens() []string { return slices.Clone(v.tokens) }

// Fallback returns the default agent.
func (v *Vocabulary) Fallback() string { return v.fallback }

// IsTerminal reports whether tok ends the agent phase of a run.
func (v *Vocabulary) IsTerminal(tok string) bool {
	return tok == TokenDone || tok == TokenComplete
}

// Contains reports whether tok is in the vocabulary.
func (v *Vocabulary) Contains(tok string) bool { return slices.Contains(v.tokens, tok) }

// Canonicalize maps free text onto the vocabulary. It never fails: text that
// cannot be matched yields the fallback agent with MethodFallback.
//
// Matching proceeds from strict to loose:
//  1. the lower-cased, trimmed text equals a token
//  2. a token occurs as a whole word; the earliest occurrence wins
//  3. quotes, brackets and trailing clauses are stripped and the remainder
//     equals a token, or contains one as a plain substring
//  4. a token occurs anywhere in the full text as a plain substring
func (v *Vocabulary) Canonicalize(raw string) (string, Method) {
	s := strings.ToLower(strings.TrimSpace(raw))

	if v.Contains(s) {
		return s, MethodExact
	}

	if tok, ok := v.earliest(s, func(tok string) int {
		if loc := v.patterns[tok].FindStringIndex(s); loc != nil {
			return loc[0]
		}
		return -1
	}); ok {
		return tok, MethodSubstring
	}

	stripped := stripNoise(s)
	if v.Contains(stripped) {
		return stripped, MethodStripped
	}
	if tok, ok := v.earliest(stripped, func(tok string) int {
		return strings.Index(stripped, tok)
	}); ok {
		return tok, MethodStripped
	}

	if tok, ok := v.earliest(s, func(tok string) int {
		return strings.Index(s, tok)
	}); ok {
		return tok, MethodSubstring
	}

	return v.fallback, MethodFallback
}

// earliest returns the token with the smallest match index; longer tokens
// win ties.
func (v *Vocabulary) earliest(s string, index func(tok string) int) (string, bool) {
	if s == "" {
		return "", false
	}
	best, bestIdx := "", -1
	for _, tok := range v.tokens {
		idx := index(tok)
		if idx < 0 {
			continue
		}
		if bestIdx < 0 || idx < bestIdx || (idx == bestIdx && len(tok) > len(best)) {
			best, bestIdx = tok, idx
		}
	}
	return best, bestIdx >= 0
}

var (
	wrapping      = strings.NewReplacer(`"`, "", "'", "", "`", "", "*", "", "[", "", "]", "", "(", "", ")", "", "{", "", "}", "", "<", "", ">", "")
	clauseBreaks  = []string{"\n", ".", ",", ";", ":", "!", "?", " - ", " because ", " since ", " as "}
	leadingFiller = []string{"route to ", "routing to ", "next agent ", "next ", "agent ", "token "}
)

func stripNoise(s string) string {
	s = wrapping.Replace(s)
	s = strings.TrimSpace(s)
	for _, p := range leadingFiller {
		s = strings.TrimPrefix(s, p)
	}
	for _, sep := range clauseBreaks {
		if i := strings.Index(s, sep); i > 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
