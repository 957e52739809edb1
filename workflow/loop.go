package workflow

import (
	"regexp"
	"strings"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// LoopDetector is a string-containment circuit breaker against a router and
// an agent re-entering the same exchange. It is approximate by nature.
type LoopDetector struct {
	// Window is how many recent turns are examined. Detection only runs
	// once the transcript is longer than Window.
	Window int
	// MetaThreshold trips the detector when at least this many windowed
	// turns look like routing chatter.
	MetaThreshold int
	// MaxDistinct trips the detector when the windowed substantive turns
	// have at most this many distinct contents.
	MaxDistinct int
	// MinSubstantiveLength is the length a turn must exceed to count as
	// substantive.
	MinSubstantiveLength int
	// MetaMarkers are phrases that mark routing chatter.
	MetaMarkers []string
	// MetaWords are whole words that mark routing chatter.
	MetaWords []string
}

// DefaultLoopDetector returns the detector with the stock thresholds.
func DefaultLoopDetector() LoopDetector {
	return LoopDetector{
		Window:               4,
		MetaThreshold:        3,
		MaxDistinct:          2,
		MinSubstantiveLength: 10,
		MetaMarkers:          []string{"routing to"},
		MetaWords:            []string{"agent"},
	}
}

// LoopReason explains why Detect fired.
type LoopReason string

const (
	LoopNone        LoopReason = ""
	LoopMetaChatter LoopReason = "meta_chatter"
	LoopRepetition  LoopReason = "repetition"
)

// Detect examines the tail of tr.
func (d LoopDetector) Detect(tr core.Transcript) LoopReason {
	if d.Window <= 0 || len(tr) <= d.Window {
		return LoopNone
	}
	recent := tr.Tail(d.Window)

	meta := 0
	distinct := map[string]struct{}{}
	for _, t := range recent {
		text := strings.TrimSpace(t.Text())
		if d.isMeta(text) {
			meta++
		}
		if len([]rune(text)) > d.MinSubstantiveLength {
			distinct[strings.ToLower(text)] = struct{}{}
		}
	}

	if d.MetaThreshold > 0 && meta >= d.MetaThreshold {
		return LoopMetaChatter
	}
	if len(distinct) <= d.MaxDistinct {
		return LoopRepetition
	}
	return LoopNone
}

func (d LoopDetector) isMeta(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range d.MetaMarkers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	for _, w := range d.MetaWords {
		if w != "" && wordPattern(w).MatchString(lower) {
			return true
		}
	}
	return false
}

// wordPatterns caches compiled MetaWords patterns keyed by lower-cased word.
var wordPatterns sync.Map

func wordPattern(w string) *regexp.Regexp {
	w = strings.ToLower(w)
	if re, ok := wordPatterns.Load(w); ok {
		return re.(*regexp.Regexp)
	}
	re, _ := wordPatterns.LoadOrStore(w, regexp.MustCompile(`\b`+regexp.QuoteMeta(w)+`\b`))
	return re.(*regexp.Regexp)
}

// DefaultCompletionMarkers are the terms that end the agent phase when they
// appear in the router's raw output.
func DefaultCompletionMarkers() []string {
	return []string{"done", "complete", "finished"}
}

// IsComplete reports whether raw contains any completion marker.
func IsComplete(raw string, markers []string) bool {
	lower := strings.ToLower(raw)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
