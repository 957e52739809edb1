package flow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
)

// State is a step of the tool-use loop.
type State int

const (
	// StateThink calls the model with the working transcript.
	StateThink State = iota
	// StateAct executes the capability requests of the last model turn.
	StateAct
	// StateDone holds the final turn.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateThink:
		return "THINK"
	case StateAct:
		return "ACT"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// DefaultLimitMessage is the text of the turn synthesized when the
// iteration bound is hit; %d receives the bound.
const DefaultLimitMessage = "I stopped after %d reasoning steps without reaching a final answer."

// Result is the outcome of one ToolLoop run.
type Result struct {
	// Final is the turn handed back to the caller.
	Final core.Turn
	// Steps holds every turn produced during the run, including capability
	// requests and results, in order. Final is the last element.
	Steps core.Transcript
	// Iterations counts THINK steps.
	Iterations int
	// LimitReached reports that Final was synthesized by the bound.
	LimitReached bool
	// Usage sums token usage over all THINK steps.
	Usage model.TokenUsage
}

// Options configures a ToolLoop.
type Options struct {
	Processors   []RequestProcessor
	Executor     Executor
	Logger       logging.Logger
	LimitMessage string
	Stream       bool
}

// ToolLoop drives one agent invocation through THINK, ACT and DONE.
type ToolLoop struct {
	agent FlowAgent
	opts  Options
}

// NewToolLoop creates a loop for agent.
func NewToolLoop(agent FlowAgent, optFns ...func(o *Options)) *ToolLoop {
	opts := Options{
		Processors:   DefaultProcessors(),
		Logger:       logging.NoOpLogger{},
		LimitMessage: DefaultLimitMessage,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Executor == nil {
		opts.Executor = NewSequentialExecutor(opts.Logger)
	}
	return &ToolLoop{agent: agent, opts: opts}
}

// Run processes transcript until the model answers without capability
// requests or the iteration bound is reached. Capability failures never end
// the loop; model failures do.
func (l *ToolLoop) Run(ctx context.Context, transcript core.Transcript) (Result, error) {
	var (
		res     Result
		working = transcript
		pending core.Turn
		limiter = core.NewIterationLimiter(l.agent.MaxIterations())
		state   = StateThink
	)

	for state != StateDone {
		switch state {
		case StateThink:
			if err := limiter.Next(); err != nil {
				res.Final = l.limitTurn()
				res.LimitReached = true
				res.Steps = res.Steps.Append(res.Final)
				l.opts.Logger.Warn("tool loop bound reached", "agent", l.agent.Name(), "iterations", res.Iterations)
				state = StateDone
				continue
			}

			turn, resp, err := l.Think(ctx, working)
			if err != nil {
				return res, err
			}
			res.Iterations++
			if resp.Usage != nil {
				res.Usage.PromptTokens += resp.Usage.PromptTokens
				res.Usage.CompletionTokens += resp.Usage.CompletionTokens
				res.Usage.TotalTokens += resp.Usage.TotalTokens
			}
			res.Steps = res.Steps.Append(turn)

			if !turn.HasToolRequests() {
				res.Final = turn
				state = StateDone
				continue
			}
			pending = turn
			state = StateAct

		case StateAct:
			results := l.opts.Executor.Execute(ctx, l.agent, pending.FunctionCalls())
			working = working.Append(pending).Append(results...)
			res.Steps = res.Steps.Append(results...)
			if err := ctx.Err(); err != nil {
				return res, err
			}
			state = StateThink
		}
	}

	return res, nil
}

// Think performs a single model call over transcript and returns the model
// turn. Function calls without an id are assigned one.
func (l *ToolLoop) Think(ctx context.Context, transcript core.Transcript) (core.Turn, model.Response, error) {
	req := model.Request{Turns: transcript, Stream: l.opts.Stream}
	for _, p := range l.opts.Processors {
		if err := p.ProcessRequest(ctx, &req, l.agent); err != nil {
			return core.Turn{}, model.Response{}, fmt.Errorf("processor %s: %w", p.Name(), err)
		}
	}

	m := l.agent.Model()
	start := time.Now()
	resp, err := model.Collect(ctx, m, req)

	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	logging.ModelCall(l.opts.Logger, m.Info().Name, tokens, time.Since(start), err)

	if err != nil {
		return core.Turn{}, model.Response{}, fmt.Errorf("agent %s: %w", l.agent.Name(), err)
	}

	return core.NewTurn(core.RoleAgent, l.agent.Name(), normalizeParts(resp.Parts)...), resp, nil
}

func (l *ToolLoop) limitTurn() core.Turn {
	msg := fmt.Sprintf(l.opts.LimitMessage, l.agent.MaxIterations())
	return core.NewAgentTurn(l.agent.Name(), msg).
		WithMetadata(core.MetadataLimitReached, strconv.FormatBool(true))
}

func normalizeParts(parts []core.Part) []core.Part {
	out := make([]core.Part, 0, len(parts))
	for _, p := range parts {
		if fc, ok := p.(core.FunctionCallPart); ok && fc.FunctionCall.ID == "" {
			fc.FunctionCall.ID = core.NewID()
			p = fc
		}
		out = append(out, p)
	}
	return out
}
