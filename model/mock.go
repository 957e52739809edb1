package model

import (
	"context"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// MockModel is an in-memory Model for tests and examples. It replays
// scripted responses in order (the last one repeats) or delegates to a
// responder function, and records every request it receives.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	script    []Response
	errs      []error
	responder func(req Request) (Response, error)
	requests  []Request
}

// NewMockModel constructs a MockModel replaying responses.
func NewMockModel(name string, responses ...Response) *MockModel {
	return &MockModel{
		info:   Info{Name: name, Provider: "mock", SupportsTools: true},
		script: responses,
	}
}

// NewMockModelFunc constructs a MockModel backed by fn.
func NewMockModelFunc(name string, fn func(req Request) (Response, error)) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock", SupportsTools: true},
		responder: fn,
	}
}

// FailNext queues an error returned by the next Generate call.
func (m *MockModel) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// Requests returns a copy of all requests seen so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns how many times Generate was invoked.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockModel) next(req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return Response{}, err
	}
	if m.responder != nil {
		return m.responder(req)
	}
	if len(m.script) == 0 {
		return TextResponse(""), nil
	}
	r := m.script[0]
	if len(m.script) > 1 {
		m.script = m.script[1:]
	}
	return r, nil
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}
		r, err := m.next(req)
		if err != nil {
			errCh <- err
			return
		}
		r.Partial = false
		respCh <- r
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// TextResponse builds a final response carrying text.
func TextResponse(text string) Response {
	return Response{ID: core.NewID(), Parts: []core.Part{core.TextPart{Text: text}}, FinishReason: "stop"}
}

// ToolCallResponse builds a final response requesting capability calls.
func ToolCallResponse(calls ...core.FunctionCall) Response {
	parts := make([]core.Part, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: c})
	}
	return Response{ID: core.NewID(), Parts: parts, FinishReason: "tool_calls"}
}
