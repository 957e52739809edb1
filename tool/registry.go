package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

// Registry maps capability names to tools for a single agent.
//
// The registry is mutable until Seal is called; afterwards Add returns
// core.ErrSealed. Lookups and invocations are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	sealed bool
}

// NewRegistry creates a registry pre-populated with tools. Duplicate names
// keep the last tool.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range tools {
		r.put(t)
	}
	return r
}

func (r *Registry) put(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Add registers tools. A tool with an existing name replaces the previous one.
func (r *Registry) Add(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return core.ErrSealed
	}
	for _, t := range tools {
		if t == nil || t.Name() == "" {
			return errors.New("tool must have a name")
		}
	}
	for _, t := range tools {
		r.put(t)
	}
	return nil
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions returns the model descriptors in registration order.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Definition(r.tools[name]))
	}
	return defs
}

// Invoke runs the named tool with a raw payload. A JSON object payload is
// decoded into arguments; any other non-empty payload is passed as
// {"input": payload}. The result is rendered as text.
func (r *Registry) Invoke(cc *core.CapabilityContext, name, payload string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", &ToolError{Tool: name, Message: core.ErrCapabilityNotFound.Error(), Code: CodeNotFound, Cause: core.ErrCapabilityNotFound}
	}

	result, err := t.Call(cc, ParseArguments(payload))
	if err != nil {
		return "", err
	}
	return Stringify(result)
}

// Close releases tools that hold resources.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, name := range r.order {
		if c, ok := r.tools[name].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// ParseArguments decodes a model-supplied argument payload.
func ParseArguments(payload string) map[string]any {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(payload), &args); err == nil && args != nil {
		return args
	}
	return map[string]any{"input": payload}
}

// Stringify renders a tool result as text for the model.
func Stringify(v any) (string, error) {
	switch r := v.(type) {
	case nil:
		return "", nil
	case string:
		return r, nil
	case []byte:
		return string(r), nil
	case fmt.Stringer:
		return r.String(), nil
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("encode tool result: %w", err)
		}
		return string(b), nil
	}
}
