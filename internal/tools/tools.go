// Package tools defines the callable tool surface consumed by the strategy engine.
//
// A tool has a name, a JSON-schema description of its input and returns a
// string result. Tools come from an MCP session (external market data) or are
// implemented in-process (arena-side portfolio lookup and decision submission).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Tool is a single callable tool
type Tool interface {
	Name() string
	Description() string
	// InputSchema returns the JSON schema of the tool arguments
	InputSchema() json.RawMessage
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Session is an open connection to a tool provider. It must be closed on every exit path.
type Session interface {
	Tools(ctx context.Context) ([]Tool, error)
	Close() error
}

// Provider opens tool sessions
type Provider interface {
	Open(ctx context.Context) (Session, error)
}

// Record is one tool invocation made during a reasoning loop
type Record struct {
	Step   int             `json:"step" msgpack:"step"`
	CallID string          `json:"call_id" msgpack:"call_id"`
	Tool   string          `json:"tool" msgpack:"tool"`
	Args   json.RawMessage `json:"args" msgpack:"args"`
	Result string          `json:"result" msgpack:"result"`
	Err    string          `json:"error,omitempty" msgpack:"error,omitempty"`
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Func adapts a function into a Tool
type Func struct {
	ToolName        string
	ToolDescription string
	Schema          json.RawMessage
	Fn              func(ctx context.Context, args json.RawMessage) (string, error)
}

// Name implements Tool
func (f *Func) Name() string { return f.ToolName }

// Description implements Tool
func (f *Func) Description() string { return f.ToolDescription }

// InputSchema implements Tool
func (f *Func) InputSchema() json.RawMessage {
	if len(f.Schema) == 0 {
		return emptyObjectSchema
	}
	return f.Schema
}

// Call implements Tool
func (f *Func) Call(ctx context.Context, args json.RawMessage) (string, error) {
	return f.Fn(ctx, args)
}

// Set is a name-indexed collection of tools
type Set struct {
	tools map[string]Tool
}

// NewSet builds a set, rejecting duplicate names
func NewSet(tools ...Tool) (*Set, error) {
	s := &Set{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := s.Add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers a tool
func (s *Set) Add(t Tool) error {
	if _, exists := s.tools[t.Name()]; exists {
		return fmt.Errorf("duplicate tool name: %s", t.Name())
	}
	s.tools[t.Name()] = t
	return nil
}

// Lookup returns the tool with the given name
func (s *Set) Lookup(name string) (Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// Len returns the number of tools
func (s *Set) Len() int {
	return len(s.tools)
}

// List returns tools sorted by name
func (s *Set) List() []Tool {
	out := make([]Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns tool names sorted
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.tools))
	for _, t := range s.List() {
		names = append(names, t.Name())
	}
	return names
}

// StaticProvider serves a fixed tool list. Close is a no-op.
type StaticProvider struct {
	tools []Tool
}

// NewStaticProvider creates a provider over in-process tools. With no tools it
// stands in for a disabled tool server.
func NewStaticProvider(tools ...Tool) *StaticProvider {
	return &StaticProvider{tools: tools}
}

// Open implements Provider
func (p *StaticProvider) Open(ctx context.Context) (Session, error) {
	return staticSession{tools: p.tools}, nil
}

type staticSession struct {
	tools []Tool
}

func (s staticSession) Tools(ctx context.Context) ([]Tool, error) { return s.tools, nil }
func (s staticSession) Close() error                                { return nil }
