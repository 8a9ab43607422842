// Package tools implements the dispatch-by-name tool registry the turn
// engine drives: each tool advertises a name, description, and JSON Schema,
// and is invoked by the provider's tool-call blocks.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxNameLength is the maximum length of a tool name.
	MaxNameLength = 256

	// MaxArgsSize is the maximum size of tool call arguments JSON (10MB).
	MaxArgsSize = 10 << 20
)

// Tool is one named capability the agent loop can invoke.
type Tool interface {
	// Name is the identifier the model calls this tool by. Must be a valid
	// function name (alphanumeric, underscores).
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema is the JSON Schema describing the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool against arguments matching Schema.
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
}

// Result is the outcome of a tool execution, destined for a ToolResult block.
type Result struct {
	Content string
	IsError bool
}

// Registry dispatches tool calls by name. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), schemas: make(map[string]*jsonschema.Schema)}
}

// Register adds a tool, replacing any existing tool with the same name. The
// tool's declared Schema is compiled once here, so a malformed schema fails
// loudly at startup rather than silently skipping validation at call time.
func (r *Registry) Register(t Tool) {
	compiled, err := compileSchema(t.Name(), t.Schema())
	if err != nil {
		panic(fmt.Sprintf("tools: invalid schema for %q: %v", t.Name(), err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = compiled
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs the named tool. A missing tool or an oversized name/args
// payload comes back as an error Result rather than a Go error, since both
// are conditions the model should see and can react to.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) Result {
	if len(name) > MaxNameLength {
		return Result{Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxNameLength), IsError: true}
	}
	if len(args) > MaxArgsSize {
		return Result{Content: fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxArgsSize), IsError: true}
	}

	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return Result{Content: "tool not found: " + name, IsError: true}
	}

	if schema != nil {
		var payload any
		if len(args) == 0 {
			payload = map[string]any{}
		} else if err := json.Unmarshal(args, &payload); err != nil {
			return Result{Content: fmt.Sprintf("invalid arguments for %s: %v", name, err), IsError: true}
		}
		if err := schema.Validate(payload); err != nil {
			return Result{Content: fmt.Sprintf("arguments for %s failed schema validation: %v", name, err), IsError: true}
		}
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		return Result{Content: err.Error(), IsError: true}
	}
	return result
}

// Specs returns every registered tool's name/description/schema triple, in
// the shape the provider package needs to advertise tools to the model.
func (r *Registry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, ToolSpec{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return specs
}

// ToolSpec is the name/description/schema triple a provider needs to
// advertise one tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}
