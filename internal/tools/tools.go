// Package tools provides the tool registry and execution framework.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/beanbot/beanbot/internal/llm"
)

// NamePrefix is the naming convention for every registered tool. Some
// models drop it when requesting calls; Resolve restores it.
const NamePrefix = "tool_"

// Tool represents a callable capability exposed to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools. It is populated once at startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Has reports whether a tool with exactly this name is registered.
func (r *Registry) Has(name string) bool {
	return r.tools[name] != nil
}

// Resolve maps a requested tool name to its canonical registered name.
// An exact match wins; otherwise the name is retried with the
// convention prefix restored. Returns false when neither form is
// registered, so the caller can produce a clear "unknown tool" result
// instead of silently mis-routing.
func (r *Registry) Resolve(name string) (string, bool) {
	if r.Has(name) {
		return name, true
	}
	if prefixed := NamePrefix + name; r.Has(prefixed) {
		return prefixed, true
	}
	return "", false
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defs returns the tool catalog in the shape the model interface
// consumes, in stable name order.
func (r *Registry) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Execute runs a tool by name with JSON-encoded arguments. Unknown
// names and malformed arguments return errors; the agent loop converts
// them to textual results so the model can react in-band.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	return tool.Handler(ctx, args)
}

// ExecuteArgs runs a tool by name with already-decoded arguments.
func (r *Registry) ExecuteArgs(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Handler(ctx, args)
}
