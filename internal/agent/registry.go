package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/oriolane/oriole/internal/capability"
)

// ToolRegistry resolves tool names to executables. Resolution order: a
// registered handler, then a system-provider capability (which echoes its
// input), then a loaded tool implementation.
type ToolRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	tools    map[string]Tool
	caps     *capability.Registry
}

// NewToolRegistry builds a registry over the capability catalog. caps may be
// nil when no declarative catalog is loaded.
func NewToolRegistry(caps *capability.Registry) *ToolRegistry {
	return &ToolRegistry{
		handlers: make(map[string]HandlerFunc),
		tools:    make(map[string]Tool),
		caps:     caps,
	}
}

// RegisterHandler installs an in-process handler for a tool name. Handlers
// win over every other resolution source.
func (r *ToolRegistry) RegisterHandler(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// RegisterTool installs a loaded tool implementation.
func (r *ToolRegistry) RegisterTool(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("duplicate tool: %s", name)
	}
	r.tools[name] = t
	return nil
}

// Resolve returns the executable for a tool name, or false when nothing
// serves it.
func (r *ToolRegistry) Resolve(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.handlers[name]; ok {
		return h, true
	}

	if r.caps != nil {
		if cap, ok := r.caps.Get(name); ok && cap.Provider == "system" {
			return echoHandler, true
		}
	}

	if t, ok := r.tools[name]; ok {
		return t.Execute, true
	}

	return nil, false
}

// Schemas projects everything executable for an LLM API: the declarative
// catalog's tools first, then registered tool implementations the catalog
// does not know.
func (r *ToolRegistry) Schemas() []capability.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []capability.ToolSchema
	seen := map[string]bool{}
	if r.caps != nil {
		for _, s := range r.caps.ToolSchemas() {
			out = append(out, s)
			seen[s.Name] = true
		}
	}
	var extra []capability.ToolSchema
	for name, t := range r.tools {
		if seen[name] {
			continue
		}
		schema := t.Schema()
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		extra = append(extra, capability.ToolSchema{
			Name:        name,
			Description: t.Description(),
			InputSchema: schema,
		})
	}
	// Catalog order is priority-sorted already; only the extras need a
	// deterministic order.
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })
	return append(out, extra...)
}

// Capability returns the catalog entry for a tool, when declared.
func (r *ToolRegistry) Capability(name string) (*capability.Capability, bool) {
	if r.caps == nil {
		return nil, false
	}
	return r.caps.Get(name)
}

// echoHandler serves system-provider capabilities: the input comes back
// verbatim as the result.
func echoHandler(_ context.Context, _ *Invocation, input json.RawMessage) (*ToolOutput, error) {
	return &ToolOutput{Text: string(input)}, nil
}
