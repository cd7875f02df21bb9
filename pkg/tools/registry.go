package tools

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrDuplicateTool is returned when a tool name is already taken.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrAgentNotIdle is returned when registration is attempted while
	// the agent is polling.
	ErrAgentNotIdle = errors.New("tools must be registered before the agent starts")

	// ErrToolNotFound is returned when a lookup misses.
	ErrToolNotFound = errors.New("tool not found")
)

// Registry holds the tools a machine exposes. Registration order is
// preserved because it determines the machine registration payload.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	order   []string
	schemas map[string]*gojsonschema.Schema
	frozen  atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool. It fails without mutating the registry if the
// name is taken, the definition is invalid, or the registry is frozen.
func (r *Registry) Register(tool Tool) error {
	if r.frozen.Load() {
		return fmt.Errorf("cannot register tool '%s': %w", tool.Name, ErrAgentNotIdle)
	}

	if err := validateTool(tool); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	tool.InputSchema = normalizeSchema(tool.InputSchema)

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.InputSchema))
	if err != nil {
		return fmt.Errorf("failed to compile schema for tool '%s': %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool '%s': %w", tool.Name, ErrDuplicateTool)
	}

	r.tools[tool.Name] = &tool
	r.schemas[tool.Name] = schema
	r.order = append(r.order, tool.Name)

	return nil
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool '%s': %w", name, ErrToolNotFound)
	}
	return tool, nil
}

// Schema returns the compiled input schema for a tool, or nil when the
// tool is unknown.
func (r *Registry) Schema(name string) *gojsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.schemas[name]
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns all tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// Freeze rejects further registrations until Unfreeze is called. The
// dispatch loop freezes the registry for the lifetime of a run, which
// makes lookups during dispatch lock-free reads of a fixed set.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Unfreeze re-enables registration after a clean stop.
func (r *Registry) Unfreeze() {
	r.frozen.Store(false)
}

func validateTool(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil for '%s'", tool.Name)
	}
	return nil
}

// normalizeSchema guarantees the schema is object-shaped. Non-object
// schemas are merged over an empty object skeleton.
func normalizeSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}

	if t, ok := schema["type"].(string); ok && t == "object" {
		return schema
	}

	normalized := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
	for k, v := range schema {
		normalized[k] = v
	}
	normalized["type"] = "object"

	return normalized
}
