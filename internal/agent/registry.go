package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// toolNamePattern is the required syntax for tool names.
var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidToolName reports whether name matches ^[a-z][a-z0-9_]*$.
func ValidToolName(name string) bool {
	return len(name) <= MaxToolNameLength && toolNamePattern.MatchString(name)
}

// Definition is the registry's read-only view of a tool.
type Definition struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Parameters       json.RawMessage `json:"parameters,omitempty"`
	Category         string          `json:"category,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
}

type registration struct {
	def  Definition
	tool Tool
}

// RegisterOption customises a Register call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	replace          bool
	category         string
	tags             []string
	requiresApproval *bool
}

// WithReplace allows Register to overwrite an existing tool of the same name.
func WithReplace() RegisterOption {
	return func(o *registerOptions) { o.replace = true }
}

// WithCategory overrides the tool's browse category.
func WithCategory(category string) RegisterOption {
	return func(o *registerOptions) { o.category = category }
}

// WithTags overrides the tool's search tags.
func WithTags(tags ...string) RegisterOption {
	return func(o *registerOptions) { o.tags = tags }
}

// WithApproval marks the registration as requiring user consent.
func WithApproval(required bool) RegisterOption {
	return func(o *registerOptions) { o.requiresApproval = &required }
}

// Registry manages available tools with thread-safe registration and lookup.
// It is mutable during agent assembly; after that, reads are hot-path and
// take only the read lock.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]registration),
	}
}

// Register adds a tool to the registry by its name. Registration fails when
// the name is invalid, or taken without WithReplace.
func (r *Registry) Register(tool Tool, opts ...RegisterOption) error {
	if tool == nil {
		return fmt.Errorf("register: nil tool")
	}
	name := tool.Name()
	if !ValidToolName(name) {
		return fmt.Errorf("register %q: %w", name, ErrInvalidToolName)
	}

	var options registerOptions
	for _, opt := range opts {
		opt(&options)
	}

	def := Definition{
		Name:        name,
		Description: tool.Description(),
		Parameters:  tool.Schema(),
	}
	if c, ok := tool.(Categorized); ok {
		def.Category = c.Category()
	}
	if t, ok := tool.(Tagged); ok {
		def.Tags = append([]string(nil), t.Tags()...)
	}
	if a, ok := tool.(ApprovalRequired); ok {
		def.RequiresApproval = a.RequiresApproval()
	}
	if options.category != "" {
		def.Category = options.category
	}
	if options.tags != nil {
		def.Tags = append([]string(nil), options.tags...)
	}
	if options.requiresApproval != nil {
		def.RequiresApproval = *options.requiresApproval
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists && !options.replace {
		return fmt.Errorf("register %q: %w", name, ErrToolExists)
	}
	r.tools[name] = registration{def: def, tool: tool}
	return nil
}

// Unregister removes a tool from the registry by name. It is idempotent and
// reports whether anything was removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	return true
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return reg.tool, true
}

// Definition returns the definition for a single tool.
func (r *Registry) Definition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return Definition{}, false
	}
	return reg.def, true
}

// Definitions returns a name-sorted copy of all registered definitions.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, reg := range r.tools {
		defs = append(defs, reg.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns a sorted list of registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs a tool by name with the given JSON parameters.
//
// Tool failures never surface as Go errors: unknown names, oversized
// payloads and execution faults all come back as ToolResult{IsError: true}
// so the LLM can self-correct.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}
	return reg.tool.Execute(ctx, params)
}

// Schemas returns the wire schemas for the given tool names, preserving
// order and skipping unknown names. The agent assembly uses this to expose
// only the meta-tools to the LLM.
func (r *Registry) Schemas(names ...string) []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(names))
	for _, name := range names {
		reg, ok := r.tools[name]
		if !ok {
			continue
		}
		out = append(out, ToolSchema{
			Name:        reg.def.Name,
			Description: reg.def.Description,
			Parameters:  reg.def.Parameters,
		})
	}
	return out
}
