// Package meta implements the four meta-tools (search_tools, get_tool_help,
// use_tool, batch_use_tool) that stand in for the full tool catalog in the
// schemas sent to the LLM. Exposing every concrete tool schema would inflate
// each request by tens of thousands of tokens; the model instead discovers
// tools through search and reaches them through use_tool.
package meta

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/locushq/locus/internal/agent"
)

// MaxArgumentBytes caps the serialized arguments for one use_tool call.
const MaxArgumentBytes = 100 * 1024

// MaxBatchCalls caps the number of calls in one batch_use_tool request.
const MaxBatchCalls = 20

// Dispatcher routes meta-tool invocations into the shared registry. One
// dispatcher serves all four meta-tools for an assembled agent.
type Dispatcher struct {
	registry *agent.Registry

	// searchTags adds curated synonyms per tool name so search_tools can
	// match phrasing the description does not use.
	searchTags map[string][]string

	// limitCaps holds per-tool numeric parameter ceilings, applied
	// silently before execution.
	limitCaps map[string]map[string]float64

	mu      sync.Mutex
	schemas map[string]compiledSchema
}

type compiledSchema struct {
	source string
	schema *jsonschema.Schema
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithSearchTags installs curated search synonyms for a tool.
func WithSearchTags(tool string, tags ...string) Option {
	return func(d *Dispatcher) { d.searchTags[tool] = tags }
}

// WithLimitCap installs a silent numeric ceiling for one tool parameter.
func WithLimitCap(tool, param string, max float64) Option {
	return func(d *Dispatcher) {
		if d.limitCaps[tool] == nil {
			d.limitCaps[tool] = make(map[string]float64)
		}
		d.limitCaps[tool][param] = max
	}
}

// NewDispatcher creates a dispatcher over the registry with default caps.
func NewDispatcher(registry *agent.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		searchTags: make(map[string][]string),
		limitCaps:  make(map[string]map[string]float64),
		schemas:    make(map[string]compiledSchema),
	}
	// Default ceilings for list-shaped tools.
	d.limitCaps["list_emails"] = map[string]float64{"limit": 50}
	d.limitCaps["search_memories"] = map[string]float64{"limit": 100}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds the four meta-tools to the registry.
func (d *Dispatcher) Register() error {
	tools := []agent.Tool{
		&SearchTool{d: d},
		&HelpTool{d: d},
		&UseTool{d: d},
		&BatchTool{d: d},
	}
	for _, t := range tools {
		if err := d.registry.Register(t, agent.WithCategory("meta")); err != nil {
			return fmt.Errorf("register meta-tool %s: %w", t.Name(), err)
		}
	}
	return nil
}

// MetaToolNames are the only tool schemas an assembled agent exposes.
func MetaToolNames() []string {
	return []string{"search_tools", "get_tool_help", "use_tool", "batch_use_tool"}
}

// compiled returns the cached compiled schema for a definition, recompiling
// when the definition bytes changed since the last call.
func (d *Dispatcher) compiled(def agent.Definition) (*jsonschema.Schema, error) {
	source := string(def.Parameters)
	if source == "" {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if cached, ok := d.schemas[def.Name]; ok && cached.source == source {
		return cached.schema, nil
	}
	schema, err := jsonschema.CompileString(def.Name+".json", source)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", def.Name, err)
	}
	d.schemas[def.Name] = compiledSchema{source: source, schema: schema}
	return schema, nil
}

// applyCaps silently clamps capped numeric parameters in place.
func (d *Dispatcher) applyCaps(tool string, args map[string]any) {
	caps := d.limitCaps[tool]
	if len(caps) == 0 {
		return
	}
	for param, max := range caps {
		if v, ok := args[param].(float64); ok && v > max {
			args[param] = max
		}
	}
}

// toolError wraps a message as a failed tool result.
func toolError(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}

// textResult wraps a message as a successful tool result.
func textResult(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg}
}

// paramDoc is one documented parameter extracted from a tool's JSON schema.
type paramDoc struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     any
	Enum        []any
}

// paramDocs parses a JSON-Schema-shaped parameters object into a stable,
// name-sorted parameter list (required first).
func paramDocs(parameters json.RawMessage) []paramDoc {
	if len(parameters) == 0 {
		return nil
	}
	var schema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
			Default     any    `json:"default"`
			Enum        []any  `json:"enum"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(parameters, &schema); err != nil {
		return nil
	}
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}
	docs := make([]paramDoc, 0, len(schema.Properties))
	for name, prop := range schema.Properties {
		docs = append(docs, paramDoc{
			Name:        name,
			Type:        prop.Type,
			Description: prop.Description,
			Required:    required[name],
			Default:     prop.Default,
			Enum:        prop.Enum,
		})
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Required != docs[j].Required {
			return docs[i].Required
		}
		return docs[i].Name < docs[j].Name
	})
	return docs
}

// parameterHelp renders the markdown help block for one tool definition.
func parameterHelp(def agent.Definition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n%s\n", def.Name, def.Description)
	docs := paramDocs(def.Parameters)
	if len(docs) == 0 {
		b.WriteString("\nNo parameters.\n")
		return b.String()
	}
	b.WriteString("\n| Parameter | Type | Required | Description | Default | Enum |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, doc := range docs {
		required := "no"
		if doc.Required {
			required = "yes"
		}
		defaultVal := ""
		if doc.Default != nil {
			defaultVal = fmt.Sprintf("%v", doc.Default)
		}
		enum := ""
		if len(doc.Enum) > 0 {
			parts := make([]string, len(doc.Enum))
			for i, e := range doc.Enum {
				parts[i] = fmt.Sprintf("%v", e)
			}
			enum = strings.Join(parts, ", ")
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			doc.Name, doc.Type, required, doc.Description, defaultVal, enum)
	}
	return b.String()
}

// notFoundMessage builds the unknown-tool error with fuzzy suggestions.
func (d *Dispatcher) notFoundMessage(name string) string {
	msg := fmt.Sprintf("Tool '%s' not found.", name)
	if suggestions := SuggestNames(name, d.registry.Names()); len(suggestions) > 0 {
		msg += " Did you mean: " + strings.Join(suggestions, ", ")
	}
	return msg
}
