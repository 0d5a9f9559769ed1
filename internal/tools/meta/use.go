package meta

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/locushq/locus/internal/agent"
)

// UseTool implements the use_tool meta-tool: the single entry point through
// which the LLM reaches every registered tool. The caller's context passes
// through unchanged so inner tools inherit the user id, permissions,
// approval requester and conversation identifiers.
type UseTool struct {
	d *Dispatcher
}

func (t *UseTool) Name() string { return "use_tool" }

func (t *UseTool) Description() string {
	return "Execute a registered tool by name with JSON arguments. Discover names with search_tools and parameters with get_tool_help."
}

func (t *UseTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tool_name": {"type": "string", "description": "Name of the tool to execute."},
			"arguments": {"type": "object", "description": "Arguments matching the tool's parameter schema."}
		},
		"required": ["tool_name"]
	}`)
}

func (t *UseTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		ToolName  string          `json:"tool_name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if input.ToolName == "" {
		return toolError("tool_name is required"), nil
	}
	return t.d.dispatch(ctx, input.ToolName, input.Arguments)
}

// dispatch runs one resolved tool call: name resolution, payload cap,
// schema validation, silent limit caps, then execution. Shared by use_tool
// and batch_use_tool.
func (d *Dispatcher) dispatch(ctx context.Context, name string, arguments json.RawMessage) (*agent.ToolResult, error) {
	def, ok := d.registry.Definition(name)
	if !ok {
		return toolError(d.notFoundMessage(name)), nil
	}

	if len(arguments) == 0 {
		arguments = json.RawMessage(`{}`)
	}
	if len(arguments) > MaxArgumentBytes {
		return toolError(fmt.Sprintf("Arguments for %s exceed the %d byte limit; reduce the payload.", name, MaxArgumentBytes)), nil
	}

	var args map[string]any
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError(fmt.Sprintf("Arguments for %s must be a JSON object: %v\n\n%s", name, err, parameterHelp(def))), nil
	}

	if schema, err := d.compiled(def); err == nil && schema != nil {
		var doc any
		if err := json.Unmarshal(arguments, &doc); err == nil {
			if err := schema.Validate(doc); err != nil {
				return toolError(fmt.Sprintf("Invalid arguments for %s: %v\n\n%s", name, err, parameterHelp(def))), nil
			}
		}
	}

	d.applyCaps(name, args)
	capped, err := json.Marshal(args)
	if err != nil {
		return toolError(fmt.Sprintf("encode arguments for %s: %v", name, err)), nil
	}

	result, err := d.registry.Execute(ctx, name, capped)
	if err != nil {
		return toolError(fmt.Sprintf("%s failed: %v\n\n%s", name, err, parameterHelp(def))), nil
	}
	if result != nil && result.IsError {
		// Attach the parameter help so the model can self-correct.
		return toolError(result.Content + "\n\n" + parameterHelp(def)), nil
	}
	return result, nil
}
