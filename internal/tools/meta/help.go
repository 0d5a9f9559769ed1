package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/locushq/locus/internal/agent"
)

// HelpTool implements the get_tool_help meta-tool.
type HelpTool struct {
	d *Dispatcher
}

func (t *HelpTool) Name() string { return "get_tool_help" }

func (t *HelpTool) Description() string {
	return "Get full documentation for one or more tools: description and a parameter table with types, required flags, defaults and enums."
}

func (t *HelpTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tool_name": {"type": "string", "description": "A single tool name."},
			"tool_names": {"type": "array", "items": {"type": "string"}, "description": "Multiple tool names."}
		}
	}`)
}

func (t *HelpTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		ToolName  string   `json:"tool_name"`
		ToolNames []string `json:"tool_names"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	names := input.ToolNames
	if input.ToolName != "" {
		names = append([]string{input.ToolName}, names...)
	}
	if len(names) == 0 {
		return toolError("tool_name or tool_names is required"), nil
	}

	var blocks []string
	anyKnown := false
	for _, name := range names {
		def, ok := t.d.registry.Definition(name)
		if !ok {
			blocks = append(blocks, t.d.notFoundMessage(name))
			continue
		}
		anyKnown = true
		blocks = append(blocks, parameterHelp(def))
	}
	out := strings.Join(blocks, "\n")
	if !anyKnown {
		return toolError(out), nil
	}
	return textResult(out), nil
}
