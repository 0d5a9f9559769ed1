package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/locushq/locus/internal/agent"
)

// namesOnlyThreshold switches search output to bare names when a query
// matches this many tools or more.
const namesOnlyThreshold = 100

// SearchTool implements the search_tools meta-tool.
type SearchTool struct {
	d *Dispatcher
}

func (t *SearchTool) Name() string { return "search_tools" }

func (t *SearchTool) Description() string {
	return "Search the available tools by keyword. Every word in the query must match the tool's name, description, category or tags. Use \"all\" to list everything, then get_tool_help for details and use_tool to execute."
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Keywords to match (AND semantics). \"all\" or \"*\" lists every tool."},
			"category": {"type": "string", "description": "Restrict matches to one category."},
			"include_params": {"type": "boolean", "description": "Include full parameter documentation per match."}
		},
		"required": ["query"]
	}`)
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query         string `json:"query"`
		Category      string `json:"category"`
		IncludeParams bool   `json:"include_params"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return toolError("query is required"), nil
	}

	matches := t.d.search(query, input.Category)
	if len(matches) == 0 {
		return textResult(fmt.Sprintf("No tools matched %q. Try broader keywords or search_tools with query \"all\".", query)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tool(s):\n\n", len(matches))
	namesOnly := len(matches) >= namesOnlyThreshold
	for _, def := range matches {
		if namesOnly {
			fmt.Fprintf(&b, "- %s\n", def.Name)
			continue
		}
		fmt.Fprintf(&b, "- **%s**: %s\n", def.Name, def.Description)
		if input.IncludeParams {
			b.WriteString(parameterHelp(def))
			b.WriteString("\n")
		}
	}
	return textResult(b.String()), nil
}

// search returns the name-sorted definitions matching the tokenised query
// with AND semantics over name, description, category, tags and curated
// search tags.
func (d *Dispatcher) search(query, category string) []agent.Definition {
	defs := d.registry.Definitions()
	all := query == "all" || query == "*"
	tokens := strings.Fields(strings.ToLower(query))

	var out []agent.Definition
	for _, def := range defs {
		if category != "" && !strings.EqualFold(def.Category, category) {
			continue
		}
		if all {
			out = append(out, def)
			continue
		}
		haystack := strings.ToLower(strings.Join(append([]string{
			def.Name, def.Description, def.Category,
			strings.Join(def.Tags, " "),
		}, d.searchTags[def.Name]...), " "))
		matched := true
		for _, tok := range tokens {
			if !strings.Contains(haystack, tok) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, def)
		}
	}
	return out
}
