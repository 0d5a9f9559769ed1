package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/locushq/locus/internal/agent"
)

// BatchTool implements the batch_use_tool meta-tool: up to MaxBatchCalls
// independent tool calls executed concurrently with settle-all semantics.
// The batch succeeds iff at least one call succeeded.
type BatchTool struct {
	d *Dispatcher
}

func (t *BatchTool) Name() string { return "batch_use_tool" }

func (t *BatchTool) Description() string {
	return "Execute up to 20 tool calls concurrently and return one combined report. Each call is validated independently; one failure does not abort the rest."
}

func (t *BatchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"calls": {
				"type": "array",
				"description": "Tool calls to run concurrently (max 20).",
				"items": {
					"type": "object",
					"properties": {
						"tool_name": {"type": "string"},
						"arguments": {"type": "object"}
					},
					"required": ["tool_name"]
				}
			}
		},
		"required": ["calls"]
	}`)
}

func (t *BatchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Calls []struct {
			ToolName  string          `json:"tool_name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"calls"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if len(input.Calls) == 0 {
		return toolError("calls must contain at least one entry"), nil
	}
	if len(input.Calls) > MaxBatchCalls {
		return toolError(fmt.Sprintf("batch size %d exceeds the limit of %d calls", len(input.Calls), MaxBatchCalls)), nil
	}

	results := make([]*agent.ToolResult, len(input.Calls))
	var wg sync.WaitGroup
	for i, call := range input.Calls {
		wg.Add(1)
		go func(i int, name string, args json.RawMessage) {
			defer wg.Done()
			// A panicking tool becomes that entry's error result; the
			// rest of the batch still settles.
			defer func() {
				if r := recover(); r != nil {
					results[i] = toolError(fmt.Sprintf("tool %s panicked: %v", name, r))
				}
			}()
			res, err := t.d.dispatch(ctx, name, args)
			if err != nil {
				res = toolError(err.Error())
			}
			results[i] = res
		}(i, call.ToolName, call.Arguments)
	}
	wg.Wait()

	var b strings.Builder
	succeeded := 0
	for i, res := range results {
		mark := "✓"
		if res == nil || res.IsError {
			mark = "✗"
		} else {
			succeeded++
		}
		fmt.Fprintf(&b, "### %d. %s %s\n\n", i+1, input.Calls[i].ToolName, mark)
		if res != nil {
			b.WriteString(res.Content)
		}
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "%d/%d calls succeeded.\n", succeeded, len(input.Calls))

	return &agent.ToolResult{Content: b.String(), IsError: succeeded == 0}, nil
}
