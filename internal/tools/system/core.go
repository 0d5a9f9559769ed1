// Package system provides the core utility tools every assembled agent
// carries regardless of user configuration.
package system

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/tools/schema"
)

// Register wires the core utility tools into the registry.
func Register(reg *agent.Registry) error {
	tools := []agent.Tool{
		&TimeTool{},
		&EchoTool{},
		&CalculateTool{},
		&UUIDTool{},
	}
	for _, t := range tools {
		if err := reg.Register(t, agent.WithCategory("system"), agent.WithTags("utility")); err != nil {
			return fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}
	return nil
}

func toolError(msg string) *agent.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

// TimeTool reports the current time, optionally in a named timezone.
type TimeTool struct{}

func (t *TimeTool) Name() string { return "get_time" }

func (t *TimeTool) Description() string {
	return "Get the current date and time, optionally in a specific IANA timezone."
}

type timeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name like America/New_York. Defaults to UTC."`
}

func (t *TimeTool) Schema() json.RawMessage { return schema.Reflect(&timeArgs{}) }

func (t *TimeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input timeArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	loc := time.UTC
	if input.Timezone != "" {
		l, err := time.LoadLocation(input.Timezone)
		if err != nil {
			return toolError(fmt.Sprintf("unknown timezone %q", input.Timezone)), nil
		}
		loc = l
	}

	now := time.Now().In(loc)
	payload, _ := json.Marshal(map[string]any{
		"iso":      now.Format(time.RFC3339),
		"unix":     now.Unix(),
		"timezone": loc.String(),
		"weekday":  now.Weekday().String(),
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// EchoTool returns its input, useful for plan plumbing and connectivity checks.
type EchoTool struct{}

func (t *EchoTool) Name() string { return "echo" }

func (t *EchoTool) Description() string {
	return "Return the given text unchanged."
}

type echoArgs struct {
	Text string `json:"text" jsonschema:"description=Text to return."`
}

func (t *EchoTool) Schema() json.RawMessage { return schema.Reflect(&echoArgs{}) }

func (t *EchoTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input echoArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	return &agent.ToolResult{Content: input.Text}, nil
}

// CalculateTool evaluates a basic arithmetic expression.
type CalculateTool struct{}

func (t *CalculateTool) Name() string { return "calculate" }

func (t *CalculateTool) Description() string {
	return "Evaluate an arithmetic expression with +, -, *, /, %, parentheses and unary minus."
}

type calcArgs struct {
	Expression string `json:"expression" jsonschema:"description=Expression to evaluate, e.g. (2+3)*4."`
}

func (t *CalculateTool) Schema() json.RawMessage { return schema.Reflect(&calcArgs{}) }

func (t *CalculateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input calcArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Expression == "" {
		return toolError("expression is required"), nil
	}

	value, err := Evaluate(input.Expression)
	if err != nil {
		return toolError(err.Error()), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"expression": input.Expression,
		"result":     value,
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// UUIDTool generates a random v4 UUID.
type UUIDTool struct{}

func (t *UUIDTool) Name() string { return "generate_uuid" }

func (t *UUIDTool) Description() string {
	return "Generate a random UUID."
}

func (t *UUIDTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *UUIDTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: uuid.NewString()}, nil
}
