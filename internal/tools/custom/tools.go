package custom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/internal/tools/schema"
	"github.com/locushq/locus/pkg/models"
)

// Register wires the custom-tool management tools into the registry.
func Register(reg *agent.Registry, store storage.CustomToolStore) error {
	tools := []agent.Tool{
		NewCreateTool(store),
		NewUpdateTool(store),
		NewListTool(store),
		NewDeleteTool(store),
		NewToggleTool(store),
	}
	for _, t := range tools {
		if err := reg.Register(t, agent.WithCategory("custom"), agent.WithTags("custom", "authoring")); err != nil {
			return fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}
	return nil
}

// CreateTool saves a new custom tool record. New tools start enabled but
// unapproved; an operator approves them before they reach the registry.
type CreateTool struct {
	store storage.CustomToolStore
}

func NewCreateTool(store storage.CustomToolStore) *CreateTool { return &CreateTool{store: store} }

func (t *CreateTool) Name() string { return "create_custom_tool" }

func (t *CreateTool) Description() string {
	return "Create a user-defined tool from code. The code runs in a sandbox and must be approved before it becomes callable."
}

type createToolArgs struct {
	Name        string         `json:"name" jsonschema:"description=Tool name matching ^[a-z][a-z0-9_]*$."`
	Description string         `json:"description" jsonschema:"description=What the tool does."`
	Parameters  map[string]any `json:"parameters,omitempty" jsonschema:"description=JSON-Schema object describing the tool's arguments."`
	Code        string         `json:"code" jsonschema:"description=The tool implementation."`
	Language    string         `json:"language" jsonschema:"enum=javascript,enum=python"`
}

func (t *CreateTool) Schema() json.RawMessage { return schema.Reflect(&createToolArgs{}) }

func (t *CreateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input createToolArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Language == "" {
		input.Language = "javascript"
	}
	if fail := validateRecord(input.Name, input.Code, input.Language); fail != nil {
		return fail, nil
	}
	if _, err := t.store.GetCustomToolByName(ctx, userID, input.Name); err == nil {
		return toolError(fmt.Sprintf("custom tool %q already exists", input.Name)), nil
	}

	now := time.Now().UTC()
	rec := &models.CustomTool{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		Parameters:  input.Parameters,
		Code:        input.Code,
		Language:    input.Language,
		Enabled:     true,
		Approved:    false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.CreateCustomTool(ctx, rec); err != nil {
		return toolError(fmt.Sprintf("create custom tool: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"id":      rec.ID,
		"name":    rec.Name,
		"message": "custom tool created; awaiting approval",
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// UpdateTool edits a custom tool record. A code change resets approval.
type UpdateTool struct {
	store storage.CustomToolStore
}

func NewUpdateTool(store storage.CustomToolStore) *UpdateTool { return &UpdateTool{store: store} }

func (t *UpdateTool) Name() string { return "update_custom_tool" }

func (t *UpdateTool) Description() string {
	return "Update a custom tool's description, parameters, or code. Changing code requires re-approval."
}

type updateToolArgs struct {
	ID          string         `json:"id" jsonschema:"description=Id of the custom tool."`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Code        string         `json:"code,omitempty"`
}

func (t *UpdateTool) Schema() json.RawMessage { return schema.Reflect(&updateToolArgs{}) }

func (t *UpdateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input updateToolArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.ID == "" {
		return toolError("id is required"), nil
	}

	rec, err := t.store.GetCustomTool(ctx, userID, input.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return toolError(fmt.Sprintf("custom tool %s not found", input.ID)), nil
		}
		return toolError(fmt.Sprintf("get custom tool: %v", err)), nil
	}

	if input.Description != "" {
		rec.Description = input.Description
	}
	if input.Parameters != nil {
		rec.Parameters = input.Parameters
	}
	if input.Code != "" {
		if fail := validateRecord(rec.Name, input.Code, rec.Language); fail != nil {
			return fail, nil
		}
		rec.Code = input.Code
		rec.Approved = false
	}
	rec.UpdatedAt = time.Now().UTC()

	if err := t.store.UpdateCustomTool(ctx, rec); err != nil {
		return toolError(fmt.Sprintf("update custom tool: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"id":       rec.ID,
		"approved": rec.Approved,
		"message":  "custom tool updated",
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// ListTool lists the user's custom tool records.
type ListTool struct {
	store storage.CustomToolStore
}

func NewListTool(store storage.CustomToolStore) *ListTool { return &ListTool{store: store} }

func (t *ListTool) Name() string { return "list_custom_tools" }

func (t *ListTool) Description() string {
	return "List the user's custom tools with their enabled and approval state."
}

type listToolArgs struct {
	EnabledOnly bool `json:"enabled_only,omitempty" jsonschema:"description=Only return enabled tools."`
}

func (t *ListTool) Schema() json.RawMessage { return schema.Reflect(&listToolArgs{}) }

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input listToolArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	filter := storage.CustomToolFilter{}
	if input.EnabledOnly {
		enabled := true
		filter.Enabled = &enabled
	}

	recs, err := t.store.ListCustomTools(ctx, userID, filter)
	if err != nil {
		return toolError(fmt.Sprintf("list custom tools: %v", err)), nil
	}

	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, map[string]any{
			"id":          r.ID,
			"name":        r.Name,
			"description": r.Description,
			"language":    r.Language,
			"enabled":     r.Enabled,
			"approved":    r.Approved,
			"usage_count": r.UsageCount,
		})
	}
	payload, _ := json.Marshal(map[string]any{
		"count": len(out),
		"tools": out,
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// DeleteTool removes a custom tool record.
type DeleteTool struct {
	store storage.CustomToolStore
}

func NewDeleteTool(store storage.CustomToolStore) *DeleteTool { return &DeleteTool{store: store} }

func (t *DeleteTool) Name() string { return "delete_custom_tool" }

func (t *DeleteTool) Description() string {
	return "Delete a custom tool by its id."
}

type deleteToolArgs struct {
	ID string `json:"id" jsonschema:"description=Id of the custom tool to delete."`
}

func (t *DeleteTool) Schema() json.RawMessage { return schema.Reflect(&deleteToolArgs{}) }

func (t *DeleteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input deleteToolArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.ID == "" {
		return toolError("id is required"), nil
	}

	if err := t.store.DeleteCustomTool(ctx, userID, input.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return toolError(fmt.Sprintf("custom tool %s not found", input.ID)), nil
		}
		return toolError(fmt.Sprintf("delete custom tool: %v", err)), nil
	}

	return &agent.ToolResult{Content: `{"message":"custom tool deleted"}`}, nil
}

// ToggleTool enables or disables a custom tool record.
type ToggleTool struct {
	store storage.CustomToolStore
}

func NewToggleTool(store storage.CustomToolStore) *ToggleTool { return &ToggleTool{store: store} }

func (t *ToggleTool) Name() string { return "set_custom_tool_enabled" }

func (t *ToggleTool) Description() string {
	return "Enable or disable a custom tool. Disabled tools are removed from the callable set at the next agent assembly."
}

type toggleToolArgs struct {
	ID      string `json:"id" jsonschema:"description=Id of the custom tool."`
	Enabled bool   `json:"enabled"`
}

func (t *ToggleTool) Schema() json.RawMessage { return schema.Reflect(&toggleToolArgs{}) }

func (t *ToggleTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input toggleToolArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.ID == "" {
		return toolError("id is required"), nil
	}

	if err := t.store.SetCustomToolEnabled(ctx, userID, input.ID, input.Enabled); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return toolError(fmt.Sprintf("custom tool %s not found", input.ID)), nil
		}
		return toolError(fmt.Sprintf("toggle custom tool: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"id":      input.ID,
		"enabled": input.Enabled,
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}
