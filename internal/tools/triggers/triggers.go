// Package triggers exposes scheduled-automation records as agent tools.
// The scheduler that actually fires them lives in internal/triggers at the
// top level; this package only manages the records and validates schedule
// expressions up front so bad triggers never reach the scheduler.
package triggers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/internal/tools/schema"
	"github.com/locushq/locus/pkg/models"
)

// Register wires the trigger management tools into the registry.
func Register(reg *agent.Registry, store storage.TriggerStore) error {
	tools := []agent.Tool{
		NewCreateTool(store),
		NewListTool(store),
		NewDeleteTool(store),
		NewToggleTool(store),
	}
	for _, t := range tools {
		if err := reg.Register(t, agent.WithCategory("triggers"), agent.WithTags("trigger", "schedule", "automation")); err != nil {
			return fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}
	return nil
}

func toolError(msg string) *agent.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

func userFrom(ctx context.Context) (string, *agent.ToolResult) {
	userID := agent.UserIDFromContext(ctx)
	if userID == "" {
		return "", toolError("no user in context")
	}
	return userID, nil
}

// ValidateExpr checks a schedule expression against its kind.
func ValidateExpr(kind models.TriggerKind, expr string) error {
	switch kind {
	case models.TriggerCron:
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
	case models.TriggerInterval:
		d, err := time.ParseDuration(expr)
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", expr, err)
		}
		if d < time.Second {
			return fmt.Errorf("interval %q too short: minimum is 1s", expr)
		}
	case models.TriggerOnce:
		ts, err := time.Parse(time.RFC3339, expr)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", expr, err)
		}
		if ts.Before(time.Now()) {
			return fmt.Errorf("timestamp %q is in the past", expr)
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", kind)
	}
	return nil
}

// CreateTool creates a scheduled or content-matched trigger.
type CreateTool struct {
	store storage.TriggerStore
}

func NewCreateTool(store storage.TriggerStore) *CreateTool { return &CreateTool{store: store} }

func (t *CreateTool) Name() string { return "create_trigger" }

func (t *CreateTool) Description() string {
	return "Create an automation trigger: cron (5-field expression), interval (duration like 15m), or once (RFC 3339 timestamp). Firing injects a prompt or runs a plan."
}

type createArgs struct {
	Name        string `json:"name" jsonschema:"description=Short trigger name."`
	Kind        string `json:"kind" jsonschema:"enum=cron,enum=interval,enum=once"`
	Expr        string `json:"expr" jsonschema:"description=Schedule expression for the chosen kind."`
	Action      string `json:"action" jsonschema:"enum=prompt,enum=plan,description=What firing does. Defaults to prompt."`
	Payload     string `json:"payload" jsonschema:"description=Prompt text, or the plan id for action=plan."`
	WorkspaceID string `json:"workspace_id,omitempty" jsonschema:"description=Workspace that receives prompt injections."`
	Match       string `json:"match,omitempty" jsonschema:"description=Substring of assistant output that also fires this trigger."`
}

func (t *CreateTool) Schema() json.RawMessage { return schema.Reflect(&createArgs{}) }

func (t *CreateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input createArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Name) == "" {
		return toolError("name is required"), nil
	}
	if strings.TrimSpace(input.Payload) == "" {
		return toolError("payload is required"), nil
	}
	if input.Action == "" {
		input.Action = string(models.TriggerActionPrompt)
	}
	switch models.TriggerAction(input.Action) {
	case models.TriggerActionPrompt, models.TriggerActionPlan:
	default:
		return toolError(fmt.Sprintf("unknown action %q; expected prompt or plan", input.Action)), nil
	}
	kind := models.TriggerKind(input.Kind)
	if err := ValidateExpr(kind, input.Expr); err != nil {
		return toolError(err.Error()), nil
	}

	now := time.Now().UTC()
	trig := &models.Trigger{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        strings.TrimSpace(input.Name),
		Kind:        kind,
		Expr:        input.Expr,
		Action:      models.TriggerAction(input.Action),
		Payload:     input.Payload,
		WorkspaceID: input.WorkspaceID,
		Match:       input.Match,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.CreateTrigger(ctx, trig); err != nil {
		return toolError(fmt.Sprintf("create trigger: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"id":      trig.ID,
		"name":    trig.Name,
		"message": "trigger created",
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// ListTool lists the user's triggers.
type ListTool struct {
	store storage.TriggerStore
}

func NewListTool(store storage.TriggerStore) *ListTool { return &ListTool{store: store} }

func (t *ListTool) Name() string { return "list_triggers" }

func (t *ListTool) Description() string {
	return "List the user's automation triggers."
}

type listArgs struct{}

func (t *ListTool) Schema() json.RawMessage { return schema.Reflect(&listArgs{}) }

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	trigs, err := t.store.ListTriggers(ctx, userID)
	if err != nil {
		return toolError(fmt.Sprintf("list triggers: %v", err)), nil
	}

	out := make([]map[string]any, 0, len(trigs))
	for _, tr := range trigs {
		entry := map[string]any{
			"id":      tr.ID,
			"name":    tr.Name,
			"kind":    tr.Kind,
			"expr":    tr.Expr,
			"action":  tr.Action,
			"enabled": tr.Enabled,
		}
		if tr.LastFiredAt != nil {
			entry["last_fired_at"] = tr.LastFiredAt.Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	payload, _ := json.Marshal(map[string]any{
		"count":    len(out),
		"triggers": out,
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// DeleteTool removes a trigger by id.
type DeleteTool struct {
	store storage.TriggerStore
}

func NewDeleteTool(store storage.TriggerStore) *DeleteTool { return &DeleteTool{store: store} }

func (t *DeleteTool) Name() string { return "delete_trigger" }

func (t *DeleteTool) Description() string {
	return "Delete an automation trigger by its id."
}

type deleteArgs struct {
	ID string `json:"id" jsonschema:"description=Id of the trigger to delete."`
}

func (t *DeleteTool) Schema() json.RawMessage { return schema.Reflect(&deleteArgs{}) }

func (t *DeleteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input deleteArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.ID == "" {
		return toolError("id is required"), nil
	}

	if err := t.store.DeleteTrigger(ctx, userID, input.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return toolError(fmt.Sprintf("trigger %s not found", input.ID)), nil
		}
		return toolError(fmt.Sprintf("delete trigger: %v", err)), nil
	}

	return &agent.ToolResult{Content: `{"message":"trigger deleted"}`}, nil
}

// ToggleTool enables or disables a trigger.
type ToggleTool struct {
	store storage.TriggerStore
}

func NewToggleTool(store storage.TriggerStore) *ToggleTool { return &ToggleTool{store: store} }

func (t *ToggleTool) Name() string { return "set_trigger_enabled" }

func (t *ToggleTool) Description() string {
	return "Enable or disable an automation trigger."
}

type toggleArgs struct {
	ID      string `json:"id" jsonschema:"description=Id of the trigger."`
	Enabled bool   `json:"enabled"`
}

func (t *ToggleTool) Schema() json.RawMessage { return schema.Reflect(&toggleArgs{}) }

func (t *ToggleTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input toggleArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.ID == "" {
		return toolError("id is required"), nil
	}

	trig, err := t.store.GetTrigger(ctx, userID, input.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return toolError(fmt.Sprintf("trigger %s not found", input.ID)), nil
		}
		return toolError(fmt.Sprintf("get trigger: %v", err)), nil
	}

	trig.Enabled = input.Enabled
	trig.UpdatedAt = time.Now().UTC()
	if err := t.store.UpdateTrigger(ctx, trig); err != nil {
		return toolError(fmt.Sprintf("update trigger: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"id":      trig.ID,
		"enabled": trig.Enabled,
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}
