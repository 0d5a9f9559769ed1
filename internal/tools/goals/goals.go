// Package goals exposes long-horizon goal tracking as agent tools. Active
// goals and their next actions are folded into the assembled system prompt.
package goals

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

const defaultActiveLimit = 10

// Register wires all goal tools into the registry.
func Register(reg *agent.Registry, store storage.GoalStore) error {
	tools := []agent.Tool{
		NewCreateTool(store),
		NewUpdateTool(store),
		NewCompleteStepTool(store),
		NewListActiveTool(store),
	}
	for _, t := range tools {
		if err := reg.Register(t, agent.WithCategory("goals"), agent.WithTags("goal", "planning")); err != nil {
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

// CreateTool creates a new active goal.
type CreateTool struct {
	store storage.GoalStore
}

func NewCreateTool(store storage.GoalStore) *CreateTool { return &CreateTool{store: store} }

func (t *CreateTool) Name() string { return "create_goal" }

func (t *CreateTool) Description() string {
	return "Create a long-horizon goal for the user with an ordered list of next actions."
}

type createArgs struct {
	Title       string   `json:"title" jsonschema:"description=Short goal title."`
	Description string   `json:"description,omitempty" jsonschema:"description=Longer goal context."`
	Priority    int      `json:"priority,omitempty" jsonschema:"description=1 (lowest) to 5 (highest). Defaults to 3."`
	NextActions []string `json:"next_actions,omitempty" jsonschema:"description=Ordered concrete next steps."`
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
	if strings.TrimSpace(input.Title) == "" {
		return toolError("title is required"), nil
	}
	if input.Priority == 0 {
		input.Priority = 3
	}
	if input.Priority < 1 || input.Priority > 5 {
		return toolError("priority must be between 1 and 5"), nil
	}

	now := time.Now().UTC()
	goal := &models.Goal{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Status:      models.GoalActive,
		Priority:    input.Priority,
		NextActions: input.NextActions,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.CreateGoal(ctx, goal); err != nil {
		return toolError(fmt.Sprintf("create goal: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"id":      goal.ID,
		"title":   goal.Title,
		"message": "goal created",
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// UpdateTool edits an existing goal's fields or status.
type UpdateTool struct {
	store storage.GoalStore
}

func NewUpdateTool(store storage.GoalStore) *UpdateTool { return &UpdateTool{store: store} }

func (t *UpdateTool) Name() string { return "update_goal" }

func (t *UpdateTool) Description() string {
	return "Update a goal's title, status, priority, or next actions. Omitted fields are left unchanged."
}

type updateArgs struct {
	ID          string   `json:"id" jsonschema:"description=Id of the goal to update."`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty" jsonschema:"enum=active,enum=paused,enum=completed,enum=abandoned"`
	Priority    int      `json:"priority,omitempty" jsonschema:"description=1 (lowest) to 5 (highest)."`
	NextActions []string `json:"next_actions,omitempty" jsonschema:"description=Replaces the goal's next actions."`
}

func (t *UpdateTool) Schema() json.RawMessage { return schema.Reflect(&updateArgs{}) }

func (t *UpdateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input updateArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.ID == "" {
		return toolError("id is required"), nil
	}

	goal, err := t.store.GetGoal(ctx, userID, input.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return toolError(fmt.Sprintf("goal %s not found", input.ID)), nil
		}
		return toolError(fmt.Sprintf("get goal: %v", err)), nil
	}

	if input.Title != "" {
		goal.Title = input.Title
	}
	if input.Description != "" {
		goal.Description = input.Description
	}
	if input.Status != "" {
		switch models.GoalStatus(input.Status) {
		case models.GoalActive, models.GoalPaused, models.GoalCompleted, models.GoalAbandoned:
			goal.Status = models.GoalStatus(input.Status)
		default:
			return toolError(fmt.Sprintf("unknown status %q", input.Status)), nil
		}
	}
	if input.Priority != 0 {
		if input.Priority < 1 || input.Priority > 5 {
			return toolError("priority must be between 1 and 5"), nil
		}
		goal.Priority = input.Priority
	}
	if input.NextActions != nil {
		goal.NextActions = input.NextActions
	}
	goal.UpdatedAt = time.Now().UTC()

	if err := t.store.UpdateGoal(ctx, goal); err != nil {
		return toolError(fmt.Sprintf("update goal: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"id":      goal.ID,
		"status":  goal.Status,
		"message": "goal updated",
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// CompleteStepTool pops the goal's first next action.
type CompleteStepTool struct {
	store storage.GoalStore
}

func NewCompleteStepTool(store storage.GoalStore) *CompleteStepTool {
	return &CompleteStepTool{store: store}
}

func (t *CompleteStepTool) Name() string { return "complete_goal_step" }

func (t *CompleteStepTool) Description() string {
	return "Mark the first next action of a goal as done. Completing the last action completes the goal."
}

type completeArgs struct {
	ID string `json:"id" jsonschema:"description=Id of the goal."`
}

func (t *CompleteStepTool) Schema() json.RawMessage { return schema.Reflect(&completeArgs{}) }

func (t *CompleteStepTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input completeArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.ID == "" {
		return toolError("id is required"), nil
	}

	goal, err := t.store.CompleteGoalStep(ctx, userID, input.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return toolError(fmt.Sprintf("goal %s not found", input.ID)), nil
		}
		return toolError(fmt.Sprintf("complete goal step: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"id":           goal.ID,
		"status":       goal.Status,
		"next_actions": goal.NextActions,
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// ListActiveTool lists active goals with their next actions.
type ListActiveTool struct {
	store storage.GoalStore
}

func NewListActiveTool(store storage.GoalStore) *ListActiveTool {
	return &ListActiveTool{store: store}
}

func (t *ListActiveTool) Name() string { return "list_goals" }

func (t *ListActiveTool) Description() string {
	return "List the user's active goals, highest priority first."
}

type listActiveArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum results. Defaults to 10."`
}

func (t *ListActiveTool) Schema() json.RawMessage { return schema.Reflect(&listActiveArgs{}) }

func (t *ListActiveTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input listActiveArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Limit <= 0 {
		input.Limit = defaultActiveLimit
	}

	goals, err := t.store.GetActiveGoals(ctx, userID, input.Limit)
	if err != nil {
		return toolError(fmt.Sprintf("list goals: %v", err)), nil
	}

	out := make([]map[string]any, 0, len(goals))
	for _, g := range goals {
		out = append(out, map[string]any{
			"id":           g.ID,
			"title":        g.Title,
			"priority":     g.Priority,
			"next_actions": g.NextActions,
		})
	}
	payload, _ := json.Marshal(map[string]any{
		"count": len(out),
		"goals": out,
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}
