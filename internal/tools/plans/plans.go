// Package plans exposes multi-step plan management as agent tools. Plans
// are persisted through the plan store and run on the shared executor, so
// a plan started from chat is the same object the HTTP plan endpoints see.
package plans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/plan"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/internal/tools/schema"
	"github.com/locushq/locus/pkg/models"
)

// Register wires all plan tools into the registry.
func Register(reg *agent.Registry, store storage.PlanStore, exec *plan.Executor, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "plan_tools")
	tools := []agent.Tool{
		NewCreateTool(store),
		NewAddStepTool(store),
		NewExecuteTool(store, exec, logger),
		NewStatusTool(store),
		NewControlTool(store, exec),
		NewListTool(store),
	}
	for _, t := range tools {
		if err := reg.Register(t, agent.WithCategory("plans"), agent.WithTags("plan", "automation")); err != nil {
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

// CreateTool creates an empty pending plan.
type CreateTool struct {
	store storage.PlanStore
}

func NewCreateTool(store storage.PlanStore) *CreateTool { return &CreateTool{store: store} }

func (t *CreateTool) Name() string { return "create_plan" }

func (t *CreateTool) Description() string {
	return "Create a new multi-step plan. Add steps with add_plan_step, then run it with execute_plan."
}

type createArgs struct {
	Name string `json:"name" jsonschema:"description=Short plan name."`
	Goal string `json:"goal,omitempty" jsonschema:"description=What the plan should achieve."`
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

	p := &models.Plan{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   strings.TrimSpace(input.Name),
		Goal:   input.Goal,
		Status: models.PlanPending,
	}
	if err := t.store.CreatePlan(ctx, p); err != nil {
		return toolError(fmt.Sprintf("create plan: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"plan_id": p.ID,
		"message": "plan created; add steps with add_plan_step",
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// AddStepTool appends a typed step to a pending plan.
type AddStepTool struct {
	store storage.PlanStore
}

func NewAddStepTool(store storage.PlanStore) *AddStepTool { return &AddStepTool{store: store} }

func (t *AddStepTool) Name() string { return "add_plan_step" }

func (t *AddStepTool) Description() string {
	return "Add a step to a plan. Step types: tool_call, llm_decision, user_input, condition, parallel, loop, sub_plan."
}

type addStepArgs struct {
	PlanID       string         `json:"plan_id" jsonschema:"description=Id of the plan."`
	Name         string         `json:"name" jsonschema:"description=Human-readable step name."`
	Type         string         `json:"type" jsonschema:"enum=tool_call,enum=llm_decision,enum=user_input,enum=condition,enum=parallel,enum=loop,enum=sub_plan"`
	Config       map[string]any `json:"config,omitempty" jsonschema:"description=Handler-specific configuration."`
	Dependencies []string       `json:"dependencies,omitempty" jsonschema:"description=Ids of steps that must complete first."`
	MaxRetries   int            `json:"max_retries,omitempty"`
	TimeoutMS    int64          `json:"timeout_ms,omitempty"`
	OnFailure    string         `json:"on_failure,omitempty" jsonschema:"description=abort (default), skip, or a step id to jump to."`
}

func (t *AddStepTool) Schema() json.RawMessage { return schema.Reflect(&addStepArgs{}) }

var stepTypes = map[models.StepType]bool{
	models.StepToolCall:    true,
	models.StepLLMDecision: true,
	models.StepUserInput:   true,
	models.StepCondition:   true,
	models.StepParallel:    true,
	models.StepLoop:        true,
	models.StepSubPlan:     true,
}

func (t *AddStepTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input addStepArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.PlanID == "" {
		return toolError("plan_id is required"), nil
	}
	if strings.TrimSpace(input.Name) == "" {
		return toolError("name is required"), nil
	}
	if !stepTypes[models.StepType(input.Type)] {
		return toolError(fmt.Sprintf("unknown step type %q", input.Type)), nil
	}

	p, err := t.store.GetPlan(ctx, userID, input.PlanID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return toolError(fmt.Sprintf("plan %s not found", input.PlanID)), nil
		}
		return toolError(fmt.Sprintf("get plan: %v", err)), nil
	}
	if p.Status.Terminal() {
		return toolError(fmt.Sprintf("plan %s is %s; cannot add steps", p.ID, p.Status)), nil
	}

	steps, err := t.store.GetSteps(ctx, p.ID)
	if err != nil {
		return toolError(fmt.Sprintf("get steps: %v", err)), nil
	}

	step := &models.Step{
		ID:           uuid.NewString(),
		PlanID:       p.ID,
		OrderNum:     len(steps) + 1,
		Type:         models.StepType(input.Type),
		Name:         strings.TrimSpace(input.Name),
		Config:       input.Config,
		Status:       models.StepPending,
		MaxRetries:   input.MaxRetries,
		Dependencies: input.Dependencies,
		TimeoutMS:    input.TimeoutMS,
		OnFailure:    input.OnFailure,
	}
	if err := t.store.CreateStep(ctx, step); err != nil {
		return toolError(fmt.Sprintf("create step: %v", err)), nil
	}

	p.TotalSteps = len(steps) + 1
	if err := t.store.UpdatePlan(ctx, p); err != nil {
		return toolError(fmt.Sprintf("update plan: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"step_id":   step.ID,
		"order_num": step.OrderNum,
		"message":   "step added",
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// ExecuteTool starts a plan in the background and returns immediately.
type ExecuteTool struct {
	store  storage.PlanStore
	exec   *plan.Executor
	logger *slog.Logger
}

func NewExecuteTool(store storage.PlanStore, exec *plan.Executor, logger *slog.Logger) *ExecuteTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecuteTool{store: store, exec: exec, logger: logger}
}

func (t *ExecuteTool) Name() string { return "execute_plan" }

func (t *ExecuteTool) Description() string {
	return "Start executing a plan in the background. Check progress with get_plan_status."
}

type executeArgs struct {
	PlanID string `json:"plan_id" jsonschema:"description=Id of the plan to run."`
}

func (t *ExecuteTool) Schema() json.RawMessage { return schema.Reflect(&executeArgs{}) }

func (t *ExecuteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input executeArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.PlanID == "" {
		return toolError("plan_id is required"), nil
	}

	p, err := t.store.GetPlan(ctx, userID, input.PlanID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return toolError(fmt.Sprintf("plan %s not found", input.PlanID)), nil
		}
		return toolError(fmt.Sprintf("get plan: %v", err)), nil
	}
	if p.Status.Terminal() {
		return toolError(fmt.Sprintf("plan %s already finished with status %s", p.ID, p.Status)), nil
	}
	if t.exec.IsRunning(p.ID) {
		return toolError(fmt.Sprintf("plan %s is already running", p.ID)), nil
	}

	// The tool call's context ends with the LLM turn; the plan outlives it.
	runCtx := agent.WithUserID(context.Background(), userID)
	go func() {
		if _, err := t.exec.Execute(runCtx, p.ID); err != nil {
			t.logger.Warn("background plan execution failed", "plan_id", p.ID, "error", err)
		}
	}()

	payload, _ := json.Marshal(map[string]any{
		"plan_id": p.ID,
		"message": "plan execution started",
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// StatusTool reports a plan's progress and per-step states.
type StatusTool struct {
	store storage.PlanStore
}

func NewStatusTool(store storage.PlanStore) *StatusTool { return &StatusTool{store: store} }

func (t *StatusTool) Name() string { return "get_plan_status" }

func (t *StatusTool) Description() string {
	return "Get a plan's status, progress, and the state of each step."
}

type statusArgs struct {
	PlanID string `json:"plan_id" jsonschema:"description=Id of the plan."`
}

func (t *StatusTool) Schema() json.RawMessage { return schema.Reflect(&statusArgs{}) }

func (t *StatusTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input statusArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.PlanID == "" {
		return toolError("plan_id is required"), nil
	}

	p, err := t.store.GetPlan(ctx, userID, input.PlanID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return toolError(fmt.Sprintf("plan %s not found", input.PlanID)), nil
		}
		return toolError(fmt.Sprintf("get plan: %v", err)), nil
	}
	steps, err := t.store.GetSteps(ctx, p.ID)
	if err != nil {
		return toolError(fmt.Sprintf("get steps: %v", err)), nil
	}

	stepOut := make([]map[string]any, 0, len(steps))
	for _, s := range steps {
		entry := map[string]any{
			"id":     s.ID,
			"name":   s.Name,
			"type":   s.Type,
			"status": s.Status,
		}
		if s.Error != "" {
			entry["error"] = s.Error
		}
		stepOut = append(stepOut, entry)
	}

	payload, _ := json.Marshal(map[string]any{
		"plan_id":  p.ID,
		"name":     p.Name,
		"status":   p.Status,
		"progress": p.Progress,
		"error":    p.Error,
		"steps":    stepOut,
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// ControlTool pauses, resumes, or aborts a running plan.
type ControlTool struct {
	store storage.PlanStore
	exec  *plan.Executor
}

func NewControlTool(store storage.PlanStore, exec *plan.Executor) *ControlTool {
	return &ControlTool{store: store, exec: exec}
}

func (t *ControlTool) Name() string { return "control_plan" }

func (t *ControlTool) Description() string {
	return "Pause, resume, or abort a plan."
}

type controlArgs struct {
	PlanID string `json:"plan_id" jsonschema:"description=Id of the plan."`
	Action string `json:"action" jsonschema:"enum=pause,enum=resume,enum=abort"`
}

func (t *ControlTool) Schema() json.RawMessage { return schema.Reflect(&controlArgs{}) }

func (t *ControlTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input controlArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.PlanID == "" {
		return toolError("plan_id is required"), nil
	}

	p, err := t.store.GetPlan(ctx, userID, input.PlanID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return toolError(fmt.Sprintf("plan %s not found", input.PlanID)), nil
		}
		return toolError(fmt.Sprintf("get plan: %v", err)), nil
	}

	switch input.Action {
	case "pause":
		if !t.exec.Pause(input.PlanID) {
			return toolError(fmt.Sprintf("plan %s is not running", input.PlanID)), nil
		}
	case "resume":
		if p.Status != models.PlanPaused {
			return toolError(fmt.Sprintf("plan %s cannot be resumed from status %s", input.PlanID, p.Status)), nil
		}
		runCtx := agent.WithUserID(context.Background(), userID)
		go func() {
			// Resume re-enters the run loop; completion is observable
			// through get_plan_status.
			_, _ = t.exec.Resume(runCtx, input.PlanID)
		}()
	case "abort":
		if !t.exec.Abort(input.PlanID) {
			return toolError(fmt.Sprintf("plan %s is not running", input.PlanID)), nil
		}
	default:
		return toolError(fmt.Sprintf("unknown action %q; expected pause, resume or abort", input.Action)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"plan_id": input.PlanID,
		"action":  input.Action,
		"message": "ok",
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// ListTool pages through the user's plans.
type ListTool struct {
	store storage.PlanStore
}

func NewListTool(store storage.PlanStore) *ListTool { return &ListTool{store: store} }

func (t *ListTool) Name() string { return "list_plans" }

func (t *ListTool) Description() string {
	return "List the user's plans, newest first."
}

type listArgs struct {
	Limit  int `json:"limit,omitempty" jsonschema:"description=Maximum results. Defaults to 10."`
	Offset int `json:"offset,omitempty"`
}

func (t *ListTool) Schema() json.RawMessage { return schema.Reflect(&listArgs{}) }

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input listArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Limit <= 0 {
		input.Limit = 10
	}
	if input.Offset < 0 {
		input.Offset = 0
	}

	found, total, err := t.store.ListPlans(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return toolError(fmt.Sprintf("list plans: %v", err)), nil
	}

	out := make([]map[string]any, 0, len(found))
	for _, p := range found {
		out = append(out, map[string]any{
			"id":       p.ID,
			"name":     p.Name,
			"status":   p.Status,
			"progress": p.Progress,
		})
	}
	payload, _ := json.Marshal(map[string]any{
		"total": total,
		"plans": out,
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}
