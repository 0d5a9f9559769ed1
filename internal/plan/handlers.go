package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/pkg/models"
)

// ToolRunner is the slice of the tool registry the step handlers need.
// *agent.Registry satisfies it.
type ToolRunner interface {
	Has(name string) bool
	Execute(ctx context.Context, name string, params json.RawMessage) (*agent.ToolResult, error)
}

// Decider resolves an llm_decision prompt to a model answer.
type Decider interface {
	Decide(ctx context.Context, userID, prompt string) (*Decision, error)
}

// Decision is the outcome of an llm_decision step.
type Decision struct {
	Text      string   `json:"decision"`
	ToolCalls []string `json:"toolCalls,omitempty"`
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(ctx context.Context, userID, prompt string) (*Decision, error)

func (f DeciderFunc) Decide(ctx context.Context, userID, prompt string) (*Decision, error) {
	return f(ctx, userID, prompt)
}

const (
	defaultParallelConcurrency = 5
	defaultLoopIterations      = 10
)

// RegisterBuiltins installs the seven built-in step handlers. The decider
// may be nil; llm_decision steps then fail with a clear message instead of
// at registration time.
func RegisterBuiltins(e *Executor, runner ToolRunner, decider Decider) {
	e.RegisterHandler(models.StepToolCall, ToolCallHandler(runner))
	e.RegisterHandler(models.StepLLMDecision, LLMDecisionHandler(decider))
	e.RegisterHandler(models.StepUserInput, UserInputHandler())
	e.RegisterHandler(models.StepCondition, ConditionHandler())
	e.RegisterHandler(models.StepParallel, ParallelHandler(runner))
	e.RegisterHandler(models.StepLoop, LoopHandler(runner))
	e.RegisterHandler(models.StepSubPlan, SubPlanHandler(e))
}

func failure(format string, args ...any) *StepResult {
	return &StepResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// ToolCallHandler executes one registered tool. The plan owner's userID is
// forwarded on the context so user-scoped tools resolve correctly.
func ToolCallHandler(runner ToolRunner) Handler {
	return HandlerFunc(func(ctx context.Context, hc HandlerContext) (*StepResult, error) {
		name, ok := configString(hc.Step.Config, "toolName")
		if !ok {
			return failure("tool_call step requires toolName"), nil
		}
		if !runner.Has(name) {
			return failure("unknown tool: %s", name), nil
		}
		result, err := runTool(ctx, runner, hc.Plan.UserID, name, configMap(hc.Step.Config, "toolArgs"))
		if err != nil {
			return nil, err
		}
		if result.IsError {
			return failure("%s", result.Content), nil
		}
		return &StepResult{Success: true, Data: result.Content}, nil
	})
}

// LLMDecisionHandler asks the model to pick among choices, folding previous
// step results into the prompt for context.
func LLMDecisionHandler(decider Decider) Handler {
	return HandlerFunc(func(ctx context.Context, hc HandlerContext) (*StepResult, error) {
		prompt, ok := configString(hc.Step.Config, "prompt")
		if !ok {
			return failure("llm_decision step requires prompt"), nil
		}
		if decider == nil {
			return failure("no decision provider configured"), nil
		}

		var sb strings.Builder
		sb.WriteString(prompt)
		if choices := configSlice(hc.Step.Config, "choices"); len(choices) > 0 {
			sb.WriteString("\n\nChoices:\n")
			for _, choice := range choices {
				fmt.Fprintf(&sb, "- %v\n", choice)
			}
		}
		if len(hc.PreviousResults) > 0 {
			sb.WriteString("\nPrevious step results:\n")
			for stepID, data := range hc.PreviousResults {
				fmt.Fprintf(&sb, "- %s: %s\n", stepID, summarize(data))
			}
		}

		decision, err := decider.Decide(ctx, hc.Plan.UserID, sb.String())
		if err != nil {
			return failure("decision failed: %v", err), nil
		}
		return &StepResult{Success: true, Data: map[string]any{
			"decision":  decision.Text,
			"toolCalls": decision.ToolCalls,
		}}, nil
	})
}

// UserInputHandler surfaces a question and pauses the plan until the
// answer arrives via Resume.
func UserInputHandler() Handler {
	return HandlerFunc(func(_ context.Context, hc HandlerContext) (*StepResult, error) {
		question, ok := configString(hc.Step.Config, "question")
		if !ok {
			return failure("user_input step requires question"), nil
		}
		inputType, _ := configString(hc.Step.Config, "inputType")
		if inputType == "" {
			inputType = "text"
		}
		return &StepResult{
			Success: true,
			Data: map[string]any{
				"question":  question,
				"inputType": inputType,
				"options":   configSlice(hc.Step.Config, "options"),
			},
			ShouldPause: true,
		}, nil
	})
}

// ConditionHandler evaluates "true", "false" or "result:<stepID>" and
// branches to trueStep or falseStep.
func ConditionHandler() Handler {
	return HandlerFunc(func(_ context.Context, hc HandlerContext) (*StepResult, error) {
		cond, ok := configString(hc.Step.Config, "condition")
		if !ok {
			return failure("condition step requires condition"), nil
		}

		var value bool
		switch {
		case cond == "true":
			value = true
		case cond == "false":
			value = false
		case strings.HasPrefix(cond, "result:"):
			value = truthy(hc.PreviousResults[strings.TrimPrefix(cond, "result:")])
		default:
			return failure("unsupported condition syntax: %s", cond), nil
		}

		branch := "falseStep"
		if value {
			branch = "trueStep"
		}
		next, _ := configString(hc.Step.Config, branch)
		return &StepResult{
			Success:  true,
			Data:     map[string]any{"condition": cond, "value": value},
			NextStep: next,
		}, nil
	})
}

// ParallelHandler runs the configured calls in batches of maxConcurrent
// with settle-all semantics: every call in a batch finishes before the
// next batch starts, and the step succeeds only when all calls succeed.
func ParallelHandler(runner ToolRunner) Handler {
	return HandlerFunc(func(ctx context.Context, hc HandlerContext) (*StepResult, error) {
		entries := configSlice(hc.Step.Config, "steps")
		if len(entries) == 0 {
			return failure("parallel step requires steps"), nil
		}
		calls := make([]parallelCall, 0, len(entries))
		for i, entry := range entries {
			call, err := parseParallelEntry(entry)
			if err != nil {
				return failure("steps[%d]: %v", i, err), nil
			}
			calls = append(calls, call)
		}

		maxConcurrent := configInt(hc.Step.Config, "maxConcurrent", defaultParallelConcurrency)
		if maxConcurrent < 1 {
			maxConcurrent = 1
		}

		outputs := make([]map[string]any, len(calls))
		allOK := true
		for start := 0; start < len(calls); start += maxConcurrent {
			end := start + maxConcurrent
			if end > len(calls) {
				end = len(calls)
			}
			var wg sync.WaitGroup
			for i := start; i < end; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					outputs[i] = runParallelCall(ctx, runner, hc.Plan.UserID, calls[i])
				}(i)
			}
			wg.Wait()
			for i := start; i < end; i++ {
				if ok, _ := outputs[i]["success"].(bool); !ok {
					allOK = false
				}
			}
		}

		result := &StepResult{Success: allOK, Data: outputs}
		if !allOK {
			result.Error = "one or more parallel calls failed"
		}
		return result, nil
	})
}

type parallelCall struct {
	toolName string
	toolArgs map[string]any
}

func parseParallelEntry(entry any) (parallelCall, error) {
	switch v := entry.(type) {
	case string:
		if v == "" {
			return parallelCall{}, fmt.Errorf("empty tool name")
		}
		return parallelCall{toolName: v}, nil
	case map[string]any:
		name, ok := v["toolName"].(string)
		if !ok || name == "" {
			return parallelCall{}, fmt.Errorf("missing toolName")
		}
		args, _ := v["toolArgs"].(map[string]any)
		return parallelCall{toolName: name, toolArgs: args}, nil
	default:
		return parallelCall{}, fmt.Errorf("expected string or object, got %T", entry)
	}
}

func runParallelCall(ctx context.Context, runner ToolRunner, userID string, call parallelCall) (out map[string]any) {
	out = map[string]any{"toolName": call.toolName}
	// Contain panicking tools to their own entry so sibling calls in the
	// batch still settle.
	defer func() {
		if r := recover(); r != nil {
			out["success"] = false
			out["error"] = fmt.Sprintf("tool %s panicked: %v", call.toolName, r)
		}
	}()
	if !runner.Has(call.toolName) {
		out["success"] = false
		out["error"] = fmt.Sprintf("unknown tool: %s", call.toolName)
		return out
	}
	result, err := runTool(ctx, runner, userID, call.toolName, call.toolArgs)
	switch {
	case err != nil:
		out["success"] = false
		out["error"] = err.Error()
	case result.IsError:
		out["success"] = false
		out["error"] = result.Content
	default:
		out["success"] = true
		out["result"] = result.Content
	}
	return out
}

// LoopHandler invokes a tool repeatedly, passing the iteration index,
// stopping early on the first failure or on the abort signal.
func LoopHandler(runner ToolRunner) Handler {
	return HandlerFunc(func(ctx context.Context, hc HandlerContext) (*StepResult, error) {
		name, ok := configString(hc.Step.Config, "toolName")
		if !ok {
			return failure("loop step requires toolName"), nil
		}
		if !runner.Has(name) {
			return failure("unknown tool: %s", name), nil
		}
		maxIterations := configInt(hc.Step.Config, "maxIterations", defaultLoopIterations)
		if maxIterations < 1 {
			maxIterations = 1
		}
		baseArgs := configMap(hc.Step.Config, "toolArgs")

		iterations := make([]any, 0, maxIterations)
		for i := 0; i < maxIterations; i++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-hc.Signal:
				return nil, ErrAborted
			default:
			}

			args := make(map[string]any, len(baseArgs)+1)
			for k, v := range baseArgs {
				args[k] = v
			}
			args["iteration"] = i

			result, err := runTool(ctx, runner, hc.Plan.UserID, name, args)
			if err != nil {
				return nil, err
			}
			if result.IsError {
				return &StepResult{
					Success: false,
					Data:    iterations,
					Error:   fmt.Sprintf("iteration %d failed: %s", i, result.Content),
				}, nil
			}
			iterations = append(iterations, result.Content)
		}
		return &StepResult{Success: true, Data: iterations}, nil
	})
}

// SubPlanHandler recursively executes a child plan; the child's terminal
// status decides the step outcome.
func SubPlanHandler(e *Executor) Handler {
	return HandlerFunc(func(ctx context.Context, hc HandlerContext) (*StepResult, error) {
		subPlanID, ok := configString(hc.Step.Config, "subPlanId")
		if !ok {
			return failure("sub_plan step requires subPlanId"), nil
		}
		if subPlanID == hc.Plan.ID {
			return failure("sub_plan cannot reference its own plan"), nil
		}
		result, err := e.Execute(ctx, subPlanID)
		if err != nil && result == nil {
			return failure("sub-plan %s: %v", subPlanID, err), nil
		}
		data := map[string]any{
			"planId":         subPlanID,
			"status":         string(result.Status),
			"completedSteps": result.CompletedSteps,
		}
		if result.Status != models.PlanCompleted {
			return &StepResult{
				Success: false,
				Data:    data,
				Error:   fmt.Sprintf("sub-plan %s ended %s: %s", subPlanID, result.Status, result.Error),
			}, nil
		}
		return &StepResult{Success: true, Data: data}, nil
	})
}

func runTool(ctx context.Context, runner ToolRunner, userID, name string, args map[string]any) (*agent.ToolResult, error) {
	if userID != "" {
		ctx = agent.WithUserID(ctx, userID)
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode tool arguments: %w", err)
	}
	return runner.Execute(ctx, name, raw)
}

// truthy mirrors loose truthiness over decoded JSON values.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func summarize(data any) string {
	s := encodeResult(data)
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

func configString(cfg map[string]any, key string) (string, bool) {
	v, ok := cfg[key].(string)
	return v, ok && v != ""
}

func configMap(cfg map[string]any, key string) map[string]any {
	v, _ := cfg[key].(map[string]any)
	return v
}

func configSlice(cfg map[string]any, key string) []any {
	v, _ := cfg[key].([]any)
	return v
}

func configInt(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
