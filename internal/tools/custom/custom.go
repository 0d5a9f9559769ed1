// Package custom manages user-authored tool records. The code itself runs
// in an external sandbox reached through the Runner interface; this package
// owns the record lifecycle, the static code guard, and the sync of
// enabled+approved records into the agent tool registry.
package custom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/pkg/models"
)

// Runner executes custom tool code in an external sandbox.
type Runner interface {
	Run(ctx context.Context, tool *models.CustomTool, args json.RawMessage) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, tool *models.CustomTool, args json.RawMessage) (string, error)

func (f RunnerFunc) Run(ctx context.Context, tool *models.CustomTool, args json.RawMessage) (string, error) {
	return f(ctx, tool, args)
}

var toolNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// bannedPatterns are substrings the code guard rejects, matched
// case-insensitively. They cover process control, module loading, and
// global-scope escape hatches the sandbox does not permit.
var bannedPatterns = []string{
	"process.exit",
	"require(",
	"import(",
	"__dirname",
	"__filename",
	"global.",
	"globalthis.",
}

// CheckCode returns the first banned pattern found in code, or "".
func CheckCode(code string) string {
	lowered := strings.ToLower(code)
	for _, p := range bannedPatterns {
		if strings.Contains(lowered, p) {
			return p
		}
	}
	return ""
}

// sandboxTool adapts a CustomTool record to the agent.Tool interface.
type sandboxTool struct {
	record *models.CustomTool
	store  storage.CustomToolStore
	runner Runner
	logger *slog.Logger
}

func (t *sandboxTool) Name() string        { return t.record.Name }
func (t *sandboxTool) Description() string { return t.record.Description }

func (t *sandboxTool) Schema() json.RawMessage {
	if len(t.record.Parameters) > 0 {
		if payload, err := json.Marshal(t.record.Parameters); err == nil {
			return payload
		}
	}
	return json.RawMessage(`{"type":"object"}`)
}

func (t *sandboxTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.runner == nil {
		return toolError("no sandbox runner configured"), nil
	}
	out, err := t.runner.Run(ctx, t.record, params)
	if err != nil {
		return toolError(fmt.Sprintf("custom tool %s failed: %v", t.record.Name, err)), nil
	}
	// Usage accounting must not fail the call.
	if uerr := t.store.RecordCustomToolUsage(ctx, t.record.UserID, t.record.ID); uerr != nil {
		t.logger.Warn("record custom tool usage", "tool", t.record.Name, "error", uerr)
	}
	return &agent.ToolResult{Content: out}, nil
}

// Sync registers every enabled+approved custom tool of the user into the
// registry as a sandbox-executed stub, replacing earlier registrations.
// Returns the names registered.
func Sync(ctx context.Context, reg *agent.Registry, store storage.CustomToolStore, runner Runner, userID string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "custom_tools")

	active, err := store.GetActiveCustomTools(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load active custom tools: %w", err)
	}

	var names []string
	for _, rec := range active {
		tool := &sandboxTool{record: rec, store: store, runner: runner, logger: logger}
		err := reg.Register(tool,
			agent.WithReplace(),
			agent.WithCategory("custom"),
			agent.WithTags("custom", rec.Language),
			agent.WithApproval(true),
		)
		if err != nil {
			logger.Warn("skipping custom tool", "tool", rec.Name, "error", err)
			continue
		}
		names = append(names, rec.Name)
	}
	return names, nil
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

// validateRecord applies the shared create/update checks.
func validateRecord(name, code, language string) *agent.ToolResult {
	if !toolNameRe.MatchString(name) {
		return toolError(fmt.Sprintf("invalid tool name %q: must match ^[a-z][a-z0-9_]*$", name))
	}
	if strings.TrimSpace(code) == "" {
		return toolError("code is required")
	}
	switch language {
	case "javascript", "python":
	default:
		return toolError(fmt.Sprintf("unsupported language %q; expected javascript or python", language))
	}
	if p := CheckCode(code); p != "" {
		return toolError(fmt.Sprintf("code rejected: forbidden pattern %q", p))
	}
	return nil
}
