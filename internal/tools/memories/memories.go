// Package memories exposes long-term user memory as agent tools. The same
// store feeds the high-importance memory block in the assembled system
// prompt.
package memories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/internal/tools/schema"
	"github.com/locushq/locus/pkg/models"
)

const (
	defaultListLimit   = 20
	defaultSearchLimit = 10
)

// Register wires all memory tools into the registry.
func Register(reg *agent.Registry, store storage.MemoryStore) error {
	tools := []agent.Tool{
		NewAddTool(store),
		NewSearchTool(store),
		NewListTool(store),
		NewDeleteTool(store),
	}
	for _, t := range tools {
		if err := reg.Register(t, agent.WithCategory("memory"), agent.WithTags("memory", "knowledge")); err != nil {
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

// AddTool persists a new memory.
type AddTool struct {
	store storage.MemoryStore
}

func NewAddTool(store storage.MemoryStore) *AddTool { return &AddTool{store: store} }

func (t *AddTool) Name() string { return "add_memory" }

func (t *AddTool) Description() string {
	return "Save a long-term memory about the user: a fact, preference, event, or skill. High-importance memories are surfaced in future conversations."
}

type addArgs struct {
	Type       string  `json:"type" jsonschema:"enum=fact,enum=preference,enum=event,enum=skill,description=Kind of memory."`
	Content    string  `json:"content" jsonschema:"description=The memory text to store."`
	Importance float64 `json:"importance,omitempty" jsonschema:"description=Importance from 0 to 1. Defaults to 0.5."`
}

func (t *AddTool) Schema() json.RawMessage { return schema.Reflect(&addArgs{}) }

func (t *AddTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input addArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Content) == "" {
		return toolError("content is required"), nil
	}
	if input.Type == "" {
		input.Type = string(models.MemoryFact)
	}
	if !models.ValidMemoryType(input.Type) {
		return toolError(fmt.Sprintf("unknown memory type %q; expected fact, preference, event or skill", input.Type)), nil
	}
	if input.Importance == 0 {
		input.Importance = 0.5
	}
	if input.Importance < 0 || input.Importance > 1 {
		return toolError("importance must be between 0 and 1"), nil
	}

	mem := &models.Memory{
		ID:         uuid.NewString(),
		UserID:     userID,
		Type:       models.MemoryType(input.Type),
		Content:    strings.TrimSpace(input.Content),
		Importance: input.Importance,
		CreatedAt:  time.Now().UTC(),
	}
	if err := t.store.AddMemory(ctx, mem); err != nil {
		return toolError(fmt.Sprintf("save memory: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"id":      mem.ID,
		"type":    mem.Type,
		"message": "memory saved",
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// SearchTool finds memories matching a query.
type SearchTool struct {
	store storage.MemoryStore
}

func NewSearchTool(store storage.MemoryStore) *SearchTool { return &SearchTool{store: store} }

func (t *SearchTool) Name() string { return "search_memories" }

func (t *SearchTool) Description() string {
	return "Search saved memories about the user by keyword."
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"description=Keywords to match against memory content."`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results. Defaults to 10, capped at 100."`
}

func (t *SearchTool) Schema() json.RawMessage { return schema.Reflect(&searchArgs{}) }

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID, fail := userFrom(ctx)
	if fail != nil {
		return fail, nil
	}

	var input searchArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return toolError("query is required"), nil
	}
	if input.Limit <= 0 {
		input.Limit = defaultSearchLimit
	}
	if input.Limit > 100 {
		input.Limit = 100
	}

	found, err := t.store.SearchMemories(ctx, userID, input.Query, input.Limit)
	if err != nil {
		return toolError(fmt.Sprintf("search memories: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"count":    len(found),
		"memories": summarize(found),
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// ListTool pages through saved memories.
type ListTool struct {
	store storage.MemoryStore
}

func NewListTool(store storage.MemoryStore) *ListTool { return &ListTool{store: store} }

func (t *ListTool) Name() string { return "list_memories" }

func (t *ListTool) Description() string {
	return "List saved memories about the user, newest first."
}

type listArgs struct {
	Limit  int `json:"limit,omitempty" jsonschema:"description=Maximum results. Defaults to 20."`
	Offset int `json:"offset,omitempty" jsonschema:"description=Number of results to skip."`
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
		input.Limit = defaultListLimit
	}
	if input.Offset < 0 {
		input.Offset = 0
	}

	found, total, err := t.store.ListMemories(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return toolError(fmt.Sprintf("list memories: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"total":    total,
		"memories": summarize(found),
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// DeleteTool removes a memory by id.
type DeleteTool struct {
	store storage.MemoryStore
}

func NewDeleteTool(store storage.MemoryStore) *DeleteTool { return &DeleteTool{store: store} }

func (t *DeleteTool) Name() string { return "delete_memory" }

func (t *DeleteTool) Description() string {
	return "Delete a saved memory by its id."
}

type deleteArgs struct {
	ID string `json:"id" jsonschema:"description=Id of the memory to delete."`
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

	if err := t.store.DeleteMemory(ctx, userID, input.ID); err != nil {
		return toolError(fmt.Sprintf("delete memory: %v", err)), nil
	}

	return &agent.ToolResult{Content: `{"message":"memory deleted"}`}, nil
}

func summarize(mems []*models.Memory) []map[string]any {
	out := make([]map[string]any, 0, len(mems))
	for _, m := range mems {
		out = append(out, map[string]any{
			"id":         m.ID,
			"type":       m.Type,
			"content":    m.Content,
			"importance": m.Importance,
			"created_at": m.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}
