package memories

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/storage"
)

func userCtx(id string) context.Context {
	return agent.WithUserID(context.Background(), id)
}

func TestAddAndSearchMemory(t *testing.T) {
	store := storage.NewMemoryMemoryStore()
	add := NewAddTool(store)
	search := NewSearchTool(store)
	ctx := userCtx("u1")

	res, err := add.Execute(ctx, json.RawMessage(`{"type":"preference","content":"prefers dark mode","importance":0.8}`))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if res.IsError {
		t.Fatalf("add returned tool error: %s", res.Content)
	}

	res, err = search.Execute(ctx, json.RawMessage(`{"query":"dark mode"}`))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.IsError {
		t.Fatalf("search returned tool error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "prefers dark mode") {
		t.Errorf("search result missing memory: %s", res.Content)
	}
}

func TestAddMemoryDefaults(t *testing.T) {
	store := storage.NewMemoryMemoryStore()
	add := NewAddTool(store)

	res, err := add.Execute(userCtx("u1"), json.RawMessage(`{"content":"lives in Lisbon"}`))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if res.IsError {
		t.Fatalf("add returned tool error: %s", res.Content)
	}

	mems, _, err := store.ListMemories(context.Background(), "u1", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mems) != 1 {
		t.Fatalf("memories = %d, want 1", len(mems))
	}
	if string(mems[0].Type) != "fact" {
		t.Errorf("type = %s, want fact", mems[0].Type)
	}
	if mems[0].Importance != 0.5 {
		t.Errorf("importance = %v, want 0.5", mems[0].Importance)
	}
}

func TestAddMemoryRejectsBadInput(t *testing.T) {
	store := storage.NewMemoryMemoryStore()
	add := NewAddTool(store)
	ctx := userCtx("u1")

	cases := []string{
		`{"content":""}`,
		`{"type":"opinion","content":"x"}`,
		`{"content":"x","importance":1.5}`,
	}
	for _, params := range cases {
		res, err := add.Execute(ctx, json.RawMessage(params))
		if err != nil {
			t.Fatalf("add(%s): %v", params, err)
		}
		if !res.IsError {
			t.Errorf("add(%s) succeeded, want tool error", params)
		}
	}
}

func TestMemoryToolsRequireUser(t *testing.T) {
	store := storage.NewMemoryMemoryStore()
	add := NewAddTool(store)

	res, err := add.Execute(context.Background(), json.RawMessage(`{"content":"x"}`))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !res.IsError {
		t.Error("add without user succeeded, want tool error")
	}
}

func TestSearchLimitCap(t *testing.T) {
	store := storage.NewMemoryMemoryStore()
	search := NewSearchTool(store)

	res, err := search.Execute(userCtx("u1"), json.RawMessage(`{"query":"x","limit":500}`))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.IsError {
		t.Fatalf("search returned tool error: %s", res.Content)
	}
	// Cap is applied silently; an empty store just returns zero results.
	if !strings.Contains(res.Content, `"count":0`) {
		t.Errorf("unexpected content: %s", res.Content)
	}
}

func TestDeleteMemory(t *testing.T) {
	store := storage.NewMemoryMemoryStore()
	add := NewAddTool(store)
	del := NewDeleteTool(store)
	ctx := userCtx("u1")

	res, _ := add.Execute(ctx, json.RawMessage(`{"content":"temp"}`))
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(res.Content), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	res, err := del.Execute(ctx, json.RawMessage(`{"id":"`+created.ID+`"}`))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.IsError {
		t.Fatalf("delete returned tool error: %s", res.Content)
	}

	_, total, _ := store.ListMemories(context.Background(), "u1", 10, 0)
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}

	// Another user cannot delete what they do not own.
	res, _ = add.Execute(ctx, json.RawMessage(`{"content":"mine"}`))
	_ = json.Unmarshal([]byte(res.Content), &created)
	res, _ = del.Execute(userCtx("u2"), json.RawMessage(`{"id":"`+created.ID+`"}`))
	if !res.IsError {
		t.Error("cross-user delete succeeded, want tool error")
	}
}

func TestRegisterMemoryTools(t *testing.T) {
	reg := agent.NewRegistry()
	if err := Register(reg, storage.NewMemoryMemoryStore()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, name := range []string{"add_memory", "search_memories", "list_memories", "delete_memory"} {
		if !reg.Has(name) {
			t.Errorf("registry missing %s", name)
		}
	}
}
