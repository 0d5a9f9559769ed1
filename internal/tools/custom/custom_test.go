package custom

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func userCtx(id string) context.Context {
	return agent.WithUserID(context.Background(), id)
}

func TestCheckCode(t *testing.T) {
	cases := []struct {
		code string
		want string
	}{
		{"return 1 + 1;", ""},
		{"process.exit(1)", "process.exit"},
		{"PROCESS.EXIT(0)", "process.exit"},
		{`const fs = require("fs")`, "require("},
		{`await import("fs")`, "import("},
		{"console.log(__dirname)", "__dirname"},
		{"console.log(__filename)", "__filename"},
		{"global.leak = 1", "global."},
		{"globalThis.leak = 1", "globalthis."},
	}
	for _, tc := range cases {
		if got := CheckCode(tc.code); got != tc.want {
			t.Errorf("CheckCode(%q) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestCreateRejectsForbiddenCode(t *testing.T) {
	store := storage.NewMemoryCustomToolStore()
	create := NewCreateTool(store)

	params := `{"name":"escape","description":"x","code":"process.exit(1)","language":"javascript"}`
	res, err := create.Execute(userCtx("u1"), json.RawMessage(params))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.IsError {
		t.Fatal("forbidden code accepted, want tool error")
	}
	if !strings.Contains(res.Content, "process.exit") {
		t.Errorf("error does not name the pattern: %s", res.Content)
	}
}

func TestCreateRejectsBadName(t *testing.T) {
	store := storage.NewMemoryCustomToolStore()
	create := NewCreateTool(store)
	ctx := userCtx("u1")

	for _, name := range []string{"Weather", "2tool", "my-tool", ""} {
		params := `{"name":"` + name + `","description":"x","code":"return 1","language":"javascript"}`
		res, _ := create.Execute(ctx, json.RawMessage(params))
		if !res.IsError {
			t.Errorf("name %q accepted, want tool error", name)
		}
	}
}

func TestCreateStartsUnapproved(t *testing.T) {
	store := storage.NewMemoryCustomToolStore()
	create := NewCreateTool(store)

	params := `{"name":"weather","description":"fake weather","code":"return {temp: 21}","language":"javascript"}`
	res, err := create.Execute(userCtx("u1"), json.RawMessage(params))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.IsError {
		t.Fatalf("create returned tool error: %s", res.Content)
	}

	rec, err := store.GetCustomToolByName(context.Background(), "u1", "weather")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if !rec.Enabled {
		t.Error("new tool not enabled")
	}
	if rec.Approved {
		t.Error("new tool approved, want unapproved")
	}
}

func TestUpdateCodeResetsApproval(t *testing.T) {
	store := storage.NewMemoryCustomToolStore()
	ctx := userCtx("u1")

	params := `{"name":"weather","description":"x","code":"return 1","language":"javascript"}`
	res, _ := NewCreateTool(store).Execute(ctx, json.RawMessage(params))
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(res.Content), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := store.SetCustomToolApproved(context.Background(), "u1", created.ID, true); err != nil {
		t.Fatalf("approve: %v", err)
	}

	res, err := NewUpdateTool(store).Execute(ctx,
		json.RawMessage(`{"id":"`+created.ID+`","code":"return 2"}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.IsError {
		t.Fatalf("update returned tool error: %s", res.Content)
	}

	rec, _ := store.GetCustomTool(context.Background(), "u1", created.ID)
	if rec.Approved {
		t.Error("code change did not reset approval")
	}
}

func TestSyncRegistersOnlyActiveTools(t *testing.T) {
	store := storage.NewMemoryCustomToolStore()
	ctx := context.Background()

	mk := func(name string, enabled, approved bool) {
		rec := &models.CustomTool{
			UserID:   "u1",
			Name:     name,
			Code:     "return 1",
			Language: "javascript",
			Enabled:  enabled,
			Approved: approved,
		}
		if err := store.CreateCustomTool(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	mk("live_tool", true, true)
	mk("disabled_tool", false, true)
	mk("unapproved_tool", true, false)

	reg := agent.NewRegistry()
	runner := RunnerFunc(func(ctx context.Context, tool *models.CustomTool, args json.RawMessage) (string, error) {
		return "ran " + tool.Name, nil
	})

	names, err := Sync(ctx, reg, store, runner, "u1", testLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(names) != 1 || names[0] != "live_tool" {
		t.Fatalf("names = %v, want [live_tool]", names)
	}
	if !reg.Has("live_tool") {
		t.Error("live_tool not registered")
	}
	if reg.Has("disabled_tool") || reg.Has("unapproved_tool") {
		t.Error("inactive tools registered")
	}

	res, err := reg.Execute(userCtx("u1"), "live_tool", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Content != "ran live_tool" {
		t.Errorf("content = %q", res.Content)
	}

	rec, _ := store.GetCustomToolByName(ctx, "u1", "live_tool")
	if rec.UsageCount != 1 {
		t.Errorf("usage count = %d, want 1", rec.UsageCount)
	}
}

func TestSandboxToolRunnerError(t *testing.T) {
	store := storage.NewMemoryCustomToolStore()
	ctx := context.Background()
	rec := &models.CustomTool{
		UserID: "u1", Name: "broken_tool", Code: "return 1",
		Language: "javascript", Enabled: true, Approved: true,
	}
	if err := store.CreateCustomTool(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	reg := agent.NewRegistry()
	runner := RunnerFunc(func(ctx context.Context, tool *models.CustomTool, args json.RawMessage) (string, error) {
		return "", context.DeadlineExceeded
	})
	if _, err := Sync(ctx, reg, store, runner, "u1", testLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	res, err := reg.Execute(ctx, "broken_tool", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.IsError {
		t.Error("runner failure not surfaced as tool error")
	}

	got, _ := store.GetCustomToolByName(ctx, "u1", "broken_tool")
	if got.UsageCount != 0 {
		t.Errorf("usage counted on failure: %d", got.UsageCount)
	}
}

func TestRegisterManagementTools(t *testing.T) {
	reg := agent.NewRegistry()
	if err := Register(reg, storage.NewMemoryCustomToolStore()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, name := range []string{"create_custom_tool", "update_custom_tool", "list_custom_tools", "delete_custom_tool", "set_custom_tool_enabled"} {
		if !reg.Has(name) {
			t.Errorf("registry missing %s", name)
		}
	}
}
