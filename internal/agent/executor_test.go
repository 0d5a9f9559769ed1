package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/locushq/locus/pkg/models"
)

func TestExecutor_Execute_Success(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&mockTool{
		name: "test_tool",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "result"}, nil
		},
	})

	executor := NewExecutor(registry, nil)
	result := executor.Execute(context.Background(), models.ToolCall{
		ID:    "call-1",
		Name:  "test_tool",
		Input: json.RawMessage(`{}`),
	})

	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.Result.Content != "result" {
		t.Errorf("content = %q, want %q", result.Result.Content, "result")
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
}

func TestExecutor_Execute_Retry(t *testing.T) {
	attempts := 0
	registry := NewRegistry()
	registry.Register(&mockTool{
		name: "flaky_tool",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("timeout: connection timeout")
			}
			return &ToolResult{Content: "success"}, nil
		},
	})

	config := DefaultExecutorConfig()
	config.DefaultRetries = 3
	config.RetryBackoff = 10 * time.Millisecond

	executor := NewExecutor(registry, config)
	result := executor.Execute(context.Background(), models.ToolCall{
		ID:    "call-1",
		Name:  "flaky_tool",
		Input: json.RawMessage(`{}`),
	})

	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestExecutor_Execute_NonRetryable(t *testing.T) {
	attempts := 0
	registry := NewRegistry()
	registry.Register(&mockTool{
		name: "bad_tool",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			attempts++
			return nil, errors.New("invalid input: missing required field")
		},
	})

	config := DefaultExecutorConfig()
	config.DefaultRetries = 3

	executor := NewExecutor(registry, config)
	result := executor.Execute(context.Background(), models.ToolCall{
		ID:    "call-1",
		Name:  "bad_tool",
		Input: json.RawMessage(`{}`),
	})

	if result.Error == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for non-retryable)", attempts)
	}
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&mockTool{
		name: "slow_tool",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			select {
			case <-time.After(5 * time.Second):
				return &ToolResult{Content: "done"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	config := DefaultExecutorConfig()
	config.DefaultTimeout = 50 * time.Millisecond
	config.DefaultRetries = 0

	executor := NewExecutor(registry, config)
	result := executor.Execute(context.Background(), models.ToolCall{
		ID:    "call-1",
		Name:  "slow_tool",
		Input: json.RawMessage(`{}`),
	})

	if result.Error == nil {
		t.Fatal("expected timeout error")
	}
	te, ok := GetToolError(result.Error)
	if !ok {
		t.Fatalf("error is not a ToolError: %v", result.Error)
	}
	if te.Type != ToolErrorTimeout {
		t.Errorf("error type = %s, want %s", te.Type, ToolErrorTimeout)
	}
}

func TestExecutor_Execute_PanicRecovery(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&mockTool{
		name: "panicky_tool",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			panic("boom")
		},
	})

	executor := NewExecutor(registry, nil)
	result := executor.Execute(context.Background(), models.ToolCall{
		ID:    "call-1",
		Name:  "panicky_tool",
		Input: json.RawMessage(`{}`),
	})

	if result.Error == nil {
		t.Fatal("expected panic error")
	}
	te, ok := GetToolError(result.Error)
	if !ok {
		t.Fatalf("error is not a ToolError: %v", result.Error)
	}
	if te.Type != ToolErrorPanic {
		t.Errorf("error type = %s, want %s", te.Type, ToolErrorPanic)
	}

	metrics := executor.Metrics()
	if metrics.TotalPanics != 1 {
		t.Errorf("panics = %d, want 1", metrics.TotalPanics)
	}
}

func TestExecutor_ExecuteAll_PreservesOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&mockTool{
		name: "ordered",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			var input struct {
				Value string `json:"value"`
			}
			json.Unmarshal(params, &input)
			return &ToolResult{Content: input.Value}, nil
		},
	})

	executor := NewExecutor(registry, nil)
	calls := []models.ToolCall{
		{ID: "a", Name: "ordered", Input: json.RawMessage(`{"value":"first"}`)},
		{ID: "b", Name: "ordered", Input: json.RawMessage(`{"value":"second"}`)},
		{ID: "c", Name: "ordered", Input: json.RawMessage(`{"value":"third"}`)},
	}

	results := executor.ExecuteAll(context.Background(), calls)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	want := []string{"first", "second", "third"}
	for i, r := range results {
		if r.Error != nil {
			t.Fatalf("results[%d] error: %v", i, r.Error)
		}
		if r.Result.Content != want[i] {
			t.Errorf("results[%d] = %q, want %q", i, r.Result.Content, want[i])
		}
	}
}

func TestExecutor_ExecuteAll_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	registry := NewRegistry()
	registry.Register(&mockTool{
		name: "counted",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return &ToolResult{Content: "ok"}, nil
		},
	})

	config := DefaultExecutorConfig()
	config.MaxConcurrency = 2

	executor := NewExecutor(registry, config)
	calls := make([]models.ToolCall, 6)
	for i := range calls {
		calls[i] = models.ToolCall{ID: "c", Name: "counted", Input: json.RawMessage(`{}`)}
	}

	executor.ExecuteAll(context.Background(), calls)
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestResultsToMessages(t *testing.T) {
	results := []*ExecutionResult{
		{ToolCallID: "ok-1", Result: &ToolResult{Content: "fine"}},
		{ToolCallID: "err-1", Error: errors.New("exploded")},
		{ToolCallID: "terr-1", Result: &ToolResult{Content: "bad input", IsError: true}},
	}

	msgs := ResultsToMessages(results)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[0].IsError {
		t.Error("msgs[0] marked error, want success")
	}
	if !msgs[1].IsError {
		t.Error("msgs[1] not marked error")
	}
	if !msgs[2].IsError {
		t.Error("msgs[2] not marked error")
	}
	if msgs[1].ToolCallID != "err-1" {
		t.Errorf("msgs[1].ToolCallID = %q, want err-1", msgs[1].ToolCallID)
	}
}

func TestAsJSON(t *testing.T) {
	if got := AsJSON(json.RawMessage(`{"a":1}`)); string(got) != `{"a":1}` {
		t.Errorf("raw passthrough = %s", got)
	}
	if got := AsJSON(map[string]int{"n": 2}); string(got) != `{"n":2}` {
		t.Errorf("map = %s, want {\"n\":2}", got)
	}
	if got := AsJSON(make(chan int)); string(got) != "null" {
		t.Errorf("unmarshalable = %s, want null", got)
	}
}
