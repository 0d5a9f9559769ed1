package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/locushq/locus/pkg/models"
)

// mockProvider returns scripted chunk sequences, one per Complete call.
type mockProvider struct {
	name      string
	responses [][]*CompletionChunk
	err       error
	calls     int
	requests  []*CompletionRequest
}

func (m *mockProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.calls >= len(m.responses) {
		return nil, errors.New("no scripted response")
	}
	chunks := m.responses[m.calls]
	m.calls++

	out := make(chan *CompletionChunk, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (m *mockProvider) Name() string {
	if m.name != "" {
		return m.name
	}
	return "mock"
}

func (m *mockProvider) Models() []Model     { return nil }
func (m *mockProvider) SupportsTools() bool { return true }

func textResponse(parts ...string) []*CompletionChunk {
	chunks := make([]*CompletionChunk, 0, len(parts)+1)
	for _, p := range parts {
		chunks = append(chunks, &CompletionChunk{Text: p})
	}
	chunks = append(chunks, &CompletionChunk{Done: true, FinishReason: "stop", InputTokens: 10, OutputTokens: 5})
	return chunks
}

func toolCallResponse(name string, input string) []*CompletionChunk {
	return []*CompletionChunk{
		{ToolCall: &models.ToolCall{ID: "tc-" + name, Name: name, Input: json.RawMessage(input)}},
		{Done: true, FinishReason: "tool_use", InputTokens: 20, OutputTokens: 8},
	}
}

func newTestAgent(provider LLMProvider, registry *Registry, config Config) *Agent {
	if registry == nil {
		registry = NewRegistry()
	}
	return New(provider, registry, nil, nil, config)
}

func TestAgent_Turn_TextOnly(t *testing.T) {
	provider := &mockProvider{responses: [][]*CompletionChunk{
		textResponse("Hello, ", "world!"),
	}}
	agent := newTestAgent(provider, nil, Config{})

	var deltas []string
	result, err := agent.Turn(context.Background(), []CompletionMessage{
		{Role: "user", Content: "hi"},
	}, TurnCallbacks{
		OnDelta: func(text string) { deltas = append(deltas, text) },
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if result.Content != "Hello, world!" {
		t.Errorf("content = %q, want %q", result.Content, "Hello, world!")
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
	if len(deltas) != 2 {
		t.Errorf("deltas = %d, want 2", len(deltas))
	}
	if result.Usage.InputTokens != 10 || result.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v, want 10 in / 5 out", result.Usage)
	}
	if result.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", result.Usage.TotalTokens)
	}
}

func TestAgent_Turn_ToolCallLoop(t *testing.T) {
	registry := NewRegistry()
	tool := &mockTool{
		name: "lookup",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "42"}, nil
		},
	}
	registry.Register(tool)

	provider := &mockProvider{responses: [][]*CompletionChunk{
		toolCallResponse("lookup", `{"q":"answer"}`),
		textResponse("The answer is 42."),
	}}
	agent := newTestAgent(provider, registry, Config{Exposed: []string{"lookup"}})

	var starts, ends int
	var msgs []CompletionMessage
	result, err := agent.Turn(context.Background(), []CompletionMessage{
		{Role: "user", Content: "what is the answer?"},
	}, TurnCallbacks{
		OnToolStart: func(models.ToolCall) { starts++ },
		OnToolEnd:   func(models.ToolCall, models.ToolResult, time.Duration) { ends++ },
		OnMessage:   func(m CompletionMessage) { msgs = append(msgs, m) },
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if result.Content != "The answer is 42." {
		t.Errorf("content = %q", result.Content)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Iterations)
	}
	if result.ToolCallCount != 1 {
		t.Errorf("tool calls = %d, want 1", result.ToolCallCount)
	}
	if tool.execCount.Load() != 1 {
		t.Errorf("tool executed %d times, want 1", tool.execCount.Load())
	}
	if starts != 1 || ends != 1 {
		t.Errorf("callbacks: starts=%d ends=%d, want 1/1", starts, ends)
	}

	// assistant + tool + assistant
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[1].Role != "tool" || len(msgs[1].ToolResults) != 1 {
		t.Errorf("msgs[1] = %+v, want tool message with one result", msgs[1])
	}
	if msgs[1].ToolResults[0].Content != "42" {
		t.Errorf("tool result = %q, want 42", msgs[1].ToolResults[0].Content)
	}

	// Second completion must include tool results in the request.
	if len(provider.requests) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(provider.requests))
	}
	second := provider.requests[1]
	if len(second.Messages) != 3 {
		t.Errorf("second request messages = %d, want 3", len(second.Messages))
	}
}

func TestAgent_Turn_GatedToolCall(t *testing.T) {
	registry := NewRegistry()
	tool := &mockTool{name: "shell_exec"}
	registry.Register(tool)

	provider := &mockProvider{responses: [][]*CompletionChunk{
		toolCallResponse("shell_exec", `{"command":"rm -rf /"}`),
		textResponse("Understood, I won't run that."),
	}}
	agent := newTestAgent(provider, registry, Config{})

	var gatedCall models.ToolCall
	var endResult models.ToolResult
	result, err := agent.Turn(context.Background(), []CompletionMessage{
		{Role: "user", Content: "wipe the disk"},
	}, TurnCallbacks{
		BeforeToolCall: func(ctx context.Context, call models.ToolCall) *ToolResult {
			gatedCall = call
			return &ToolResult{Content: "Tool execution not permitted", IsError: true}
		},
		OnToolEnd: func(_ models.ToolCall, res models.ToolResult, _ time.Duration) {
			endResult = res
		},
	})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if tool.execCount.Load() != 0 {
		t.Errorf("tool executed %d times, want 0 (gated)", tool.execCount.Load())
	}
	if gatedCall.Name != "shell_exec" {
		t.Errorf("gated call = %q, want shell_exec", gatedCall.Name)
	}
	if !endResult.IsError || !strings.Contains(endResult.Content, "not permitted") {
		t.Errorf("substitute result = %+v", endResult)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Iterations)
	}
}

func TestAgent_Turn_MaxIterations(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&mockTool{name: "spin"})

	// Model asks for the same tool every iteration.
	responses := make([][]*CompletionChunk, 3)
	for i := range responses {
		responses[i] = toolCallResponse("spin", `{}`)
	}
	provider := &mockProvider{responses: responses}
	agent := newTestAgent(provider, registry, Config{MaxIterations: 3})

	result, err := agent.Turn(context.Background(), []CompletionMessage{
		{Role: "user", Content: "loop forever"},
	}, TurnCallbacks{})

	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("err = %v, want ErrMaxIterations", err)
	}
	if result == nil {
		t.Fatal("result is nil, want partial result")
	}
	if result.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", result.Iterations)
	}
	if result.ToolCallCount != 3 {
		t.Errorf("tool calls = %d, want 3", result.ToolCallCount)
	}
}

func TestAgent_Turn_UsageAccumulates(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&mockTool{name: "step"})

	provider := &mockProvider{responses: [][]*CompletionChunk{
		toolCallResponse("step", `{}`), // 20 in, 8 out
		textResponse("done"),           // 10 in, 5 out
	}}
	agent := newTestAgent(provider, registry, Config{})

	result, err := agent.Turn(context.Background(), []CompletionMessage{
		{Role: "user", Content: "go"},
	}, TurnCallbacks{})
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if result.Usage.InputTokens != 30 {
		t.Errorf("input tokens = %d, want 30", result.Usage.InputTokens)
	}
	if result.Usage.OutputTokens != 13 {
		t.Errorf("output tokens = %d, want 13", result.Usage.OutputTokens)
	}
	if result.Usage.TotalTokens != 43 {
		t.Errorf("total tokens = %d, want 43", result.Usage.TotalTokens)
	}
}

func TestAgent_Turn_ProviderError(t *testing.T) {
	provider := &mockProvider{err: errors.New("connection refused")}
	agent := newTestAgent(provider, nil, Config{})

	_, err := agent.Turn(context.Background(), []CompletionMessage{
		{Role: "user", Content: "hi"},
	}, TurnCallbacks{})
	if err == nil {
		t.Fatal("expected error")
	}

	var te *TurnError
	if !errors.As(err, &te) {
		t.Fatalf("err = %T, want *TurnError", err)
	}
	if te.Phase != PhaseCompletion {
		t.Errorf("phase = %s, want %s", te.Phase, PhaseCompletion)
	}
}

func TestAgent_Turn_StreamError(t *testing.T) {
	provider := &mockProvider{responses: [][]*CompletionChunk{
		{
			{Text: "partial"},
			{Error: errors.New("stream interrupted")},
		},
	}}
	agent := newTestAgent(provider, nil, Config{})

	_, err := agent.Turn(context.Background(), []CompletionMessage{
		{Role: "user", Content: "hi"},
	}, TurnCallbacks{})
	if err == nil {
		t.Fatal("expected error")
	}

	var te *TurnError
	if !errors.As(err, &te) {
		t.Fatalf("err = %T, want *TurnError", err)
	}
	if te.Phase != PhaseStreaming {
		t.Errorf("phase = %s, want %s", te.Phase, PhaseStreaming)
	}
}

func TestAgent_Turn_NoProvider(t *testing.T) {
	agent := newTestAgent(nil, nil, Config{})
	_, err := agent.Turn(context.Background(), nil, TurnCallbacks{})
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}
