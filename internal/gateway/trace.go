package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/locushq/locus/pkg/models"
)

const resultPreviewLimit = 500

// traceCollector accumulates per-turn debugging data from the agent
// callbacks. Callbacks arrive from the turn goroutine while the handler
// may be reading, so everything is guarded.
type traceCollector struct {
	mu         sync.Mutex
	start      time.Time
	toolCalls  []models.TraceToolCall
	modelCalls []models.TraceModelCall
	request    string
	response   string
}

func newTraceCollector(request string) *traceCollector {
	return &traceCollector{start: time.Now(), request: summarize(request)}
}

// toolStarted records a new trace entry and returns the display name and
// arguments: use_tool calls are unwrapped so the user sees the real tool,
// batch_use_tool is kept as-is.
func (t *traceCollector) toolStarted(call models.ToolCall) (string, json.RawMessage) {
	name, args := displayCall(call)
	t.mu.Lock()
	t.toolCalls = append(t.toolCalls, models.TraceToolCall{
		Name:      name,
		Arguments: args,
		Success:   true,
		StartTime: time.Now().UnixMilli(),
	})
	t.mu.Unlock()
	return name, args
}

// toolEnded patches the most recent unfinished entry for the call and
// returns the published entry.
func (t *traceCollector) toolEnded(call models.ToolCall, result models.ToolResult, duration time.Duration) models.TraceToolCall {
	name, _ := displayCall(call)
	entry := models.TraceToolCall{Name: name, Success: !result.IsError}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.toolCalls) - 1; i >= 0; i-- {
		tc := &t.toolCalls[i]
		if tc.Name != name || tc.DurationMS != 0 {
			continue
		}
		tc.Result = preview(result.Content)
		tc.Success = !result.IsError
		if duration > 0 {
			tc.DurationMS = duration.Milliseconds()
		} else {
			tc.DurationMS = time.Now().UnixMilli() - tc.StartTime
		}
		if tc.DurationMS <= 0 {
			tc.DurationMS = 1
		}
		applyResultHints(tc, result.Content)
		entry = *tc
		break
	}
	return entry
}

func (t *traceCollector) modelCalled(provider, model string, inputTokens, outputTokens int, duration time.Duration) {
	t.mu.Lock()
	t.modelCalls = append(t.modelCalls, models.TraceModelCall{
		Provider:     provider,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		LatencyMS:    duration.Milliseconds(),
	})
	t.mu.Unlock()
}

// build publishes the trace: startTime is internal only and the list
// fields are always present, empty rather than null.
func (t *traceCollector) build(response string) *models.Trace {
	t.mu.Lock()
	defer t.mu.Unlock()
	calls := make([]models.TraceToolCall, len(t.toolCalls))
	for i, tc := range t.toolCalls {
		tc.StartTime = 0
		calls[i] = tc
	}
	modelCalls := append([]models.TraceModelCall(nil), t.modelCalls...)
	if modelCalls == nil {
		modelCalls = []models.TraceModelCall{}
	}
	return &models.Trace{
		DurationMS:     time.Since(t.start).Milliseconds(),
		ToolCalls:      calls,
		ModelCalls:     modelCalls,
		Request:        t.request,
		Response:       summarize(response),
		AutonomyChecks: []string{},
		DBOperations:   []string{},
		MemoryOps:      []string{},
		TriggersFired:  []string{},
		Errors:         []string{},
	}
}

func (t *traceCollector) elapsed() time.Duration {
	return time.Since(t.start)
}

// displayCall unwraps use_tool for display. batch_use_tool stays wrapped:
// a batch has no single inner tool to show.
func displayCall(call models.ToolCall) (string, json.RawMessage) {
	if call.Name != "use_tool" {
		return call.Name, call.Input
	}
	var inner struct {
		ToolName  string          `json:"tool_name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(call.Input, &inner); err != nil || inner.ToolName == "" {
		return call.Name, call.Input
	}
	return inner.ToolName, inner.Arguments
}

// applyResultHints surfaces sandbox metadata when the tool result content
// happens to be JSON carrying it.
func applyResultHints(tc *models.TraceToolCall, content string) {
	var hints struct {
		Sandboxed     *bool  `json:"sandboxed"`
		ExecutionMode string `json:"executionMode"`
	}
	if err := json.Unmarshal([]byte(content), &hints); err != nil {
		return
	}
	tc.Sandboxed = hints.Sandboxed
	tc.ExecutionMode = hints.ExecutionMode
}

func preview(s string) string {
	if len(s) > resultPreviewLimit {
		return s[:resultPreviewLimit]
	}
	return s
}

func summarize(s string) string {
	const limit = 2000
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
