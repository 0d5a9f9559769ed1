package models

import (
	"encoding/json"
)

// SSE event names for the streaming chat endpoint. Within one turn the
// client can rely on the sequence chunk* (progress|autonomy|approval)*
// (done|error).
const (
	StreamEventChunk    = "chunk"
	StreamEventDone     = "done"
	StreamEventProgress = "progress"
	StreamEventAutonomy = "autonomy"
	StreamEventApproval = "approval"
	StreamEventError    = "error"
)

// ChunkPayload carries incremental turn output.
type ChunkPayload struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId,omitempty"`
	Delta          string     `json:"delta,omitempty"`
	Done           bool       `json:"done"`
	ToolCalls      []ToolCall `json:"toolCalls,omitempty"`
	Usage          *Usage     `json:"usage,omitempty"`
	FinishReason   string     `json:"finishReason,omitempty"`
}

// DonePayload is the final frame of a successful turn.
type DonePayload struct {
	ID           string       `json:"id"`
	Done         bool         `json:"done"` // always true
	FinishReason string       `json:"finishReason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
	Suggestions  []Suggestion `json:"suggestions,omitempty"`
	Memories     []MemoryHint `json:"memories,omitempty"`
	Trace        *Trace       `json:"trace"`
	Session      *SessionInfo `json:"session"`
}

// ProgressPayload reports tool lifecycle and freeform status lines.
// Type is one of "status", "tool_start", "tool_end".
type ProgressPayload struct {
	Type          string          `json:"type"`
	Message       string          `json:"message,omitempty"`
	ToolName      string          `json:"toolName,omitempty"`
	Arguments     json.RawMessage `json:"arguments,omitempty"`
	ResultPreview string          `json:"resultPreview,omitempty"`
	Success       *bool           `json:"success,omitempty"`
	DurationMS    int64           `json:"durationMs,omitempty"`
	Data          map[string]any  `json:"data,omitempty"`
}

// AutonomyPayload reports a tool call rejected by the approval gate.
type AutonomyPayload struct {
	Type     string    `json:"type"` // "tool_blocked"
	ToolCall *ToolCall `json:"toolCall,omitempty"`
	Reason   string    `json:"reason"`
}

// ApprovalPayload asks the client for consent to run a tool.
type ApprovalPayload struct {
	Type         string `json:"type"` // "approval_required"
	ApprovalID   string `json:"approvalId"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	Code         string `json:"code,omitempty"`
	RiskAnalysis string `json:"riskAnalysis,omitempty"`
}

// ErrorPayload terminates a failed turn.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Suggestion is a follow-up action the model proposes to the user.
type Suggestion struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// Trace summarises one turn for debugging and audit.
type Trace struct {
	DurationMS     int64            `json:"durationMs"`
	ToolCalls      []TraceToolCall  `json:"toolCalls"`
	ModelCalls     []TraceModelCall `json:"modelCalls"`
	Request        string           `json:"request,omitempty"`
	Response       string           `json:"response,omitempty"`
	AutonomyChecks []string         `json:"autonomyChecks"`
	DBOperations   []string         `json:"dbOperations"`
	MemoryOps      []string         `json:"memoryOps"`
	TriggersFired  []string         `json:"triggersFired"`
	Errors         []string         `json:"errors"`
}

// TraceToolCall is one tool invocation inside a trace. StartTime is kept
// internally for duration math and stripped before the trace is published.
type TraceToolCall struct {
	Name          string          `json:"name"`
	Arguments     json.RawMessage `json:"arguments,omitempty"`
	Result        string          `json:"result,omitempty"`
	Success       bool            `json:"success"`
	DurationMS    int64           `json:"durationMs,omitempty"`
	Sandboxed     *bool           `json:"sandboxed,omitempty"`
	ExecutionMode string          `json:"executionMode,omitempty"`
	StartTime     int64           `json:"-"`
}

// TraceModelCall is one provider invocation inside a trace.
type TraceModelCall struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
	TotalTokens  int    `json:"totalTokens"`
	LatencyMS    int64  `json:"latencyMs,omitempty"`
}

// SessionInfo reports conversation size against the model's context window.
type SessionInfo struct {
	MessageCount       int     `json:"messageCount"`
	EstimatedTokens    int     `json:"estimatedTokens"`
	MaxContextTokens   int     `json:"maxContextTokens"`
	ContextFillPercent float64 `json:"contextFillPercent"`
	CachedTokens       int     `json:"cachedTokens,omitempty"`
}
