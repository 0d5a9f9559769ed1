// Package agent provides the core runtime and abstractions for LLM-powered
// agent turns.
//
// This package implements the orchestration layer of Locus, handling:
//   - LLM provider abstraction (Anthropic, OpenAI, Ollama)
//   - Tool registration and execution
//   - The streaming agentic loop driving one chat turn
//
// # Architecture Overview
//
//	┌─────────────────────────────────────────┐
//	│                Agent                    │  Turn loop
//	├─────────────────────────────────────────┤
//	│     Registry      │      Executor       │  Tools
//	├─────────────────────────────────────────┤
//	│             LLMProvider                 │  Provider abstraction
//	└─────────────────────────────────────────┘
//
// Tools are executed when the LLM returns tool-call requests: the loop looks
// the tool up in the registry, consults the turn's BeforeToolCall gate, runs
// the call through the bounded executor, and feeds the result back to the
// model until it produces a final answer.
package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/locushq/locus/pkg/models"
)

type userIDKey struct{}
type conversationIDKey struct{}
type sessionIDKey struct{}
type permissionsKey struct{}
type approvalRequesterKey struct{}

// WithUserID stores the acting user's id in the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext retrieves the acting user's id, or "" when unset.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// WithConversationID stores the conversation id in the context.
func WithConversationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationIDKey{}, id)
}

// ConversationIDFromContext retrieves the conversation id, or "" when unset.
func ConversationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey{}).(string)
	return id
}

// WithSessionID stores the session id in the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext retrieves the session id, or "" when unset.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// WithPermissions stores the caller's execution permissions in the context.
func WithPermissions(ctx context.Context, perms []string) context.Context {
	if len(perms) == 0 {
		return ctx
	}
	return context.WithValue(ctx, permissionsKey{}, append([]string(nil), perms...))
}

// PermissionsFromContext retrieves the caller's execution permissions.
func PermissionsFromContext(ctx context.Context) []string {
	perms, _ := ctx.Value(permissionsKey{}).([]string)
	return perms
}

// ApprovalRequester asks the user for consent to perform an action and
// blocks until a decision arrives or the request expires. Implementations
// default to deny on timeout.
type ApprovalRequester func(ctx context.Context, actionType, description string, params map[string]any) (bool, string)

// WithApprovalRequester stores the turn's approval requester in the context
// so nested tool dispatch inherits it.
func WithApprovalRequester(ctx context.Context, fn ApprovalRequester) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, approvalRequesterKey{}, fn)
}

// ApprovalRequesterFromContext retrieves the turn's approval requester.
func ApprovalRequesterFromContext(ctx context.Context) ApprovalRequester {
	fn, _ := ctx.Value(approvalRequesterKey{}).(ApprovalRequester)
	return fn
}

// MaxResponseTextSize is the maximum size of accumulated response text (1MB).
// This prevents memory exhaustion from malicious or buggy model responses.
const MaxResponseTextSize = 1 << 20

// MaxToolCallsPerIteration is the maximum number of tool calls allowed in a
// single loop iteration.
const MaxToolCallsPerIteration = 100

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations must be safe for concurrent use; multiple goroutines may
// call Complete simultaneously for different requests.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model specifies which LLM model to use. If empty, the provider's
	// default model is used.
	Model string `json:"model"`

	// System is the system prompt that sets the assistant's behavior.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines the tool schemas the LLM may request to execute.
	Tools []ToolSchema `json:"tools,omitempty"`

	// MaxTokens limits the maximum length of the generated response.
	// If 0 or negative, the provider's default is used (typically 4096).
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness when > 0.
	Temperature float32 `json:"temperature,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
// Role values: "user", "assistant", "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// ToolSchema is the wire shape of one tool offered to the LLM.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
//
// Chunks are delivered through channels as the LLM generates its response.
// Each chunk may contain partial text, a complete tool call, or the done
// signal with final token counts.
type CompletionChunk struct {
	// Text contains partial response text (streamed incrementally).
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream has completed successfully.
	Done bool `json:"done,omitempty"`

	// FinishReason reports why generation stopped ("stop", "tool_use", ...).
	// Only populated in the final chunk.
	FinishReason string `json:"finish_reason,omitempty"`

	// Error contains any error that occurred (streaming is terminated).
	Error error `json:"-"`

	// InputTokens and OutputTokens are populated in the final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// CachedTokens reports prompt-cache reads when the provider exposes them.
	CachedTokens int `json:"cached_tokens,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	// ID is the API identifier for the model.
	ID string `json:"id"`

	// Name is the human-readable model name.
	Name string `json:"name"`

	// ContextSize is the maximum token context window.
	ContextSize int `json:"context_size"`

	// SupportsVision indicates if the model can process images.
	SupportsVision bool `json:"supports_vision"`
}

// Tool defines the interface for executable agent tools.
//
// Implementing a Tool:
//
//	type Clock struct{}
//
//	func (c *Clock) Name() string        { return "get_time" }
//	func (c *Clock) Description() string { return "Returns the current time" }
//
//	func (c *Clock) Schema() json.RawMessage {
//	    return json.RawMessage(`{"type":"object","properties":{}}`)
//	}
//
//	func (c *Clock) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
//	    return &ToolResult{Content: time.Now().Format(time.RFC3339)}, nil
//	}
type Tool interface {
	// Name returns the tool name for LLM function calling. Names must
	// match ^[a-z][a-z0-9_]*$.
	Name() string

	// Description returns a natural language description of the tool.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// Categorized is an optional Tool extension declaring a browse category.
type Categorized interface {
	Category() string
}

// Tagged is an optional Tool extension declaring search tags.
type Tagged interface {
	Tags() []string
}

// ApprovalRequired is an optional Tool extension marking tools that always
// need user consent.
type ApprovalRequired interface {
	RequiresApproval() bool
}

// ToolResult contains the output from a tool execution.
//
// Errors are communicated via IsError=true rather than Go errors, allowing
// the LLM to handle failures gracefully.
type ToolResult struct {
	// Content is the tool's output (text, JSON, etc.)
	Content string `json:"content"`

	// IsError indicates this result represents an error condition.
	IsError bool `json:"is_error,omitempty"`
}
