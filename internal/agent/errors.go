package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the agent runtime. Callers can match these with
// errors.Is to distinguish retryable conditions from hard failures.
var (
	// ErrMaxIterations is returned when the turn loop exceeds its
	// iteration budget without the model producing a final answer.
	ErrMaxIterations = errors.New("maximum iterations reached")

	// ErrNoProvider is returned when a completion is requested but no
	// LLM provider is configured.
	ErrNoProvider = errors.New("no LLM provider configured")

	// ErrInvalidToolName is returned when a tool name does not match
	// ^[a-z][a-z0-9_]*$ or exceeds the length limit.
	ErrInvalidToolName = errors.New("invalid tool name")

	// ErrToolExists is returned when registering a name that is already
	// taken without WithReplace.
	ErrToolExists = errors.New("tool already registered")

	// ErrToolNotFound is returned when executing an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout is returned when a tool exceeds its execution deadline.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic is returned when a tool panics during execution.
	ErrToolPanic = errors.New("tool panicked")

	// ErrBackpressure is returned when the executor cannot admit another
	// concurrent tool execution.
	ErrBackpressure = errors.New("too many concurrent tool executions")
)

// ToolErrorType classifies tool failures for retry decisions.
type ToolErrorType string

const (
	// ToolErrorTimeout indicates the tool hit its deadline. Retryable.
	ToolErrorTimeout ToolErrorType = "timeout"

	// ToolErrorPanic indicates the tool panicked. Not retryable.
	ToolErrorPanic ToolErrorType = "panic"

	// ToolErrorBackpressure indicates executor saturation. Retryable.
	ToolErrorBackpressure ToolErrorType = "backpressure"

	// ToolErrorNotFound indicates an unknown tool name. Not retryable.
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorInvalidInput indicates arguments that failed validation.
	// Not retryable; the model must correct its call.
	ToolErrorInvalidInput ToolErrorType = "invalid_input"

	// ToolErrorTransient indicates a temporary fault such as a network
	// error. Retryable.
	ToolErrorTransient ToolErrorType = "transient"

	// ToolErrorPermanent indicates a failure retries cannot fix.
	ToolErrorPermanent ToolErrorType = "permanent"
)

// IsRetryable reports whether another attempt could plausibly succeed.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorBackpressure, ToolErrorTransient:
		return true
	default:
		return false
	}
}

// ToolError carries structured context about a failed tool execution.
type ToolError struct {
	ToolName   string
	ToolCallID string
	Type       ToolErrorType
	Message    string
	Attempts   int
	Err        error
}

// NewToolError creates a ToolError wrapping err.
func NewToolError(toolName string, err error) *ToolError {
	return &ToolError{
		ToolName: toolName,
		Type:     classifyToolError(err),
		Err:      err,
	}
}

// WithType overrides the classified error type.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	return e
}

// WithToolCallID attaches the originating tool call ID.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage attaches a human-readable message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

// WithAttempts records how many executions were attempted.
func (e *ToolError) WithAttempts(n int) *ToolError {
	e.Attempts = n
	return e
}

func (e *ToolError) Error() string {
	var b strings.Builder
	b.WriteString("tool ")
	b.WriteString(e.ToolName)
	if e.ToolCallID != "" {
		fmt.Fprintf(&b, " (call %s)", e.ToolCallID)
	}
	fmt.Fprintf(&b, " failed [%s]", e.Type)
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As matching.
func (e *ToolError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the execution may be retried.
func (e *ToolError) Retryable() bool {
	return e.Type.IsRetryable()
}

// classifyToolError maps an error to a ToolErrorType. Sentinels are matched
// first; string heuristics catch wrapped errors from providers and tools
// that do not use our sentinels.
func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorPermanent
	}
	switch {
	case errors.Is(err, ErrToolTimeout), errors.Is(err, context.DeadlineExceeded):
		return ToolErrorTimeout
	case errors.Is(err, ErrToolPanic):
		return ToolErrorPanic
	case errors.Is(err, ErrBackpressure):
		return ToolErrorBackpressure
	case errors.Is(err, ErrToolNotFound):
		return ToolErrorNotFound
	case errors.Is(err, context.Canceled):
		return ToolErrorPermanent
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ToolErrorTimeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return ToolErrorTransient
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return ToolErrorTransient
	case strings.Contains(msg, "temporarily unavailable"), strings.Contains(msg, "service unavailable"):
		return ToolErrorTransient
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "validation"):
		return ToolErrorInvalidInput
	default:
		return ToolErrorPermanent
	}
}

// GetToolError extracts a *ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsToolRetryable reports whether err represents a retryable tool failure.
func IsToolRetryable(err error) bool {
	if te, ok := GetToolError(err); ok {
		return te.Retryable()
	}
	return classifyToolError(err).IsRetryable()
}

// TurnPhase identifies where in the conversation turn a failure occurred.
type TurnPhase string

const (
	PhaseCompletion TurnPhase = "completion"
	PhaseToolCalls  TurnPhase = "tool_calls"
	PhaseStreaming  TurnPhase = "streaming"
)

// TurnError wraps a failure inside the agent turn loop with its phase and
// iteration so logs can pinpoint where a multi-step turn went wrong.
type TurnError struct {
	Phase     TurnPhase
	Iteration int
	Err       error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed in %s phase (iteration %d): %v", e.Phase, e.Iteration, e.Err)
}

// Unwrap returns the underlying error.
func (e *TurnError) Unwrap() error {
	return e.Err
}
