// Package plan implements the durable, suspendable plan executor: it walks
// a directed acyclic graph of typed steps in dependency order with retries,
// timeouts, deadlock detection, pause/resume, abort and checkpointing, and
// dispatches each step to a pluggable handler.
package plan

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/locushq/locus/pkg/models"
)

var (
	// ErrAlreadyRunning is returned when Execute is called for a plan
	// that already holds a running entry.
	ErrAlreadyRunning = errors.New("plan already running")

	// ErrIllegalState is returned when Resume is called on a plan that
	// is not paused.
	ErrIllegalState = errors.New("plan is not in a resumable state")

	// ErrAborted terminates the main loop when the cancel flag is set.
	ErrAborted = errors.New("plan execution aborted")

	// ErrDeadlock fails a plan whose pending steps can never run.
	ErrDeadlock = errors.New("dependency deadlock: all pending steps have unmet dependencies")

	// ErrPlanDeleted fails a run whose plan disappeared mid-execution.
	ErrPlanDeleted = errors.New("plan deleted during execution")

	// ErrUnknownStepType is returned when no handler is registered for
	// a step's type.
	ErrUnknownStepType = errors.New("no handler registered for step type")
)

// Result summarises one Execute call.
type Result struct {
	PlanID         string            `json:"plan_id"`
	Status         models.PlanStatus `json:"status"`
	CompletedSteps int               `json:"completed_steps"`
	TotalSteps     int               `json:"total_steps"`
	Duration       time.Duration     `json:"duration"`
	Results        map[string]any    `json:"results,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// StepResult is what a handler returns for one step.
type StepResult struct {
	// Success marks the step completed; false routes into retry.
	Success bool

	// Data is stored as the step result and exposed to later steps
	// through PreviousResults.
	Data any

	// Error carries the failure description when Success is false.
	Error string

	// NextStep branches execution: pending steps ordered strictly
	// between the current step and the target are skipped.
	NextStep string

	// ShouldPause pauses the plan after this step completes.
	ShouldPause bool

	// RequiresApproval pauses the plan and emits approval:required;
	// the plan waits for an explicit Resume.
	RequiresApproval bool
}

// HandlerContext is the execution environment handed to a step handler.
type HandlerContext struct {
	Plan *models.Plan
	Step *models.Step

	// PreviousResults maps completed step ids to their result data.
	PreviousResults map[string]any

	// Signal is closed when the plan is aborted. Handlers running
	// iterative work should stop early when it fires.
	Signal <-chan struct{}
}

// Handler executes one step type.
type Handler interface {
	Run(ctx context.Context, hc HandlerContext) (*StepResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, hc HandlerContext) (*StepResult, error)

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, hc HandlerContext) (*StepResult, error) {
	return f(ctx, hc)
}

// Event is one execution event fanned out to listeners and appended to the
// plan event log.
type Event struct {
	Type    string         `json:"type"`
	PlanID  string         `json:"plan_id"`
	StepID  string         `json:"step_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Event types emitted during execution.
const (
	EventPlanStarted      = "plan:started"
	EventPlanCompleted    = "plan:completed"
	EventPlanFailed       = "plan:failed"
	EventStepStarted      = "step:started"
	EventStepCompleted    = "step:completed"
	EventStepFailed       = "step:failed"
	EventStepSkipped      = "step:skipped"
	EventApprovalRequired = "approval:required"
	EventCheckpoint       = "checkpoint"
)

// Listener receives execution events. Listeners run synchronously on the
// executor goroutine; a panicking listener is logged and skipped.
type Listener func(event Event)

// Backoff returns the retry delay for attempt k: min(1s·2^k, 30s).
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Second << uint(attempt)
	if d > 30*time.Second || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// encodeResult renders step result data for the persisted step record.
func encodeResult(data any) string {
	if data == nil {
		return ""
	}
	if s, ok := data.(string); ok {
		return s
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(raw)
}
