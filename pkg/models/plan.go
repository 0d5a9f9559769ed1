package models

import (
	"encoding/json"
	"time"
)

// PlanStatus represents the lifecycle state of a plan.
//
// Transitions form pending → running ↔ paused → (completed|failed|cancelled);
// the last three are terminal.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanPaused    PlanStatus = "paused"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s PlanStatus) Terminal() bool {
	return s == PlanCompleted || s == PlanFailed || s == PlanCancelled
}

// Plan is a persisted sequence of typed steps with dependency and retry metadata.
type Plan struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Goal        string     `json:"goal,omitempty"`
	Status      PlanStatus `json:"status"`
	Progress    int        `json:"progress"` // 0-100
	TotalSteps  int        `json:"total_steps"`
	CurrentStep int        `json:"current_step"`
	Priority    int        `json:"priority,omitempty"`
	Error       string     `json:"error,omitempty"`
	Checkpoint  string     `json:"checkpoint,omitempty"` // opaque blob, conventionally {timestamp,data}
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StepStatus represents the lifecycle state of a single step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepBlocked   StepStatus = "blocked"
)

// StepType identifies which handler runs a step. The built-in seven are
// registered at executor construction; plugins may add more.
type StepType string

const (
	StepToolCall    StepType = "tool_call"
	StepLLMDecision StepType = "llm_decision"
	StepUserInput   StepType = "user_input"
	StepCondition   StepType = "condition"
	StepParallel    StepType = "parallel"
	StepLoop        StepType = "loop"
	StepSubPlan     StepType = "sub_plan"
)

// Failure policies for a step. Any other value is interpreted as a step id
// to jump to after the failure.
const (
	OnFailureAbort = "abort"
	OnFailureSkip  = "skip"
)

// Step is one unit of work inside a plan.
type Step struct {
	ID           string         `json:"id"`
	PlanID       string         `json:"plan_id"`
	OrderNum     int            `json:"order_num"` // monotonic within the plan
	Type         StepType       `json:"type"`
	Name         string         `json:"name"`
	Config       map[string]any `json:"config,omitempty"`
	Status       StepStatus     `json:"status"`
	Result       string         `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	DurationMS   int64          `json:"duration_ms,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	Dependencies []string       `json:"dependencies,omitempty"`
	TimeoutMS    int64          `json:"timeout_ms,omitempty"`
	OnFailure    string         `json:"on_failure,omitempty"` // abort | skip | <stepId>
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// PlanEvent is an append-only log entry recorded during execution.
type PlanEvent struct {
	ID        string          `json:"id"`
	PlanID    string          `json:"plan_id"`
	StepID    string          `json:"step_id,omitempty"`
	Type      string          `json:"type"` // plan:started, step:completed, checkpoint, ...
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Checkpoint is the conventional shape of the opaque checkpoint blob.
type Checkpoint struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}
