// Package storage defines the persistence contracts for Locus and ships a
// database/sql implementation (modernc sqlite by default, Postgres via
// lib/pq DSNs) plus an in-memory implementation for tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/locushq/locus/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// PlanStore persists plans, their steps and their execution event log.
// All operations are user-scoped: a user never sees another user's plans.
type PlanStore interface {
	CreatePlan(ctx context.Context, plan *models.Plan) error
	GetPlan(ctx context.Context, userID, planID string) (*models.Plan, error)
	UpdatePlan(ctx context.Context, plan *models.Plan) error
	DeletePlan(ctx context.Context, userID, planID string) error
	ListPlans(ctx context.Context, userID string, limit, offset int) ([]*models.Plan, int, error)

	CreateStep(ctx context.Context, step *models.Step) error
	GetSteps(ctx context.Context, planID string) ([]*models.Step, error)
	// GetNextStep returns the lowest-order pending step, or ErrNotFound
	// when no pending steps remain.
	GetNextStep(ctx context.Context, planID string) (*models.Step, error)
	GetStepsByStatus(ctx context.Context, planID string, status models.StepStatus) ([]*models.Step, error)
	UpdateStep(ctx context.Context, step *models.Step) error

	// AreDependenciesMet reports whether every dependency of the step has
	// status completed.
	AreDependenciesMet(ctx context.Context, step *models.Step) (bool, error)

	// RecalculateProgress recomputes plan progress as the percentage of
	// steps in a terminal status and persists it.
	RecalculateProgress(ctx context.Context, planID string) (int, error)

	LogEvent(ctx context.Context, event *models.PlanEvent) error
	GetEvents(ctx context.Context, planID string, limit int) ([]*models.PlanEvent, error)
}

// MemoryStore persists long-term user memories.
type MemoryStore interface {
	AddMemory(ctx context.Context, mem *models.Memory) error
	SearchMemories(ctx context.Context, userID, query string, limit int) ([]*models.Memory, error)
	ListMemories(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, int, error)
	DeleteMemory(ctx context.Context, userID, id string) error
	// GetImportantMemories returns memories with importance >= threshold,
	// most important first.
	GetImportantMemories(ctx context.Context, userID string, threshold float64, limit int) ([]*models.Memory, error)
}

// GoalStore persists long-horizon goals.
type GoalStore interface {
	CreateGoal(ctx context.Context, goal *models.Goal) error
	GetGoal(ctx context.Context, userID, id string) (*models.Goal, error)
	UpdateGoal(ctx context.Context, goal *models.Goal) error
	// CompleteGoalStep pops the first next action off the goal; completing
	// the last action completes the goal.
	CompleteGoalStep(ctx context.Context, userID, id string) (*models.Goal, error)
	GetActiveGoals(ctx context.Context, userID string, limit int) ([]*models.Goal, error)
	GetNextActions(ctx context.Context, userID string, limit int) ([]string, error)
}

// CustomToolFilter narrows a custom tool listing.
type CustomToolFilter struct {
	Enabled  *bool
	Approved *bool
}

// CustomToolStore persists user-authored tool records.
type CustomToolStore interface {
	CreateCustomTool(ctx context.Context, tool *models.CustomTool) error
	GetCustomTool(ctx context.Context, userID, id string) (*models.CustomTool, error)
	GetCustomToolByName(ctx context.Context, userID, name string) (*models.CustomTool, error)
	ListCustomTools(ctx context.Context, userID string, filter CustomToolFilter) ([]*models.CustomTool, error)
	UpdateCustomTool(ctx context.Context, tool *models.CustomTool) error
	DeleteCustomTool(ctx context.Context, userID, id string) error
	SetCustomToolEnabled(ctx context.Context, userID, id string, enabled bool) error
	SetCustomToolApproved(ctx context.Context, userID, id string, approved bool) error
	RecordCustomToolUsage(ctx context.Context, userID, id string) error
	// GetActiveCustomTools returns tools that are both enabled and approved.
	GetActiveCustomTools(ctx context.Context, userID string) ([]*models.CustomTool, error)
}

// ApprovalStore persists pending consent requests so the decision endpoint
// and the gate share one record per approvalId.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, req *models.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error)
	UpdateApproval(ctx context.Context, req *models.ApprovalRequest) error
	// PruneApprovals deletes resolved and expired requests older than cutoff
	// and returns how many rows went away.
	PruneApprovals(ctx context.Context, cutoff time.Time) (int, error)
}

// TriggerStore persists scheduled and content-matched automations.
type TriggerStore interface {
	CreateTrigger(ctx context.Context, trig *models.Trigger) error
	GetTrigger(ctx context.Context, userID, id string) (*models.Trigger, error)
	UpdateTrigger(ctx context.Context, trig *models.Trigger) error
	DeleteTrigger(ctx context.Context, userID, id string) error
	ListTriggers(ctx context.Context, userID string) ([]*models.Trigger, error)
	ListEnabledTriggers(ctx context.Context) ([]*models.Trigger, error)
}

// UsageStore persists provider token accounting rows.
type UsageStore interface {
	InsertUsage(ctx context.Context, rec *models.UsageRecord) error
}

// MessageStore persists conversation messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// StoreSet groups the storage dependencies handed to the runtime.
type StoreSet struct {
	Plans       PlanStore
	Memories    MemoryStore
	Goals       GoalStore
	CustomTools CustomToolStore
	Approvals   ApprovalStore
	Triggers    TriggerStore
	Usage       UsageStore
	Messages    MessageStore

	closer func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
