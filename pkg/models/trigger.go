package models

import (
	"time"
)

// TriggerKind determines how a trigger's schedule expression is interpreted.
type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"     // standard 5-field cron expression
	TriggerInterval TriggerKind = "interval" // Go duration string, e.g. "15m"
	TriggerOnce     TriggerKind = "once"     // RFC 3339 timestamp
)

// TriggerAction determines what firing a trigger does.
type TriggerAction string

const (
	TriggerActionPrompt TriggerAction = "prompt" // inject a user message into the workspace
	TriggerActionPlan   TriggerAction = "plan"   // execute a stored plan
)

// Trigger is a persisted scheduled or content-matched automation.
type Trigger struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Name        string        `json:"name"`
	Kind        TriggerKind   `json:"kind"`
	Expr        string        `json:"expr"`
	Action      TriggerAction `json:"action"`
	Payload     string        `json:"payload"` // prompt text or plan id
	WorkspaceID string        `json:"workspace_id,omitempty"`
	Match       string        `json:"match,omitempty"` // substring fired on assistant output
	Enabled     bool          `json:"enabled"`
	LastFiredAt *time.Time    `json:"last_fired_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
