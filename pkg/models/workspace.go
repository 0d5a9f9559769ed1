package models

import (
	"time"
)

// WorkspaceState represents the runtime state of a workspace.
type WorkspaceState string

const (
	WorkspaceIdle       WorkspaceState = "idle"
	WorkspaceProcessing WorkspaceState = "processing"
	WorkspaceWaiting    WorkspaceState = "waiting"
	WorkspaceError      WorkspaceState = "error"
)

// WorkspaceSettings controls per-workspace conversation behavior.
type WorkspaceSettings struct {
	AutoReply          bool          `json:"auto_reply"`
	ReplyDelay         time.Duration `json:"reply_delay,omitempty"`
	MaxContextMessages int           `json:"max_context_messages"`
	EnableMemory       bool          `json:"enable_memory"`
	PIIDetection       bool          `json:"pii_detection"`
}

// AgentSelection pins a workspace to a provider, model and prompt.
type AgentSelection struct {
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
}

// WorkspaceInfo is the externally visible snapshot of a workspace runtime.
type WorkspaceInfo struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Channels       []string          `json:"channels,omitempty"`
	Settings       WorkspaceSettings `json:"settings"`
	Agent          AgentSelection    `json:"agent"`
	State          WorkspaceState    `json:"state"`
	ConversationID string            `json:"conversation_id"`
	Error          string            `json:"error,omitempty"`
	MessageCount   int               `json:"message_count"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}
