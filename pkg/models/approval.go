package models

import (
	"time"
)

// ApprovalStatus represents the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalRequest tracks one pending user-consent decision. A fresh
// ApprovalID correlates the SSE prompt with the decision endpoint.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Category    string         `json:"category"`
	ActionType  string         `json:"action_type"`
	Description string         `json:"description"`
	Params      map[string]any `json:"params,omitempty"`
	Status      ApprovalStatus `json:"status"`
	ExpiresAt   time.Time      `json:"expires_at"`
	CreatedAt   time.Time      `json:"created_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// ApprovalDecision is the body delivered to POST /v1/approvals/{id}.
type ApprovalDecision struct {
	Decision    string `json:"decision"`              // approved | rejected
	RememberFor int    `json:"rememberFor,omitempty"` // seconds
}
