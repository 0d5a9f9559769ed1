package models

import (
	"time"
)

// UsageRecord is one row of provider token accounting. Exactly one record
// is written per chat turn; error rows carry no session id so failed turns
// stay distinguishable from attributable ones.
type UsageRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	LatencyMS    int64     `json:"latency_ms"`
	RequestType  string    `json:"request_type"` // chat, decision, trigger
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
