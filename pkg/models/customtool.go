package models

import (
	"time"
)

// CustomTool is a user-authored tool record. The code runs in an external
// sandbox; enabled and approved records are synced into the tool registry
// at agent assembly.
type CustomTool struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON-Schema-shaped
	Code        string         `json:"code"`
	Language    string         `json:"language"` // javascript, python
	Enabled     bool           `json:"enabled"`
	Approved    bool           `json:"approved"`
	UsageCount  int            `json:"usage_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
