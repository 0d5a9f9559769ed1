// Package models defines the core data types for Locus.
package models

import (
	"time"
)

// MemoryType classifies a remembered item.
type MemoryType string

const (
	MemoryFact       MemoryType = "fact"
	MemoryPreference MemoryType = "preference"
	MemoryEvent      MemoryType = "event"
	MemorySkill      MemoryType = "skill"
)

// ValidMemoryType reports whether s is one of the four memory types.
func ValidMemoryType(s string) bool {
	switch MemoryType(s) {
	case MemoryFact, MemoryPreference, MemoryEvent, MemorySkill:
		return true
	}
	return false
}

// Memory is a persisted item of long-term user knowledge. High-importance
// memories are folded into the agent's system prompt at assembly time.
type Memory struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Type       MemoryType `json:"type"`
	Content    string     `json:"content"`
	Importance float64    `json:"importance"` // 0-1
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// MemoryHint is a model-suggested memory embedded in assistant output.
// Hints are surfaced to the user for confirmation and never auto-persisted.
type MemoryHint struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance,omitempty"`
}
