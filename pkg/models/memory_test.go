package models

import (
	"encoding/json"
	"testing"
)

func TestValidMemoryType(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"fact", true},
		{"preference", true},
		{"event", true},
		{"skill", true},
		{"opinion", false},
		{"", false},
		{"Fact", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ValidMemoryType(tt.in); got != tt.want {
				t.Errorf("ValidMemoryType(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMemory_JSONRoundTrip(t *testing.T) {
	original := Memory{
		ID:         "mem-1",
		UserID:     "user-1",
		Type:       MemoryPreference,
		Content:    "prefers metric units",
		Importance: 0.8,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Memory
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.Type != MemoryPreference {
		t.Errorf("Type = %v, want %v", decoded.Type, MemoryPreference)
	}
	if decoded.Importance != 0.8 {
		t.Errorf("Importance = %v, want 0.8", decoded.Importance)
	}
}
