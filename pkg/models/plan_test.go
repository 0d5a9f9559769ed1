package models

import (
	"testing"
)

func TestPlanStatus_Terminal(t *testing.T) {
	tests := []struct {
		status PlanStatus
		want   bool
	}{
		{PlanPending, false},
		{PlanRunning, false},
		{PlanPaused, false},
		{PlanCompleted, true},
		{PlanFailed, true},
		{PlanCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStepType_Constants(t *testing.T) {
	tests := []struct {
		constant StepType
		expected string
	}{
		{StepToolCall, "tool_call"},
		{StepLLMDecision, "llm_decision"},
		{StepUserInput, "user_input"},
		{StepCondition, "condition"},
		{StepParallel, "parallel"},
		{StepLoop, "loop"},
		{StepSubPlan, "sub_plan"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}
