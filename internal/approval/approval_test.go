package approval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGate(t *testing.T, policy *Policy, ttl time.Duration) (*Gate, *Broker, *storage.MemoryApprovalStore) {
	t.Helper()
	store := storage.NewMemoryApprovalStore()
	broker := NewBroker(store, testLogger(), BrokerConfig{TTL: ttl})
	gate := NewGate(NewPolicyStore(policy), broker, testLogger())
	return gate, broker, store
}

func TestRuleForPrecedence(t *testing.T) {
	store := NewPolicyStore(nil)
	store.SetPolicy("u1", &Policy{
		Capabilities: map[string]Rule{
			"execute_*":          RuleDenied,
			"execute_javascript": RuleAllowed,
			"read_*":             RuleAllowed,
			"*_email":            RulePrompt,
		},
		Default: RuleAllowed,
	})

	cases := []struct {
		action string
		want   Rule
	}{
		{"execute_javascript", RuleDenied}, // denied pattern beats allowed exact
		{"execute_shell", RuleDenied},
		{"read_file", RuleAllowed},
		{"send_email", RulePrompt},
		{"get_time", RuleAllowed}, // policy default
	}
	for _, tc := range cases {
		if got := store.RuleFor("u1", tc.action); got != tc.want {
			t.Errorf("RuleFor(%s) = %s, want %s", tc.action, got, tc.want)
		}
	}

	// Unknown user falls back to the shared default policy.
	if got := store.RuleFor("stranger", "anything"); got != RulePrompt {
		t.Errorf("default RuleFor = %s, want prompt", got)
	}
}

func TestMatchesPattern(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*", "anything", true},
		{"get_time", "get_time", true},
		{"get_time", "get_timer", false},
		{"read_*", "read_file", true},
		{"read_*", "file_read", false},
		{"*_email", "send_email", true},
		{"*_email", "email_send", false},
		{"", "x", false},
	}
	for _, tc := range cases {
		if got := matchesPattern(tc.pattern, tc.name); got != tc.want {
			t.Errorf("matchesPattern(%q, %q) = %v, want %v", tc.pattern, tc.name, got, tc.want)
		}
	}
}

func TestGatePolicyShortCircuits(t *testing.T) {
	gate, _, _ := newTestGate(t, &Policy{
		Capabilities: map[string]Rule{
			"get_time":   RuleAllowed,
			"delete_all": RuleDenied,
		},
	}, time.Second)

	d := gate.CheckToolCall(context.Background(), "u1", Action{Tool: "get_time"}, nil)
	if !d.Approved || d.Reason != "allowed by policy" {
		t.Errorf("allowed decision = %+v", d)
	}
	d = gate.CheckToolCall(context.Background(), "u1", Action{Tool: "delete_all"}, nil)
	if d.Approved || d.Reason != "denied by policy" {
		t.Errorf("denied decision = %+v", d)
	}
}

func TestGateDeniesWithoutPrompter(t *testing.T) {
	gate, _, _ := newTestGate(t, nil, time.Second)
	d := gate.CheckToolCall(context.Background(), "u1", Action{Tool: "send_email"}, nil)
	if d.Approved || d.Reason != "no prompt channel available" {
		t.Errorf("decision = %+v, want prompt-channel denial", d)
	}
}

func TestGateBlocksUntilApproved(t *testing.T) {
	gate, broker, _ := newTestGate(t, nil, 2*time.Second)

	prompted := make(chan *models.ApprovalRequest, 1)
	done := make(chan Decision, 1)
	go func() {
		done <- gate.CheckToolCall(context.Background(), "u1", Action{
			Tool:        "send_email",
			Category:    "email",
			Description: "Send the weekly report",
		}, func(req *models.ApprovalRequest) error {
			prompted <- req
			return nil
		})
	}()

	req := <-prompted
	if req.ID == "" || req.Status != models.ApprovalPending {
		t.Fatalf("prompted request = %+v, want pending with id", req)
	}

	if err := broker.Resolve(context.Background(), req.ID, models.ApprovalDecision{Decision: DecisionApproved}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	d := <-done
	if !d.Approved || d.Reason != "approved by user" || d.ApprovalID != req.ID {
		t.Errorf("decision = %+v, want user approval", d)
	}
}

func TestGateDeniesOnTimeout(t *testing.T) {
	gate, _, store := newTestGate(t, nil, 20*time.Millisecond)

	var approvalID string
	d := gate.CheckToolCall(context.Background(), "u1", Action{Tool: "send_email"}, func(req *models.ApprovalRequest) error {
		approvalID = req.ID
		return nil
	})
	if d.Approved || d.Reason != "approval timed out" {
		t.Fatalf("decision = %+v, want timeout denial", d)
	}

	req, err := store.GetApproval(context.Background(), approvalID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if req.Status != models.ApprovalExpired {
		t.Errorf("status = %s, want expired", req.Status)
	}
}

func TestRememberWindowSkipsSecondPrompt(t *testing.T) {
	gate, broker, _ := newTestGate(t, nil, 2*time.Second)

	prompted := make(chan *models.ApprovalRequest, 1)
	done := make(chan Decision, 1)
	go func() {
		done <- gate.CheckToolCall(context.Background(), "u1", Action{Tool: "send_email", ActionType: "email_send"}, func(req *models.ApprovalRequest) error {
			prompted <- req
			return nil
		})
	}()
	req := <-prompted
	if err := broker.Resolve(context.Background(), req.ID, models.ApprovalDecision{
		Decision:    DecisionApproved,
		RememberFor: 60,
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	<-done

	// Same (user, actionType): no prompt this time.
	d := gate.CheckToolCall(context.Background(), "u1", Action{Tool: "send_email", ActionType: "email_send"}, func(*models.ApprovalRequest) error {
		t.Error("prompter called inside remember window")
		return nil
	})
	if !d.Approved || d.Reason != "remembered approval" {
		t.Errorf("decision = %+v, want remembered approval", d)
	}

	// Different user: still prompts.
	if broker.Remembered("u2", "email_send") {
		t.Error("remember window leaked across users")
	}
}

func TestRejectionNeverRemembered(t *testing.T) {
	_, broker, _ := newTestGate(t, nil, 2*time.Second)

	req := &models.ApprovalRequest{UserID: "u1", ActionType: "email_send"}
	if err := broker.Request(context.Background(), req); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := broker.Resolve(context.Background(), req.ID, models.ApprovalDecision{
		Decision:    DecisionRejected,
		RememberFor: 60,
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if broker.Remembered("u1", "email_send") {
		t.Error("rejection was cached")
	}
}

func TestResolveTwiceFails(t *testing.T) {
	_, broker, _ := newTestGate(t, nil, 2*time.Second)

	req := &models.ApprovalRequest{UserID: "u1", ActionType: "x"}
	if err := broker.Request(context.Background(), req); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := broker.Resolve(context.Background(), req.ID, models.ApprovalDecision{Decision: DecisionApproved}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	err := broker.Resolve(context.Background(), req.ID, models.ApprovalDecision{Decision: DecisionRejected})
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("err = %v, want ErrAlreadyResolved", err)
	}
}

func TestResolveUnknownDecision(t *testing.T) {
	_, broker, _ := newTestGate(t, nil, 2*time.Second)
	req := &models.ApprovalRequest{UserID: "u1", ActionType: "x"}
	if err := broker.Request(context.Background(), req); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := broker.Resolve(context.Background(), req.ID, models.ApprovalDecision{Decision: "maybe"}); err == nil {
		t.Fatal("expected unknown decision error")
	}
}
