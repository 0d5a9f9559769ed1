package approval

import (
	"context"
	"log/slog"

	"github.com/locushq/locus/pkg/models"
)

// Action describes the tool call being gated.
type Action struct {
	Tool        string
	Category    string
	ActionType  string
	Description string
	Params      map[string]any
}

// actionType is the policy and remember-window key; falls back from the
// explicit action type to the tool name.
func (a Action) actionType() string {
	if a.ActionType != "" {
		return a.ActionType
	}
	return a.Tool
}

// Decision is the gate's verdict for one tool call.
type Decision struct {
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
	ApprovalID string `json:"approval_id,omitempty"`
}

// Prompter delivers the approval request to the user, typically as an
// `approval` event on the turn's active stream.
type Prompter func(req *models.ApprovalRequest) error

// Gate sits between the agent and every tool call: policy first, then the
// remember window, then a prompt parked on the broker.
type Gate struct {
	policies *PolicyStore
	broker   *Broker
	logger   *slog.Logger
}

// NewGate wires the gate over a policy store and broker.
func NewGate(policies *PolicyStore, broker *Broker, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default().With("component", "approval-gate")
	}
	return &Gate{policies: policies, broker: broker, logger: logger}
}

// CheckToolCall resolves consent for one tool call. The prompter is the
// turn's way of surfacing the request; a nil prompter that would be needed
// denies, since there is nobody to ask.
func (g *Gate) CheckToolCall(ctx context.Context, userID string, action Action, prompt Prompter) Decision {
	actionType := action.actionType()

	switch g.policies.RuleFor(userID, actionType) {
	case RuleDenied:
		return Decision{Approved: false, Reason: "denied by policy"}
	case RuleAllowed:
		return Decision{Approved: true, Reason: "allowed by policy"}
	}

	if g.broker.Remembered(userID, actionType) {
		return Decision{Approved: true, Reason: "remembered approval"}
	}
	if prompt == nil {
		return Decision{Approved: false, Reason: "no prompt channel available"}
	}

	req := &models.ApprovalRequest{
		UserID:      userID,
		Category:    action.Category,
		ActionType:  actionType,
		Description: action.Description,
		Params:      action.Params,
	}
	if err := g.broker.Request(ctx, req); err != nil {
		g.logger.Error("create approval request", "user_id", userID, "tool", action.Tool, "error", err)
		return Decision{Approved: false, Reason: "approval request failed"}
	}
	if err := prompt(req); err != nil {
		g.logger.Warn("deliver approval prompt", "approval_id", req.ID, "error", err)
		return Decision{Approved: false, Reason: "approval prompt undeliverable", ApprovalID: req.ID}
	}

	g.logger.Info("awaiting approval", "approval_id", req.ID, "user_id", userID, "action_type", actionType)
	approved, reason := g.broker.Await(ctx, req.ID)
	return Decision{Approved: approved, Reason: reason, ApprovalID: req.ID}
}
