package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/agents"
	"github.com/locushq/locus/internal/approval"
	"github.com/locushq/locus/internal/contextwindow"
	"github.com/locushq/locus/internal/usage"
	"github.com/locushq/locus/pkg/models"
)

// chatRequest is the body of POST /v1/chat/stream.
type chatRequest struct {
	Message     string              `json:"message"`
	SessionID   string              `json:"sessionId,omitempty"`
	Provider    string              `json:"provider,omitempty"`
	Model       string              `json:"model,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	userID := s.userID(r)
	ctx := agent.WithUserID(r.Context(), userID)

	runner, settings, err := s.cfg.AgentFor(ctx, userID, agents.ProviderSettings{
		Provider: req.Provider,
		Model:    req.Model,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("agent unavailable: %v", err))
		return
	}

	sse, err := newSSEWriter(w, s.logger, s.cfg.Metrics)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.runTurn(ctx, sse, runner, settings, userID, req)
}

// turnState accumulates everything one streamed turn produces.
type turnState struct {
	messageID string
	sessionID string
	content   strings.Builder
	trace     *traceCollector
	lastUsage *models.Usage
}

// runTurn drives one agent turn over an open SSE connection. Every
// failure past this point is reported as an `error` event; the HTTP
// status is already committed.
func (s *Server) runTurn(ctx context.Context, sse *sseWriter, runner TurnRunner, settings agents.ProviderSettings, userID string, req chatRequest) {
	var span trace.Span
	if s.cfg.Tracer != nil {
		ctx, span = s.cfg.Tracer.TraceAgentTurn(ctx, userID, req.SessionID)
		defer span.End()
	}

	state := &turnState{
		messageID: uuid.NewString(),
		sessionID: req.SessionID,
		trace:     newTraceCollector(req.Message),
	}

	userMsg := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   req.SessionID,
		Channel:     models.ChannelAPI,
		Direction:   models.DirectionInbound,
		Role:        models.RoleUser,
		Content:     req.Message,
		Attachments: req.Attachments,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	history := s.loadHistory(ctx, req.SessionID)
	history = append(history, agent.CompletionMessage{
		Role:        "user",
		Content:     req.Message,
		Attachments: req.Attachments,
	})
	if s.cfg.Stores.Messages != nil {
		if err := s.cfg.Stores.Messages.SaveMessage(ctx, userMsg); err != nil {
			s.logger.Warn("user message not persisted", "session_id", req.SessionID, "error", err)
		}
	}

	cb := agent.TurnCallbacks{
		OnDelta: func(text string) {
			state.content.WriteString(text)
			sse.writeEvent(models.StreamEventChunk, models.ChunkPayload{
				ID:             state.messageID,
				ConversationID: state.sessionID,
				Delta:          text,
			})
		},
		BeforeToolCall: func(ctx context.Context, call models.ToolCall) *agent.ToolResult {
			return s.gateToolCall(ctx, sse, userID, call)
		},
		OnToolStart: func(call models.ToolCall) {
			name, args := state.trace.toolStarted(call)
			sse.writeEvent(models.StreamEventProgress, models.ProgressPayload{
				Type:      "tool_start",
				ToolName:  name,
				Arguments: args,
			})
		},
		OnToolEnd: func(call models.ToolCall, result models.ToolResult, duration time.Duration) {
			entry := state.trace.toolEnded(call, result, duration)
			success := entry.Success
			sse.writeEvent(models.StreamEventProgress, models.ProgressPayload{
				Type:          "tool_end",
				ToolName:      entry.Name,
				ResultPreview: preview(result.Content),
				Success:       &success,
				DurationMS:    entry.DurationMS,
			})
			if s.cfg.Metrics != nil {
				status := "success"
				if !success {
					status = "error"
				}
				s.cfg.Metrics.RecordToolExecution(entry.Name, status, duration.Seconds())
			}
		},
		OnModelCall: func(provider, model string, inputTokens, outputTokens int, duration time.Duration) {
			state.trace.modelCalled(provider, model, inputTokens, outputTokens, duration)
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordLLMRequest(provider, model, "success", duration.Seconds(), inputTokens, outputTokens)
			}
		},
	}

	result, turnErr := runner.Turn(ctx, history, cb)
	if result != nil && result.Usage.TotalTokens > 0 {
		u := result.Usage
		state.lastUsage = &u
	}

	if turnErr != nil && !errors.Is(turnErr, agent.ErrMaxIterations) {
		if span != nil {
			s.cfg.Tracer.RecordError(span, turnErr)
		}
		sse.writeEvent(models.StreamEventError, models.ErrorPayload{Error: turnErr.Error()})
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordError("gateway", "turn")
		}
		s.recordUsage(ctx, state, settings, userID, turnErr)
		return
	}

	s.finishTurn(ctx, sse, state, settings, userID, result)
	s.recordUsage(ctx, state, settings, userID, nil)
}

// gateToolCall consults the approval gate before a tool executes. A
// denial is surfaced to the client as an autonomy event and to the model
// as an error result so the turn can continue.
func (s *Server) gateToolCall(ctx context.Context, sse *sseWriter, userID string, call models.ToolCall) *agent.ToolResult {
	if s.cfg.Gate == nil {
		return nil
	}

	decision := s.cfg.Gate.CheckToolCall(ctx, userID, actionForCall(call), func(req *models.ApprovalRequest) error {
		sse.writeEvent(models.StreamEventApproval, models.ApprovalPayload{
			Type:        "approval_required",
			ApprovalID:  req.ID,
			Category:    req.Category,
			Description: req.Description,
		})
		return nil
	})
	if s.cfg.Metrics != nil {
		outcome := "denied"
		if decision.Approved {
			outcome = "approved"
		}
		s.cfg.Metrics.RecordApproval(outcome)
	}
	if decision.Approved {
		return nil
	}

	blocked := call
	sse.writeEvent(models.StreamEventAutonomy, models.AutonomyPayload{
		Type:     "tool_blocked",
		ToolCall: &blocked,
		Reason:   decision.Reason,
	})
	return &agent.ToolResult{
		Content: fmt.Sprintf("Tool call was not approved: %s", decision.Reason),
		IsError: true,
	}
}

// finishTurn strips marker blocks, publishes the done event and persists
// the assistant message, then fires post-turn trigger evaluation.
func (s *Server) finishTurn(ctx context.Context, sse *sseWriter, state *turnState, settings agents.ProviderSettings, userID string, result *agent.TurnResult) {
	raw := state.content.String()
	if raw == "" && result != nil {
		raw = result.Content
	}
	clean, suggestions, memories := stripMarkers(raw)

	finishReason := "stop"
	if result != nil && result.FinishReason != "" {
		finishReason = result.FinishReason
	}

	done := models.DonePayload{
		ID:           state.messageID,
		Done:         true,
		FinishReason: finishReason,
		Usage:        state.lastUsage,
		Suggestions:  suggestions,
		Memories:     memories,
		Trace:        state.trace.build(clean),
		Session:      s.sessionInfo(ctx, state, settings),
	}
	sse.writeEvent(models.StreamEventDone, done)

	if s.cfg.Stores.Messages != nil {
		assistant := &models.Message{
			ID:        state.messageID,
			SessionID: state.sessionID,
			Channel:   models.ChannelAPI,
			Direction: models.DirectionOutbound,
			Role:      models.RoleAssistant,
			Content:   clean,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.cfg.Stores.Messages.SaveMessage(ctx, assistant); err != nil {
			s.logger.Warn("assistant message not persisted", "session_id", state.sessionID, "error", err)
		}
	}

	if s.cfg.Triggers != nil {
		if fired := s.cfg.Triggers.EvaluateAfterTurn(ctx, userID, clean); fired > 0 {
			s.logger.Info("post-turn triggers fired", "user_id", userID, "count", fired)
		}
	}
}

// sessionInfo sizes the conversation against the model's context window,
// merging cached token counts when the provider reported them.
func (s *Server) sessionInfo(ctx context.Context, state *turnState, settings agents.ProviderSettings) *models.SessionInfo {
	var msgs []*models.Message
	if s.cfg.Stores.Messages != nil {
		stored, err := s.cfg.Stores.Messages.GetMessages(ctx, state.sessionID, 0)
		if err != nil {
			s.logger.Warn("session info unavailable", "session_id", state.sessionID, "error", err)
		} else {
			msgs = stored
		}
	}
	info := contextwindow.SessionInfo(settings.Model, "", msgs)
	if state.lastUsage != nil {
		info.CachedTokens = state.lastUsage.CachedTokens
	}
	return info
}

// recordUsage writes the turn's single usage row. Known usage gets a full
// row even when the turn also errored; an error with no usage gets an
// error row; a clean turn with no usage gets nothing.
func (s *Server) recordUsage(ctx context.Context, state *turnState, settings agents.ProviderSettings, userID string, turnErr error) {
	if s.cfg.Usage == nil {
		return
	}
	turn := usage.Turn{
		UserID:      userID,
		SessionID:   state.sessionID,
		Provider:    settings.Provider,
		Model:       settings.Model,
		Latency:     state.trace.elapsed(),
		RequestType: usage.RequestChat,
	}
	switch {
	case state.lastUsage != nil:
		turn.Usage = *state.lastUsage
	case turnErr != nil:
		turn.Err = turnErr
	default:
		return
	}
	s.cfg.Usage.Record(ctx, turn)
}

// loadHistory rebuilds the completion history from stored messages. Tool
// traffic is replayed so the model sees its own prior calls.
func (s *Server) loadHistory(ctx context.Context, sessionID string) []agent.CompletionMessage {
	if s.cfg.Stores.Messages == nil {
		return nil
	}
	msgs, err := s.cfg.Stores.Messages.GetMessages(ctx, sessionID, s.cfg.MaxContextMessages)
	if err != nil {
		s.logger.Warn("history unavailable", "session_id", sessionID, "error", err)
		return nil
	}
	history := make([]agent.CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, agent.CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}
	return history
}

// actionForCall maps a tool call to an approval action. Meta-dispatch is
// unwrapped so policy applies to the real tool, not use_tool itself.
func actionForCall(call models.ToolCall) approval.Action {
	name, args := displayCall(call)

	var params map[string]any
	if len(args) > 0 {
		_ = json.Unmarshal(args, &params)
	}
	return approval.Action{
		Tool:        name,
		Category:    toolCategory(name),
		ActionType:  name,
		Description: fmt.Sprintf("Run tool %q", name),
		Params:      params,
	}
}

// toolCategory buckets tool names for approval policy and display.
func toolCategory(name string) string {
	switch {
	case strings.Contains(name, "plan"):
		return "plans"
	case strings.Contains(name, "memor"):
		return "memory"
	case strings.Contains(name, "goal"):
		return "goals"
	case strings.Contains(name, "trigger"):
		return "triggers"
	case strings.HasPrefix(name, "create_tool") || strings.HasPrefix(name, "run_custom"):
		return "custom"
	default:
		return "tools"
	}
}
