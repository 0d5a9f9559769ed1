package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/locushq/locus/pkg/models"
)

// Events emitted by a workspace runtime.
const (
	EventStateChange = "stateChange"
	EventMessage     = "message"
	EventStreamStart = "streamStart"
	EventStreamEnd   = "streamEnd"
)

const defaultMaxContextMessages = 20

// bufferFactor bounds the message buffer relative to the context window.
const bufferFactor = 5

// Responder runs the chat agent for a workspace turn and returns the
// assistant reply.
type Responder interface {
	Respond(ctx context.Context, sel models.AgentSelection, history []*models.Message) (string, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, sel models.AgentSelection, history []*models.Message) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, sel models.AgentSelection, history []*models.Message) (string, error) {
	return f(ctx, sel, history)
}

// SendFunc delivers an outbound reply through a channel adapter. A nil
// SendFunc means no adapter is registered for the channel.
type SendFunc func(ctx context.Context, channelID, text string) error

// Workspace is one conversation's runtime: buffered history, a small state
// machine, and a local event emitter.
type Workspace struct {
	id        string
	name      string
	logger    *slog.Logger
	responder Responder
	sendTo    func(channelID string) SendFunc
	emitter   *Emitter

	mu             sync.Mutex
	messages       []*models.Message
	state          models.WorkspaceState
	errMsg         string
	conversationID string
	settings       models.WorkspaceSettings
	agent          models.AgentSelection
	createdAt      time.Time
	lastActivityAt time.Time
}

// New creates a workspace runtime. sendTo resolves the channel adapter for
// outbound replies and may be nil.
func New(name string, settings models.WorkspaceSettings, sel models.AgentSelection, responder Responder, sendTo func(channelID string) SendFunc, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.MaxContextMessages <= 0 {
		settings.MaxContextMessages = defaultMaxContextMessages
	}
	now := time.Now()
	w := &Workspace{
		id:             uuid.NewString(),
		name:           name,
		responder:      responder,
		sendTo:         sendTo,
		settings:       settings,
		agent:          sel,
		state:          models.WorkspaceIdle,
		conversationID: uuid.NewString(),
		createdAt:      now,
		lastActivityAt: now,
	}
	w.logger = logger.With("component", "workspace", "workspace_id", w.id)
	w.emitter = NewEmitter(w.logger)
	return w
}

// ID returns the workspace id.
func (w *Workspace) ID() string { return w.id }

// Name returns the workspace name.
func (w *Workspace) Name() string { return w.name }

// On registers a local event handler.
func (w *Workspace) On(event string, fn Handler) Subscription { return w.emitter.On(event, fn) }

// Off removes a local event handler.
func (w *Workspace) Off(sub Subscription) { w.emitter.Off(sub) }

// AddMessage appends to the buffer, pruning the oldest entries so the
// buffer never exceeds bufferFactor times the context window.
func (w *Workspace) AddMessage(msg *models.Message) {
	w.mu.Lock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.SessionID = w.conversationID
	w.messages = append(w.messages, msg)
	limit := bufferFactor * w.settings.MaxContextMessages
	if len(w.messages) > limit {
		w.messages = append([]*models.Message(nil), w.messages[len(w.messages)-limit:]...)
	}
	w.lastActivityAt = time.Now()
	w.mu.Unlock()

	w.emitter.Emit(EventMessage, msg)
}

// Messages returns a copy of the buffer.
func (w *Workspace) Messages() []*models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*models.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// ContextMessages returns the last limit messages; limit <= 0 falls back
// to the workspace's context window.
func (w *Workspace) ContextMessages(limit int) []*models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	if limit <= 0 {
		limit = w.settings.MaxContextMessages
	}
	if limit <= 0 {
		limit = defaultMaxContextMessages
	}
	start := len(w.messages) - limit
	if start < 0 {
		start = 0
	}
	out := make([]*models.Message, len(w.messages)-start)
	copy(out, w.messages[start:])
	return out
}

// ClearMessages empties the buffer and rotates the conversation id in one
// atomic move.
func (w *Workspace) ClearMessages() {
	w.mu.Lock()
	w.messages = nil
	w.conversationID = uuid.NewString()
	w.lastActivityAt = time.Now()
	w.mu.Unlock()
}

// ConversationID returns the current conversation id.
func (w *Workspace) ConversationID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conversationID
}

// State returns the current state and error message.
func (w *Workspace) State() (models.WorkspaceState, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.errMsg
}

// SetState transitions the state machine. Entering a non-error state
// clears the error; entering error records it. Every transition updates
// lastActivityAt and emits stateChange.
func (w *Workspace) SetState(state models.WorkspaceState, errMsg string) {
	w.mu.Lock()
	w.state = state
	if state == models.WorkspaceError {
		w.errMsg = errMsg
	} else {
		w.errMsg = ""
	}
	w.lastActivityAt = time.Now()
	w.mu.Unlock()

	w.emitter.Emit(EventStateChange, state, errMsg)
}

// Settings returns a copy of the workspace settings.
func (w *Workspace) Settings() models.WorkspaceSettings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings
}

// UpdateSettings replaces the workspace settings.
func (w *Workspace) UpdateSettings(settings models.WorkspaceSettings) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if settings.MaxContextMessages <= 0 {
		settings.MaxContextMessages = defaultMaxContextMessages
	}
	w.settings = settings
}

// Agent returns the workspace's agent selection.
func (w *Workspace) Agent() models.AgentSelection {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.agent
}

// SelectAgent pins the workspace to a provider, model and prompt.
func (w *Workspace) SelectAgent(sel models.AgentSelection) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.agent = sel
}

// Info returns an external snapshot of the runtime.
func (w *Workspace) Info() models.WorkspaceInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return models.WorkspaceInfo{
		ID:             w.id,
		Name:           w.name,
		Settings:       w.settings,
		Agent:          w.agent,
		State:          w.state,
		ConversationID: w.conversationID,
		Error:          w.errMsg,
		MessageCount:   len(w.messages),
		CreatedAt:      w.createdAt,
		LastActivityAt: w.lastActivityAt,
	}
}

// ProcessIncomingMessage appends a normalized user message and, when
// autoReply is on, generates the reply.
func (w *Workspace) ProcessIncomingMessage(ctx context.Context, msg *models.Message) error {
	msg.Role = models.RoleUser
	msg.Direction = models.DirectionInbound
	w.AddMessage(msg)

	w.mu.Lock()
	autoReply := w.settings.AutoReply
	delay := w.settings.ReplyDelay
	w.mu.Unlock()
	if !autoReply {
		return nil
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	_, err := w.GenerateResponse(ctx, msg.ChannelID)
	return err
}

// GenerateResponse runs one agent turn on the buffered context and appends
// the assistant reply. When a channel adapter exists for channelID, the
// reply is also sent out-of-band.
func (w *Workspace) GenerateResponse(ctx context.Context, channelID string) (*models.Message, error) {
	if w.responder == nil {
		return nil, fmt.Errorf("workspace %s has no responder", w.id)
	}
	streamID := uuid.NewString()
	w.SetState(models.WorkspaceProcessing, "")
	w.emitter.Emit(EventStreamStart, streamID)

	sel := w.Agent()
	history := w.ContextMessages(0)
	content, err := w.responder.Respond(ctx, sel, history)
	if err != nil {
		w.emitter.Emit(EventStreamEnd, streamID)
		w.SetState(models.WorkspaceError, err.Error())
		return nil, fmt.Errorf("generate response: %w", err)
	}

	reply := &models.Message{
		Role:      models.RoleAssistant,
		Direction: models.DirectionOutbound,
		ChannelID: channelID,
		Content:   content,
	}
	w.AddMessage(reply)
	w.emitter.Emit(EventStreamEnd, streamID)
	w.SetState(models.WorkspaceIdle, "")

	if channelID != "" && w.sendTo != nil {
		if send := w.sendTo(channelID); send != nil {
			if serr := send(ctx, channelID, content); serr != nil {
				w.logger.Warn("send reply to channel", "channel_id", channelID, "error", serr)
			}
		}
	}
	return reply, nil
}
