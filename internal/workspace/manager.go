package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/locushq/locus/pkg/models"
)

// EventChannelMessage is the global bus event the manager subscribes to.
// Emitted as (channelID string, *models.Message).
const EventChannelMessage = "channel:message"

// ErrNotFound is returned for unknown workspace ids.
var ErrNotFound = fmt.Errorf("workspace not found")

// Manager owns the workspace set, the one-to-one channel map and the
// default-workspace pointer, and bridges global channel traffic into
// workspace runtimes.
type Manager struct {
	logger    *slog.Logger
	bus       *Emitter
	responder Responder
	sendTo    func(channelID string) SendFunc

	mu         sync.Mutex
	workspaces map[string]*Workspace
	order      []string          // creation order, for default fallback
	byChannel  map[string]string // channelID → workspaceID
	defaultID  string
	disposed   bool
	sub        Subscription
}

// NewManager creates a workspace manager subscribed to the global bus.
func NewManager(bus *Emitter, responder Responder, sendTo func(channelID string) SendFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "workspace-manager")
	}
	m := &Manager{
		logger:     logger,
		bus:        bus,
		responder:  responder,
		sendTo:     sendTo,
		workspaces: make(map[string]*Workspace),
		byChannel:  make(map[string]string),
	}
	if bus != nil {
		m.sub = bus.On(EventChannelMessage, m.handleChannelMessage)
	}
	return m
}

// Create adds a workspace. The first workspace becomes the default.
func (m *Manager) Create(name string, settings models.WorkspaceSettings, sel models.AgentSelection) *Workspace {
	w := New(name, settings, sel, m.responder, m.sendTo, m.logger)
	m.mu.Lock()
	m.workspaces[w.ID()] = w
	m.order = append(m.order, w.ID())
	if m.defaultID == "" {
		m.defaultID = w.ID()
	}
	m.mu.Unlock()
	m.logger.Info("workspace created", "workspace_id", w.ID(), "name", name)
	return w
}

// Get returns a workspace by id.
func (m *Manager) Get(id string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	return w, nil
}

// List returns all workspaces in creation order.
func (m *Manager) List() []*Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Workspace, 0, len(m.order))
	for _, id := range m.order {
		if w, ok := m.workspaces[id]; ok {
			out = append(out, w)
		}
	}
	return out
}

// Delete removes a workspace, its channel bindings, and repoints the
// default when needed.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[id]; !ok {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	delete(m.workspaces, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	for ch, wid := range m.byChannel {
		if wid == id {
			delete(m.byChannel, ch)
		}
	}
	if m.defaultID == id {
		m.defaultID = ""
		if len(m.order) > 0 {
			m.defaultID = m.order[0]
		}
	}
	return nil
}

// AssociateChannel binds a channel to a workspace. A channel binds to at
// most one workspace; rebinding moves it.
func (m *Manager) AssociateChannel(workspaceID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[workspaceID]; !ok {
		return fmt.Errorf("workspace %s: %w", workspaceID, ErrNotFound)
	}
	m.byChannel[channelID] = workspaceID
	return nil
}

// DisassociateChannel removes a channel binding; unknown channels are a
// no-op.
func (m *Manager) DisassociateChannel(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byChannel, channelID)
}

// ByChannel resolves the workspace bound to a channel.
func (m *Manager) ByChannel(channelID string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byChannel[channelID]
	if !ok {
		return nil, false
	}
	w, ok := m.workspaces[id]
	return w, ok
}

// SetDefault repoints the default workspace.
func (m *Manager) SetDefault(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[id]; !ok {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	m.defaultID = id
	return nil
}

// Default returns the default workspace, or nil when none exist.
func (m *Manager) Default() *Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.defaultID == "" {
		return nil
	}
	return m.workspaces[m.defaultID]
}

// Dispose unsubscribes from the global bus. Idempotent.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	if m.bus != nil {
		m.bus.Off(m.sub)
	}
}

// handleChannelMessage routes a bus emission to its workspace, falling
// back to (and creating when missing) the default workspace. Delivery
// errors are contained so one workspace cannot poison the bus.
func (m *Manager) handleChannelMessage(args ...any) {
	if len(args) < 2 {
		return
	}
	channelID, ok := args[0].(string)
	if !ok {
		return
	}
	msg, ok := args[1].(*models.Message)
	if !ok {
		return
	}

	w, ok := m.ByChannel(channelID)
	if !ok {
		w = m.Default()
		if w == nil {
			w = m.Create("default", models.WorkspaceSettings{AutoReply: true}, models.AgentSelection{})
		}
		if err := m.AssociateChannel(w.ID(), channelID); err != nil {
			m.logger.Warn("bind channel to default workspace", "channel_id", channelID, "error", err)
		}
	}

	msg.ChannelID = channelID
	if err := w.ProcessIncomingMessage(context.Background(), msg); err != nil {
		m.logger.Error("process channel message",
			"workspace_id", w.ID(),
			"channel_id", channelID,
			"error", err)
	}
}
