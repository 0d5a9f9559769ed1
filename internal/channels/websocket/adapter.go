// Package websocket exposes a WebSocket channel: each connected client is
// its own conversation channel, addressed by connection id.
package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/locushq/locus/internal/channels"
	"github.com/locushq/locus/pkg/models"
)

const (
	writeTimeout = 10 * time.Second
	maxFrameSize = 1 << 20
)

// wire is the frame exchanged with clients in both directions.
type wire struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// Config holds the WebSocket adapter settings.
type Config struct {
	// CheckOrigin overrides the upgrader's origin policy. Nil allows all
	// origins: the gateway fronts this handler with its auth middleware.
	CheckOrigin func(r *http.Request) bool

	Logger *slog.Logger
}

// Adapter implements channels.Adapter over server-side WebSocket
// connections. Register Handler() on the HTTP mux; Start/Stop control
// whether new connections are accepted.
type Adapter struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.RWMutex
	conns    map[string]*conn
	status   channels.Status
	messages chan *models.Message
	readers  sync.WaitGroup
}

type conn struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex // guards writes
}

func NewAdapter(config Config) *Adapter {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Adapter{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger.With("adapter", "websocket"),
		conns:    make(map[string]*conn),
		messages: make(chan *models.Message, 100),
	}
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelWebSocket }

func (a *Adapter) Messages() <-chan *models.Message { return a.messages }

func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status.Connected {
		return channels.ErrInternal("websocket: adapter already started", nil)
	}
	a.status = channels.Status{Connected: true, LastPing: time.Now().Unix()}
	a.logger.Info("websocket adapter started")
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.status.Connected {
		a.mu.Unlock()
		return nil
	}
	a.status.Connected = false
	conns := make([]*conn, 0, len(a.conns))
	for _, c := range a.conns {
		conns = append(conns, c)
	}
	a.conns = make(map[string]*conn)
	a.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
	// Readers must drain before the inbound channel closes.
	a.readers.Wait()
	close(a.messages)
	a.logger.Info("websocket adapter stopped")
	return nil
}

// Send routes the message to the client whose connection id matches
// msg.ChannelID.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	a.mu.RLock()
	connected := a.status.Connected
	c, ok := a.conns[msg.ChannelID]
	a.mu.RUnlock()
	if !connected {
		return channels.ErrUnavailable("websocket: adapter not connected", nil)
	}
	if !ok {
		return channels.ErrInvalidInput("websocket: unknown connection id", nil)
	}

	frame := wire{ID: msg.ID, Role: string(models.RoleAssistant), Content: msg.Content}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(frame); err != nil {
		return channels.ErrConnection("websocket: write frame", err)
	}
	return nil
}

// Handler upgrades HTTP requests into channel connections.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.RLock()
		accepting := a.status.Connected
		a.mu.RUnlock()
		if !accepting {
			http.Error(w, "websocket channel unavailable", http.StatusServiceUnavailable)
			return
		}

		ws, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.logger.Warn("upgrade failed", "error", err)
			return
		}
		ws.SetReadLimit(maxFrameSize)

		c := &conn{id: uuid.NewString(), ws: ws}
		a.mu.Lock()
		a.conns[c.id] = c
		a.mu.Unlock()
		a.logger.Debug("client connected", "conn_id", c.id)

		a.readers.Add(1)
		go a.readLoop(c)
	})
}

// ConnectionCount reports connected clients, for status surfaces.
func (a *Adapter) ConnectionCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.conns)
}

func (a *Adapter) readLoop(c *conn) {
	defer a.readers.Done()
	defer func() {
		a.mu.Lock()
		delete(a.conns, c.id)
		a.mu.Unlock()
		_ = c.ws.Close()
		a.logger.Debug("client disconnected", "conn_id", c.id)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var frame wire
		if err := json.Unmarshal(data, &frame); err != nil || frame.Content == "" {
			continue
		}

		msg := &models.Message{
			ID:        uuid.NewString(),
			Channel:   models.ChannelWebSocket,
			ChannelID: c.id,
			Direction: models.DirectionInbound,
			Role:      models.RoleUser,
			Content:   frame.Content,
			CreatedAt: time.Now().UTC(),
		}
		select {
		case a.messages <- msg:
		default:
			a.logger.Warn("inbound buffer full, dropping message", "conn_id", c.id)
		}
	}
}
