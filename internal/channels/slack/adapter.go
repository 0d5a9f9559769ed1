// Package slack bridges Slack workspaces into the gateway over Socket
// Mode, so no public ingress is needed.
package slack

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/locushq/locus/internal/channels"
	"github.com/locushq/locus/pkg/models"
)

// apiClient is the Web API slice the adapter uses; tests fake it.
type apiClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// socketRunner runs the Socket Mode connection; tests fake it.
type socketRunner interface {
	RunContext(ctx context.Context) error
	Ack(req socketmode.Request, payload ...interface{})
}

// Config holds the Slack adapter settings.
type Config struct {
	BotToken string // xoxb- token for Web API calls
	AppToken string // xapp- token for Socket Mode

	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

func (c *Config) Validate() error {
	if c.BotToken == "" || c.AppToken == "" {
		return channels.ErrConfig("slack: bot token and app token are required", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 1 // chat.postMessage tier
	}
	if c.RateBurst == 0 {
		c.RateBurst = 3
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return nil
}

// Adapter implements channels.Adapter for Slack.
type Adapter struct {
	config  Config
	limiter *channels.RateLimiter
	logger  *slog.Logger

	mu       sync.RWMutex
	api      apiClient
	socket   socketRunner
	events   <-chan socketmode.Event
	status   channels.Status
	messages chan *models.Message
	botID    string
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:   config,
		limiter:  channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:   config.Logger.With("adapter", "slack"),
		messages: make(chan *models.Message, 100),
	}, nil
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelSlack }

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
		return channels.ErrInternal("slack: adapter already started", nil)
	}

	if a.api == nil {
		api := slack.New(a.config.BotToken, slack.OptionAppLevelToken(a.config.AppToken))
		sock := socketmode.New(api)
		a.api = api
		a.socket = sock
		a.events = sock.Events
	}

	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return channels.ErrAuthentication("slack: auth test", err)
	}
	a.botID = auth.UserID

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.pump(runCtx)
	go func() {
		if err := a.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			a.logger.Error("socket mode terminated", "error", err)
			a.mu.Lock()
			a.status.Error = err.Error()
			a.mu.Unlock()
		}
	}()

	a.status = channels.Status{Connected: true, LastPing: time.Now().Unix()}
	a.logger.Info("slack adapter started", "bot_id", a.botID)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.status.Connected {
		return nil
	}

	a.cancel()
	select {
	case <-a.done:
	case <-ctx.Done():
		a.logger.Warn("stop timeout, event pump still draining")
	}

	a.status.Connected = false
	close(a.messages)
	a.logger.Info("slack adapter stopped")
	return nil
}

func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	if msg.ChannelID == "" {
		return channels.ErrInvalidInput("slack: message has no channel id", nil)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return channels.ErrTimeout("slack: rate limit wait cancelled", err)
	}

	a.mu.RLock()
	connected := a.status.Connected
	api := a.api
	a.mu.RUnlock()
	if !connected {
		return channels.ErrUnavailable("slack: adapter not connected", nil)
	}

	if _, _, err := api.PostMessageContext(ctx, msg.ChannelID, slack.MsgOptionText(msg.Content, false)); err != nil {
		return channels.ErrInternal("slack: post message", err)
	}
	return nil
}

// pump drains Socket Mode events: Events API frames are acked first,
// message events become inbound traffic.
func (a *Adapter) pump(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			if evt.Request != nil {
				a.socket.Ack(*evt.Request)
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			a.handleEvent(apiEvent)
		}
	}
}

func (a *Adapter) handleEvent(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	inner, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Skip our own messages and edits/joins carried as subtypes.
	if inner.User == "" || inner.User == a.botID || inner.SubType != "" {
		return
	}

	msg := &models.Message{
		ID:        inner.TimeStamp,
		Channel:   models.ChannelSlack,
		ChannelID: inner.Channel,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   inner.Text,
		Metadata: map[string]any{
			"slack_user_id":   inner.User,
			"slack_thread_ts": inner.ThreadTimeStamp,
		},
		CreatedAt: time.Now().UTC(),
	}

	select {
	case a.messages <- msg:
	default:
		a.logger.Warn("inbound buffer full, dropping message", "channel_id", inner.Channel)
	}
}
