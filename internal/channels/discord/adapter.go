// Package discord bridges Discord guild and DM traffic into the gateway.
package discord

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/locushq/locus/internal/channels"
	"github.com/locushq/locus/pkg/models"
)

// session is the slice of discordgo the adapter uses, split out so tests
// can fake the gateway connection.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Config holds the Discord adapter settings.
type Config struct {
	// Token is the bot token from the Discord developer portal.
	Token string

	// RateLimit is outbound operations per second; RateBurst the burst cap.
	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

// Validate applies defaults and rejects unusable configs.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("discord: token is required", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return nil
}

// Adapter implements channels.Adapter for Discord.
type Adapter struct {
	config  Config
	limiter *channels.RateLimiter
	logger  *slog.Logger

	mu       sync.RWMutex
	session  session
	status   channels.Status
	messages chan *models.Message

	removeHandlers []func()
}

func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:   config,
		limiter:  channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:   config.Logger.With("adapter", "discord"),
		messages: make(chan *models.Message, 100),
	}, nil
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelDiscord }

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
		return channels.ErrInternal("discord: adapter already started", nil)
	}

	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.config.Token)
		if err != nil {
			return channels.ErrAuthentication("discord: create session", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
		a.session = dg
	}

	a.removeHandlers = append(a.removeHandlers,
		a.session.AddHandler(a.handleMessageCreate))

	if err := a.session.Open(); err != nil {
		return channels.ErrConnection("discord: open gateway", err)
	}

	a.status = channels.Status{Connected: true, LastPing: time.Now().Unix()}
	a.logger.Info("discord adapter started")
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.status.Connected {
		return nil
	}

	for _, remove := range a.removeHandlers {
		remove()
	}
	a.removeHandlers = nil

	if err := a.session.Close(); err != nil {
		a.status.Error = err.Error()
		return channels.ErrConnection("discord: close gateway", err)
	}
	a.status.Connected = false
	close(a.messages)
	a.logger.Info("discord adapter stopped")
	return nil
}

func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	if msg.ChannelID == "" {
		return channels.ErrInvalidInput("discord: message has no channel id", nil)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return channels.ErrTimeout("discord: rate limit wait cancelled", err)
	}

	a.mu.RLock()
	connected := a.status.Connected
	sess := a.session
	a.mu.RUnlock()
	if !connected {
		return channels.ErrUnavailable("discord: adapter not connected", nil)
	}

	if _, err := sess.ChannelMessageSend(msg.ChannelID, msg.Content); err != nil {
		return channels.ErrInternal("discord: send message", err)
	}
	return nil
}

// handleMessageCreate converts inbound Discord messages, dropping the
// bot's own traffic. A full buffer drops the message rather than stalling
// the gateway reader.
func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	msg := &models.Message{
		ID:        m.ID,
		Channel:   models.ChannelDiscord,
		ChannelID: m.ChannelID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   m.Content,
		Metadata: map[string]any{
			"discord_author_id": m.Author.ID,
			"discord_guild_id":  m.GuildID,
		},
		CreatedAt: time.Now().UTC(),
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			ID:       att.ID,
			Type:     "document",
			URL:      att.URL,
			Filename: att.Filename,
			MimeType: att.ContentType,
			Size:     int64(att.Size),
		})
	}

	select {
	case a.messages <- msg:
	default:
		a.logger.Warn("inbound buffer full, dropping message", "channel_id", m.ChannelID)
	}
}
