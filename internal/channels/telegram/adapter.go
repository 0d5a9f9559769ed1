// Package telegram bridges Telegram chats into the gateway over long
// polling.
package telegram

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/locushq/locus/internal/channels"
	"github.com/locushq/locus/pkg/models"
)

// client is the slice of the bot API the adapter uses; tests fake it.
type client interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// Config holds the Telegram adapter settings.
type Config struct {
	// Token is the bot token from BotFather.
	Token string

	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("telegram: token is required", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 30 // Telegram's global bot limit
	}
	if c.RateBurst == 0 {
		c.RateBurst = 5
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return nil
}

// Adapter implements channels.Adapter for Telegram.
type Adapter struct {
	config  Config
	limiter *channels.RateLimiter
	logger  *slog.Logger

	mu       sync.RWMutex
	client   client
	status   channels.Status
	messages chan *models.Message
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
		logger:   config.Logger.With("adapter", "telegram"),
		messages: make(chan *models.Message, 100),
	}, nil
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelTelegram }

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
		return channels.ErrInternal("telegram: adapter already started", nil)
	}

	if a.client == nil {
		b, err := bot.New(a.config.Token, bot.WithDefaultHandler(a.handleUpdate))
		if err != nil {
			return channels.ErrAuthentication("telegram: create bot", err)
		}
		a.client = b
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		a.client.Start(pollCtx)
	}()

	a.status = channels.Status{Connected: true, LastPing: time.Now().Unix()}
	a.logger.Info("telegram adapter started")
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
		a.logger.Warn("stop timeout, polling loop still draining")
	}

	a.status.Connected = false
	close(a.messages)
	a.logger.Info("telegram adapter stopped")
	return nil
}

func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	if msg.ChannelID == "" {
		return channels.ErrInvalidInput("telegram: message has no chat id", nil)
	}
	chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return channels.ErrInvalidInput("telegram: chat id is not numeric", err)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return channels.ErrTimeout("telegram: rate limit wait cancelled", err)
	}

	a.mu.RLock()
	connected := a.status.Connected
	cl := a.client
	a.mu.RUnlock()
	if !connected {
		return channels.ErrUnavailable("telegram: adapter not connected", nil)
	}

	if _, err := cl.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: msg.Content}); err != nil {
		return channels.ErrInternal("telegram: send message", err)
	}
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	m := update.Message

	msg := &models.Message{
		ID:        strconv.Itoa(m.ID),
		Channel:   models.ChannelTelegram,
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   m.Text,
		CreatedAt: time.Now().UTC(),
	}
	if m.From != nil {
		msg.Metadata = map[string]any{
			"telegram_user_id":  m.From.ID,
			"telegram_username": m.From.Username,
		}
	}

	select {
	case a.messages <- msg:
	default:
		a.logger.Warn("inbound buffer full, dropping message", "chat_id", msg.ChannelID)
	}
}
