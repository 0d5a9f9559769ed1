package channels

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/locushq/locus/internal/workspace"
	"github.com/locushq/locus/pkg/models"
)

// stopTimeout bounds adapter shutdown once the run context ends.
const stopTimeout = 10 * time.Second

// Bridge pumps aggregated adapter traffic onto the workspace bus and
// routes outbound replies back to the adapter whose channel they belong
// to. One adapter's stall or failure never blocks the others.
type Bridge struct {
	registry *Registry
	bus      *workspace.Emitter
	logger   *slog.Logger

	mu     sync.RWMutex
	routes map[string]models.ChannelType // channelID → adapter type, learned from inbound traffic
	wg     sync.WaitGroup
}

func NewBridge(registry *Registry, bus *workspace.Emitter, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bridge{
		registry: registry,
		bus:      bus,
		logger:   logger.With("component", "channel-bridge"),
		routes:   make(map[string]models.ChannelType),
	}
}

// Run starts the adapters and pumps inbound messages until the context
// ends, then stops them.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.registry.StartAll(ctx); err != nil {
		return fmt.Errorf("start channel adapters: %w", err)
	}

	inbound := b.registry.Aggregate(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range inbound {
			b.deliver(msg)
		}
	}()

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := b.registry.StopAll(stopCtx)
	b.wg.Wait()
	return err
}

// SendFunc returns the workspace send hook: replies go out through the
// adapter the channel's inbound traffic arrived on.
func (b *Bridge) SendFunc(channelID string) workspace.SendFunc {
	b.mu.RLock()
	channelType, ok := b.routes[channelID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	adapter, ok := b.registry.Get(channelType)
	if !ok {
		return nil
	}
	return func(ctx context.Context, channelID, text string) error {
		return adapter.Send(ctx, &models.Message{
			ChannelID: channelID,
			Channel:   adapter.Type(),
			Direction: models.DirectionOutbound,
			Role:      models.RoleAssistant,
			Content:   text,
		})
	}
}

func (b *Bridge) deliver(msg *models.Message) {
	if msg == nil || msg.ChannelID == "" {
		return
	}
	b.mu.Lock()
	b.routes[msg.ChannelID] = msg.Channel
	b.mu.Unlock()

	b.logger.Debug("inbound channel message",
		"channel", msg.Channel,
		"channel_id", msg.ChannelID)
	b.bus.Emit(workspace.EventChannelMessage, msg.ChannelID, msg)
}
