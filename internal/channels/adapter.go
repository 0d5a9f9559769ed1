// Package channels defines the adapter contract for messaging platforms
// and the registry that aggregates their traffic onto the workspace bus.
package channels

import (
	"context"
	"sync"

	"github.com/locushq/locus/pkg/models"
)

// Adapter is one messaging platform connection.
type Adapter interface {
	// Start connects and begins receiving. It returns once the adapter is
	// listening; inbound traffic arrives on Messages.
	Start(ctx context.Context) error

	// Stop shuts the adapter down. The Messages channel is closed.
	Stop(ctx context.Context) error

	// Send delivers an outbound message. The target is msg.ChannelID.
	Send(ctx context.Context, msg *models.Message) error

	// Messages is the inbound stream. Closed on Stop.
	Messages() <-chan *models.Message

	Type() models.ChannelType

	Status() Status
}

// Status is an adapter's connection snapshot.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"`
}

// Registry holds the configured adapters, one per channel type.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ChannelType]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.ChannelType]Adapter)}
}

// Register adds an adapter, replacing any previous one of the same type.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	r.adapters[adapter.Type()] = adapter
	r.mu.Unlock()
}

func (r *Registry) Get(channelType models.ChannelType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[channelType]
	return adapter, ok
}

func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	return adapters
}

// StartAll starts every adapter, stopping the ones already started if a
// later one fails.
func (r *Registry) StartAll(ctx context.Context) error {
	var started []Adapter
	for _, adapter := range r.All() {
		if err := adapter.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop(ctx)
			}
			return err
		}
		started = append(started, adapter)
	}
	return nil
}

// StopAll stops every adapter, returning the last error seen.
func (r *Registry) StopAll(ctx context.Context) error {
	var lastErr error
	for _, adapter := range r.All() {
		if err := adapter.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Aggregate fans every adapter's inbound stream into one channel. The
// returned channel closes when the context ends and all pumps drain.
func (r *Registry) Aggregate(ctx context.Context) <-chan *models.Message {
	out := make(chan *models.Message)
	var wg sync.WaitGroup

	for _, adapter := range r.All() {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-a.Messages():
					if !ok {
						return
					}
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}(adapter)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
