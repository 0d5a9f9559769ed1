// Package workspace implements the per-conversation runtime: message
// buffer with pruning, state machine, event fan-out, and the manager that
// routes channel traffic to workspaces.
package workspace

import (
	"log/slog"
	"sync"
)

// Handler receives one emission's arguments.
type Handler func(args ...any)

// Subscription identifies a registered handler so it can be removed.
// The zero Subscription is never issued; Off with it is a no-op.
type Subscription struct {
	event string
	id    uint64
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// Emitter is a synchronous observer bus. Handlers for an event run in
// registration order; a panicking handler is logged and skipped, and the
// remaining handlers still run. Emission iterates a local copy, so Off
// during emit is safe.
type Emitter struct {
	mu       sync.Mutex
	logger   *slog.Logger
	nextID   uint64
	handlers map[string][]handlerEntry
}

// NewEmitter creates an event emitter.
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default().With("component", "emitter")
	}
	return &Emitter{
		logger:   logger,
		handlers: make(map[string][]handlerEntry),
	}
}

// On registers a handler and returns its subscription token.
func (e *Emitter) On(event string, fn Handler) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.handlers[event] = append(e.handlers[event], handlerEntry{id: e.nextID, fn: fn})
	return Subscription{event: event, id: e.nextID}
}

// Off removes a subscription. An unknown subscription is a no-op.
func (e *Emitter) Off(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.handlers[sub.event]
	for i, entry := range entries {
		if entry.id == sub.id {
			e.handlers[sub.event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Emit invokes every handler registered for the event, in order.
func (e *Emitter) Emit(event string, args ...any) {
	e.mu.Lock()
	entries := make([]handlerEntry, len(e.handlers[event]))
	copy(entries, e.handlers[event])
	e.mu.Unlock()

	for _, entry := range entries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("event handler panicked", "event", event, "panic", r)
				}
			}()
			entry.fn(args...)
		}()
	}
}
