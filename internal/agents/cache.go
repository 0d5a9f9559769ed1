// Package agents assembles per-user agents and caches them. Assembly is
// expensive (store reads, prompt composition, registry construction), so
// built agents are held in bounded FIFO caches and concurrent builds for
// the same key are coalesced.
package agents

import (
	"sync"
)

const (
	agentCacheCap = 100
	chatCacheCap  = 20
)

// fifoCache is a bounded map that evicts its oldest insertion when full.
// Lookups do not refresh position: assembled agents age out in build order.
type fifoCache[V any] struct {
	cap     int
	entries map[string]V
	order   []string
}

func newFIFOCache[V any](capacity int) *fifoCache[V] {
	return &fifoCache[V]{
		cap:     capacity,
		entries: make(map[string]V),
		order:   make([]string, 0, capacity),
	}
}

func (c *fifoCache[V]) get(key string) (V, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *fifoCache[V]) put(key string, v V) {
	if _, exists := c.entries[key]; exists {
		c.entries[key] = v
		return
	}
	if len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = v
	c.order = append(c.order, key)
}

func (c *fifoCache[V]) remove(key string) {
	if _, exists := c.entries[key]; !exists {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *fifoCache[V]) clear() {
	c.entries = make(map[string]V)
	c.order = c.order[:0]
}

func (c *fifoCache[V]) len() int { return len(c.entries) }

// pendingBuild is a single-flight slot: the first caller builds, everyone
// else waits on done and shares the result.
type pendingBuild[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// singleFlight coalesces concurrent builds per key.
type singleFlight[V any] struct {
	mu      sync.Mutex
	pending map[string]*pendingBuild[V]
}

func newSingleFlight[V any]() *singleFlight[V] {
	return &singleFlight[V]{pending: make(map[string]*pendingBuild[V])}
}

// do runs build for key unless a build is already in flight, in which case
// it waits for and returns that build's result.
func (s *singleFlight[V]) do(key string, build func() (V, error)) (V, error) {
	s.mu.Lock()
	if p, ok := s.pending[key]; ok {
		s.mu.Unlock()
		<-p.done
		return p.val, p.err
	}
	p := &pendingBuild[V]{done: make(chan struct{})}
	s.pending[key] = p
	s.mu.Unlock()

	p.val, p.err = build()

	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
	close(p.done)
	return p.val, p.err
}
