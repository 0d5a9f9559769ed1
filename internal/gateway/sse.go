package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/locushq/locus/internal/observability"
)

// sseWriter serialises server-sent events onto one response. Write errors
// are swallowed: a disconnected client must not abort the turn, which
// still has to persist its message and record usage.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger
	metrics *observability.Metrics
}

// newSSEWriter prepares the response for streaming. Returns an error when
// the ResponseWriter cannot flush, which no SSE client can work with.
func newSSEWriter(w http.ResponseWriter, logger *slog.Logger, metrics *observability.Metrics) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher, logger: logger, metrics: metrics}, nil
}

// writeEvent emits one event frame and flushes. Marshal and write failures
// are logged at debug and otherwise dropped.
func (s *sseWriter) writeEvent(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("sse payload not serialisable", "event", event, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.logger.Debug("sse write dropped", "event", event, "error", err)
		return
	}
	s.flusher.Flush()
	if s.metrics != nil {
		s.metrics.RecordSSEEvent(event)
	}
}
