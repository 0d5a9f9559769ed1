// Package usage records provider token accounting. Exactly one record is
// written per chat turn; recording is best-effort and never fails the turn.
package usage

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/pkg/models"
)

// Request types for usage rows.
const (
	RequestChat     = "chat"
	RequestDecision = "decision"
	RequestTrigger  = "trigger"
)

// Tracker persists usage rows.
type Tracker struct {
	store  storage.UsageStore
	logger *slog.Logger
}

// NewTracker creates a usage tracker. A nil store disables persistence.
func NewTracker(store storage.UsageStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{store: store, logger: logger.With("component", "usage")}
}

// Turn describes one completed (or failed) provider turn.
type Turn struct {
	UserID      string
	SessionID   string
	Provider    string
	Model       string
	Usage       models.Usage
	Latency     time.Duration
	RequestType string
	Err         error
}

// Record writes one usage row. Failures are logged and swallowed: token
// accounting must never break a chat turn. Error rows drop the session id
// so failed turns stay distinguishable from attributable ones.
func (t *Tracker) Record(ctx context.Context, turn Turn) {
	if t.store == nil {
		return
	}
	rec := &models.UsageRecord{
		ID:           uuid.NewString(),
		UserID:       turn.UserID,
		SessionID:    turn.SessionID,
		Provider:     turn.Provider,
		Model:        turn.Model,
		InputTokens:  turn.Usage.InputTokens,
		OutputTokens: turn.Usage.OutputTokens,
		TotalTokens:  turn.Usage.InputTokens + turn.Usage.OutputTokens,
		LatencyMS:    turn.Latency.Milliseconds(),
		RequestType:  turn.RequestType,
		CreatedAt:    time.Now().UTC(),
	}
	if rec.RequestType == "" {
		rec.RequestType = RequestChat
	}
	if turn.Err != nil {
		rec.Error = turn.Err.Error()
		rec.SessionID = ""
	}
	if err := t.store.InsertUsage(ctx, rec); err != nil {
		t.logger.Warn("usage row not recorded",
			"user_id", turn.UserID,
			"provider", turn.Provider,
			"error", err)
	}
}
