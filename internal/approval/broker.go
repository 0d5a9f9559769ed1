package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/pkg/models"
)

var (
	// ErrAlreadyResolved is returned when a decision arrives for a request
	// that is no longer pending.
	ErrAlreadyResolved = errors.New("approval request already resolved")
	// ErrExpired is returned when a decision arrives after the TTL.
	ErrExpired = errors.New("approval request expired")
)

const (
	// DefaultTTL bounds how long a prompt waits for a decision.
	DefaultTTL = 5 * time.Minute
	// defaultSweepInterval drives the background pruning of resolved rows
	// and stale remember-window entries.
	defaultSweepInterval = time.Minute
	// defaultRetention keeps resolved requests queryable for a while
	// before the sweep deletes them.
	defaultRetention = time.Hour
)

const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// BrokerConfig tunes broker timings; zero values take the defaults above.
type BrokerConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Retention     time.Duration
}

// Broker owns approvalId issuance, the waiter table that parks turns until
// the decision endpoint answers, and the remember-window cache. One broker
// serves both the tool gate and plan approval steps.
type Broker struct {
	store  storage.ApprovalStore
	logger *slog.Logger
	cfg    BrokerConfig

	mu         sync.Mutex
	waiters    map[string]chan models.ApprovalDecision
	remembered map[string]time.Time // userID\x00actionType → valid-until

	stopOnce sync.Once
	stop     chan struct{}
}

// NewBroker creates an approval broker over the store.
func NewBroker(store storage.ApprovalStore, logger *slog.Logger, cfg BrokerConfig) *Broker {
	if logger == nil {
		logger = slog.Default().With("component", "approval-broker")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	return &Broker{
		store:      store,
		logger:     logger,
		cfg:        cfg,
		waiters:    make(map[string]chan models.ApprovalDecision),
		remembered: make(map[string]time.Time),
		stop:       make(chan struct{}),
	}
}

// Start launches the expiry sweep. Stop with Close.
func (b *Broker) Start() {
	go func() {
		ticker := time.NewTicker(b.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				b.sweep(context.Background())
			}
		}
	}()
}

// Close stops the sweep goroutine.
func (b *Broker) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// Request persists a fresh pending request and registers its waiter.
// Fills ID, Status, CreatedAt and ExpiresAt on the passed request.
func (b *Broker) Request(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now()
	req.Status = models.ApprovalPending
	req.CreatedAt = now
	req.ExpiresAt = now.Add(b.cfg.TTL)

	if err := b.store.CreateApproval(ctx, req); err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}

	b.mu.Lock()
	b.waiters[req.ID] = make(chan models.ApprovalDecision, 1)
	b.mu.Unlock()
	return nil
}

// Await blocks until the request is resolved, the TTL passes, or the
// context ends. Timeouts and cancellations deny.
func (b *Broker) Await(ctx context.Context, approvalID string) (approved bool, reason string) {
	b.mu.Lock()
	ch, ok := b.waiters[approvalID]
	b.mu.Unlock()
	if !ok {
		return false, "unknown approval request"
	}
	defer func() {
		b.mu.Lock()
		delete(b.waiters, approvalID)
		b.mu.Unlock()
	}()

	timer := time.NewTimer(b.cfg.TTL)
	defer timer.Stop()
	select {
	case decision := <-ch:
		if decision.Decision == DecisionApproved {
			return true, "approved by user"
		}
		return false, "rejected by user"
	case <-ctx.Done():
		return false, "approval cancelled"
	case <-timer.C:
		b.expire(approvalID)
		return false, "approval timed out"
	}
}

// Resolve delivers the decision from POST /v1/approvals/{id}. Approved
// decisions with rememberFor > 0 are cached per (user, actionType);
// rejections are never cached.
func (b *Broker) Resolve(ctx context.Context, approvalID string, decision models.ApprovalDecision) error {
	req, err := b.store.GetApproval(ctx, approvalID)
	if err != nil {
		return fmt.Errorf("resolve approval %s: %w", approvalID, err)
	}
	if req.Status != models.ApprovalPending {
		return fmt.Errorf("approval %s is %s: %w", approvalID, req.Status, ErrAlreadyResolved)
	}

	now := time.Now()
	if !req.ExpiresAt.IsZero() && req.ExpiresAt.Before(now) {
		req.Status = models.ApprovalExpired
		req.ResolvedAt = &now
		if uerr := b.store.UpdateApproval(ctx, req); uerr != nil {
			b.logger.Warn("expire approval", "approval_id", approvalID, "error", uerr)
		}
		return fmt.Errorf("approval %s: %w", approvalID, ErrExpired)
	}

	switch decision.Decision {
	case DecisionApproved:
		req.Status = models.ApprovalApproved
		if decision.RememberFor > 0 {
			b.remember(req.UserID, req.ActionType, time.Duration(decision.RememberFor)*time.Second)
		}
	case DecisionRejected:
		req.Status = models.ApprovalRejected
	default:
		return fmt.Errorf("unknown decision %q", decision.Decision)
	}
	req.ResolvedAt = &now
	if err := b.store.UpdateApproval(ctx, req); err != nil {
		return fmt.Errorf("store approval decision: %w", err)
	}

	b.mu.Lock()
	ch, ok := b.waiters[approvalID]
	b.mu.Unlock()
	if ok {
		select {
		case ch <- decision:
		default:
		}
	}
	b.logger.Info("approval resolved",
		"approval_id", approvalID,
		"user_id", req.UserID,
		"decision", decision.Decision,
		"remember_for", decision.RememberFor)
	return nil
}

// Remembered reports whether an earlier approval for (user, actionType)
// is still inside its remember window.
func (b *Broker) Remembered(userID, actionType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.remembered[rememberKey(userID, actionType)]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(b.remembered, rememberKey(userID, actionType))
		return false
	}
	return true
}

func (b *Broker) remember(userID, actionType string, window time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remembered[rememberKey(userID, actionType)] = time.Now().Add(window)
}

func (b *Broker) expire(approvalID string) {
	ctx := context.Background()
	req, err := b.store.GetApproval(ctx, approvalID)
	if err != nil || req.Status != models.ApprovalPending {
		return
	}
	now := time.Now()
	req.Status = models.ApprovalExpired
	req.ResolvedAt = &now
	if err := b.store.UpdateApproval(ctx, req); err != nil {
		b.logger.Warn("expire approval", "approval_id", approvalID, "error", err)
	}
}

// sweep prunes resolved rows past retention and drops stale remember
// entries. Waiters handle their own expiry via the Await timer.
func (b *Broker) sweep(ctx context.Context) {
	pruned, err := b.store.PruneApprovals(ctx, time.Now().Add(-b.cfg.Retention))
	if err != nil {
		b.logger.Warn("prune approvals", "error", err)
	} else if pruned > 0 {
		b.logger.Debug("pruned approvals", "count", pruned)
	}

	now := time.Now()
	b.mu.Lock()
	for key, until := range b.remembered {
		if now.After(until) {
			delete(b.remembered, key)
		}
	}
	b.mu.Unlock()
}

func rememberKey(userID, actionType string) string {
	return userID + "\x00" + actionType
}
