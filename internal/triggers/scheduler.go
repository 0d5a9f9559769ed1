// Package triggers runs persisted automations: cron, interval, and
// one-shot schedules, plus content-matched triggers evaluated after each
// assistant turn.
package triggers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/pkg/models"
)

const defaultRefreshInterval = 30 * time.Second

// Prompter injects a trigger's prompt text into its workspace as a user
// message.
type Prompter interface {
	Prompt(ctx context.Context, trig *models.Trigger) error
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, trig *models.Trigger) error

func (f PrompterFunc) Prompt(ctx context.Context, trig *models.Trigger) error {
	return f(ctx, trig)
}

// PlanRunner starts a stored plan.
type PlanRunner interface {
	Execute(ctx context.Context, planID string) error
}

// PlanRunnerFunc adapts a function to PlanRunner.
type PlanRunnerFunc func(ctx context.Context, planID string) error

func (f PlanRunnerFunc) Execute(ctx context.Context, planID string) error {
	return f(ctx, planID)
}

// Scheduler keeps one cron entry per enabled schedule trigger and re-syncs
// against the store so triggers created or toggled through the tool
// surface are picked up without a restart.
type Scheduler struct {
	store    storage.TriggerStore
	prompter Prompter
	plans    PlanRunner
	logger   *slog.Logger
	cron     *cron.Cron
	refresh  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]scheduledEntry
	started bool
	baseCtx context.Context
	wg      sync.WaitGroup
}

type scheduledEntry struct {
	id          cron.EntryID
	fingerprint string
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "triggers")
		}
	}
}

// WithRefreshInterval overrides how often the scheduler re-reads the store.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.refresh = d
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a trigger scheduler. Prompter and PlanRunner may be
// nil; triggers whose action has no runner fail at fire time and are
// logged rather than dropped.
func NewScheduler(store storage.TriggerStore, prompter Prompter, plans PlanRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		prompter: prompter,
		plans:    plans,
		logger:   slog.Default().With("component", "triggers"),
		cron:     cron.New(),
		refresh:  defaultRefreshInterval,
		now:      time.Now,
		entries:  make(map[string]scheduledEntry),
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start syncs entries and begins firing them until the context is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.baseCtx = ctx
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("initial trigger sync failed", "error", err)
	}
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.cron.Stop()
				return
			case <-ticker.C:
				if err := s.Reload(ctx); err != nil {
					s.logger.Warn("trigger sync failed", "error", err)
				}
			}
		}
	}()
	return nil
}

// Stop waits for the refresh loop and any in-flight firings.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload syncs cron entries with the store's enabled schedule triggers.
// Entries whose kind or expression changed are rescheduled; entries for
// disabled or deleted triggers are removed.
func (s *Scheduler) Reload(ctx context.Context) error {
	if s.store == nil {
		return errors.New("trigger store not configured")
	}
	enabled, err := s.store.ListEnabledTriggers(ctx)
	if err != nil {
		return fmt.Errorf("list enabled triggers: %w", err)
	}

	want := make(map[string]*models.Trigger, len(enabled))
	for _, trig := range enabled {
		want[trig.ID] = trig
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.entries {
		trig, ok := want[id]
		if ok && entry.fingerprint == fingerprint(trig) {
			continue
		}
		s.cron.Remove(entry.id)
		delete(s.entries, id)
	}

	for id, trig := range want {
		if _, ok := s.entries[id]; ok {
			continue
		}
		schedule, err := buildSchedule(trig)
		if err != nil {
			// Validated at creation; a bad stored expression means the
			// record was edited out of band.
			s.logger.Warn("trigger has invalid schedule", "trigger_id", id, "kind", trig.Kind, "error", err)
			continue
		}
		trigID := id
		entryID := s.cron.Schedule(schedule, cron.FuncJob(func() { s.fireByID(trigID) }))
		s.entries[id] = scheduledEntry{id: entryID, fingerprint: fingerprint(trig)}
	}
	return nil
}

// EntryCount reports how many schedule triggers are currently armed.
func (s *Scheduler) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// EvaluateAfterTurn fires the user's enabled content-matched triggers
// whose match substring occurs in the assistant output. Each trigger
// fires at most once per call. Returns the number fired.
func (s *Scheduler) EvaluateAfterTurn(ctx context.Context, userID, output string) int {
	if s.store == nil || strings.TrimSpace(output) == "" {
		return 0
	}
	enabled, err := s.store.ListEnabledTriggers(ctx)
	if err != nil {
		s.logger.Warn("list triggers for content match", "error", err)
		return 0
	}
	lowered := strings.ToLower(output)
	fired := 0
	seen := make(map[string]bool)
	for _, trig := range enabled {
		if trig.UserID != userID || trig.Match == "" || seen[trig.ID] {
			continue
		}
		if !strings.Contains(lowered, strings.ToLower(trig.Match)) {
			continue
		}
		seen[trig.ID] = true
		s.fire(ctx, trig)
		fired++
	}
	return fired
}

// fireByID refetches the trigger before firing so a toggle or payload
// edit between syncs is honored.
func (s *Scheduler) fireByID(id string) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	trig, err := s.store.GetTrigger(ctx, "", id)
	if err != nil {
		s.logger.Warn("scheduled trigger vanished", "trigger_id", id, "error", err)
		return
	}
	if !trig.Enabled {
		return
	}
	s.fire(ctx, trig)
}

func (s *Scheduler) fire(ctx context.Context, trig *models.Trigger) {
	ctx = agent.WithUserID(ctx, trig.UserID)
	var err error
	switch trig.Action {
	case models.TriggerActionPrompt:
		if s.prompter == nil {
			err = errors.New("prompt runner not configured")
		} else {
			err = s.prompter.Prompt(ctx, trig)
		}
	case models.TriggerActionPlan:
		if s.plans == nil {
			err = errors.New("plan runner not configured")
		} else {
			err = s.plans.Execute(ctx, trig.Payload)
		}
	default:
		err = fmt.Errorf("unsupported trigger action %q", trig.Action)
	}
	if err != nil {
		s.logger.Warn("trigger fire failed", "trigger_id", trig.ID, "name", trig.Name, "action", trig.Action, "error", err)
	} else {
		s.logger.Info("trigger fired", "trigger_id", trig.ID, "name", trig.Name, "action", trig.Action)
	}
	s.markFired(ctx, trig)
}

// markFired records lastFiredAt and retires one-shot triggers. Best
// effort: a store failure is logged and the schedule keeps running.
func (s *Scheduler) markFired(ctx context.Context, trig *models.Trigger) {
	now := s.now().UTC()
	trig.LastFiredAt = &now
	if trig.Kind == models.TriggerOnce {
		trig.Enabled = false
	}
	if err := s.store.UpdateTrigger(ctx, trig); err != nil {
		s.logger.Warn("trigger fire not recorded", "trigger_id", trig.ID, "error", err)
	}
}

func fingerprint(trig *models.Trigger) string {
	return string(trig.Kind) + "\x00" + trig.Expr
}

// buildSchedule maps a trigger kind to a cron schedule. Interval triggers
// use a constant delay; once triggers use a schedule that never repeats.
func buildSchedule(trig *models.Trigger) (cron.Schedule, error) {
	switch trig.Kind {
	case models.TriggerCron:
		return cron.ParseStandard(trig.Expr)
	case models.TriggerInterval:
		d, err := time.ParseDuration(trig.Expr)
		if err != nil {
			return nil, fmt.Errorf("parse interval: %w", err)
		}
		if d < time.Second {
			return nil, fmt.Errorf("interval %s below one second", trig.Expr)
		}
		return cron.Every(d), nil
	case models.TriggerOnce:
		at, err := time.Parse(time.RFC3339, trig.Expr)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		return onceSchedule{at: at}, nil
	default:
		return nil, fmt.Errorf("unknown trigger kind %q", trig.Kind)
	}
}

// onceSchedule fires at a fixed instant and never again. The zero time
// return tells the cron runner there is no next activation.
type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if o.at.After(t) {
		return o.at
	}
	return time.Time{}
}
