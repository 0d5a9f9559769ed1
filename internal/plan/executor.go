package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/locushq/locus/internal/observability"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/pkg/models"
)

// Config tunes executor timings. The defaults match production behavior;
// tests shrink them to keep retries and stall detection fast.
type Config struct {
	// DefaultStepTimeout bounds a handler invocation when the step has
	// no TimeoutMS. Default: 60s.
	DefaultStepTimeout time.Duration

	// StallSleep is the wait between iterations with no runnable step.
	// Default: 1s.
	StallSleep time.Duration

	// MaxStalls is how many consecutive stalled iterations trigger
	// deadlock detection. Default: 3.
	MaxStalls int

	// BackoffFunc maps a retry attempt to its delay. Default: Backoff
	// (min(1s·2^k, 30s)).
	BackoffFunc func(attempt int) time.Duration

	// Tracer, when set, records a span per plan run and per step.
	Tracer *observability.Tracer
}

func (c *Config) withDefaults() Config {
	cfg := Config{}
	if c != nil {
		cfg = *c
	}
	if cfg.DefaultStepTimeout <= 0 {
		cfg.DefaultStepTimeout = 60 * time.Second
	}
	if cfg.StallSleep <= 0 {
		cfg.StallSleep = time.Second
	}
	if cfg.MaxStalls <= 0 {
		cfg.MaxStalls = 3
	}
	if cfg.BackoffFunc == nil {
		cfg.BackoffFunc = Backoff
	}
	return cfg
}

// runHandle is the per-plan cancellation handle held in the running map.
// The plan holding it is the single writer of that plan's step statuses.
type runHandle struct {
	cancel chan struct{}
	once   sync.Once
}

func (h *runHandle) abort() {
	h.once.Do(func() { close(h.cancel) })
}

func (h *runHandle) aborted() bool {
	select {
	case <-h.cancel:
		return true
	default:
		return false
	}
}

// Executor drives plans to quiescence. One executor serves the whole
// process; per-plan runtime state lives in the running and paused maps.
type Executor struct {
	store  storage.PlanStore
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex
	running  map[string]*runHandle
	paused   map[string]struct{}
	handlers map[models.StepType]Handler

	lmu       sync.Mutex
	listeners []Listener
}

// NewExecutor creates a plan executor over the store. Built-in handlers are
// NOT registered here; call RegisterBuiltins with the executor's
// collaborators.
func NewExecutor(store storage.PlanStore, logger *slog.Logger, cfg *Config) *Executor {
	if logger == nil {
		logger = slog.Default().With("component", "plan-executor")
	}
	return &Executor{
		store:    store,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		running:  make(map[string]*runHandle),
		paused:   make(map[string]struct{}),
		handlers: make(map[models.StepType]Handler),
	}
}

// RegisterHandler installs or replaces the handler for a step type.
func (e *Executor) RegisterHandler(stepType models.StepType, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[stepType] = handler
}

// Subscribe adds an execution event listener.
func (e *Executor) Subscribe(listener Listener) {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	e.listeners = append(e.listeners, listener)
}

// IsRunning reports whether the plan currently holds a running entry.
func (e *Executor) IsRunning(planID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[planID]
	return ok
}

// IsPaused reports whether the plan is in the paused set.
func (e *Executor) IsPaused(planID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.paused[planID]
	return ok
}

// RunningPlans returns a sorted snapshot of running plan ids.
func (e *Executor) RunningPlans() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Pause cooperatively pauses a running plan. The loop observes the paused
// set at the top of each iteration and at every suspension point. Returns
// false when the plan is not running.
func (e *Executor) Pause(planID string) bool {
	e.mu.Lock()
	if _, ok := e.running[planID]; !ok {
		e.mu.Unlock()
		return false
	}
	e.paused[planID] = struct{}{}
	e.mu.Unlock()

	ctx := context.Background()
	plan, err := e.store.GetPlan(ctx, "", planID)
	if err != nil {
		e.logger.Warn("pause: fetch plan", "plan_id", planID, "error", err)
		return true
	}
	plan.Status = models.PlanPaused
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		e.logger.Warn("pause: update plan", "plan_id", planID, "error", err)
	}
	return true
}

// Resume re-enters Execute for a paused plan. Only valid from paused.
func (e *Executor) Resume(ctx context.Context, planID string) (*Result, error) {
	plan, err := e.store.GetPlan(ctx, "", planID)
	if err != nil {
		return nil, fmt.Errorf("resume plan %s: %w", planID, err)
	}
	if plan.Status != models.PlanPaused {
		return nil, fmt.Errorf("resume plan %s from %s: %w", planID, plan.Status, ErrIllegalState)
	}
	e.mu.Lock()
	delete(e.paused, planID)
	e.mu.Unlock()
	return e.Execute(ctx, planID)
}

// Abort signals cancellation. The flag is checked at the top of each loop
// iteration only; the in-flight step is never interrupted mid-handler.
// Returns false when the plan is not running.
func (e *Executor) Abort(planID string) bool {
	e.mu.Lock()
	handle, ok := e.running[planID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	handle.abort()
	return true
}

// Checkpoint stores an opaque {timestamp, data} blob on the plan and emits
// a checkpoint event. The executor never interprets the data.
func (e *Executor) Checkpoint(ctx context.Context, planID string, data any) error {
	plan, err := e.store.GetPlan(ctx, "", planID)
	if err != nil {
		return fmt.Errorf("checkpoint plan %s: %w", planID, err)
	}
	blob, err := json.Marshal(models.Checkpoint{Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	plan.Checkpoint = string(blob)
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	e.emit(ctx, Event{Type: EventCheckpoint, PlanID: planID})
	return nil
}

// RestoreFromCheckpoint returns the parsed checkpoint blob, or nil when
// the plan has none or the blob is malformed.
func (e *Executor) RestoreFromCheckpoint(ctx context.Context, planID string) (*models.Checkpoint, error) {
	plan, err := e.store.GetPlan(ctx, "", planID)
	if err != nil {
		return nil, fmt.Errorf("restore plan %s: %w", planID, err)
	}
	if plan.Checkpoint == "" {
		return nil, nil
	}
	var cp models.Checkpoint
	if err := json.Unmarshal([]byte(plan.Checkpoint), &cp); err != nil {
		return nil, nil
	}
	return &cp, nil
}

// Execute drives the plan to quiescence and returns a structured result.
// Fails with ErrAlreadyRunning when the plan holds a running entry.
func (e *Executor) Execute(ctx context.Context, planID string) (res *Result, err error) {
	if e.cfg.Tracer != nil {
		var span trace.Span
		ctx, span = e.cfg.Tracer.TracePlanExecution(ctx, planID)
		defer func() {
			e.cfg.Tracer.RecordError(span, err)
			span.End()
		}()
	}

	e.mu.Lock()
	if _, ok := e.running[planID]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("plan %s: %w", planID, ErrAlreadyRunning)
	}
	handle := &runHandle{cancel: make(chan struct{})}
	e.running[planID] = handle
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, planID)
		e.mu.Unlock()
	}()

	start := time.Now()
	plan, err := e.store.GetPlan(ctx, "", planID)
	if err != nil {
		return nil, fmt.Errorf("execute plan %s: %w", planID, err)
	}

	now := time.Now()
	plan.Status = models.PlanRunning
	plan.Error = ""
	if plan.StartedAt == nil {
		plan.StartedAt = &now
	}
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("start plan %s: %w", planID, err)
	}
	e.emit(ctx, Event{Type: EventPlanStarted, PlanID: planID})
	e.logger.Info("plan execution started", "plan_id", planID, "name", plan.Name)

	results, err := e.seedResults(ctx, planID)
	if err != nil {
		return nil, err
	}

	paused, runErr := e.loop(ctx, handle, planID, results)
	return e.finish(ctx, planID, start, results, paused, runErr)
}

// seedResults reloads results of already-completed steps so a resumed plan
// keeps its progress.
func (e *Executor) seedResults(ctx context.Context, planID string) (map[string]any, error) {
	results := make(map[string]any)
	completed, err := e.store.GetStepsByStatus(ctx, planID, models.StepCompleted)
	if err != nil {
		return nil, fmt.Errorf("load completed steps: %w", err)
	}
	for _, step := range completed {
		if step.Result == "" {
			continue
		}
		var data any
		if err := json.Unmarshal([]byte(step.Result), &data); err != nil {
			data = step.Result
		}
		results[step.ID] = data
	}
	return results, nil
}

// finish writes the plan's terminal (or paused) state and builds the Result.
func (e *Executor) finish(ctx context.Context, planID string, start time.Time, results map[string]any, paused bool, runErr error) (*Result, error) {
	res := &Result{
		PlanID:   planID,
		Duration: time.Since(start),
		Results:  results,
	}
	if completed, err := e.store.GetStepsByStatus(ctx, planID, models.StepCompleted); err == nil {
		res.CompletedSteps = len(completed)
	}

	plan, err := e.store.GetPlan(ctx, "", planID)
	if err != nil {
		// Plan deleted mid-run: nothing left to update.
		res.Status = models.PlanFailed
		res.Error = ErrPlanDeleted.Error()
		if runErr == nil {
			runErr = ErrPlanDeleted
		}
		return res, runErr
	}
	res.TotalSteps = plan.TotalSteps

	switch {
	case paused:
		plan.Status = models.PlanPaused
		if err := e.store.UpdatePlan(ctx, plan); err != nil {
			e.logger.Warn("pause plan", "plan_id", planID, "error", err)
		}
		res.Status = models.PlanPaused
		e.logger.Info("plan paused", "plan_id", planID)
		return res, nil

	case runErr == nil:
		now := time.Now()
		plan.Status = models.PlanCompleted
		plan.CompletedAt = &now
		plan.Progress = 100
		if err := e.store.UpdatePlan(ctx, plan); err != nil {
			return res, fmt.Errorf("complete plan %s: %w", planID, err)
		}
		res.Status = models.PlanCompleted
		e.emit(ctx, Event{Type: EventPlanCompleted, PlanID: planID})
		e.logger.Info("plan completed", "plan_id", planID, "duration", res.Duration)
		return res, nil

	case errors.Is(runErr, ErrAborted):
		now := time.Now()
		plan.Status = models.PlanCancelled
		plan.CompletedAt = &now
		plan.Error = runErr.Error()
		if err := e.store.UpdatePlan(ctx, plan); err != nil {
			e.logger.Warn("cancel plan", "plan_id", planID, "error", err)
		}
		res.Status = models.PlanCancelled
		res.Error = runErr.Error()
		e.emit(ctx, Event{Type: EventPlanFailed, PlanID: planID, Payload: map[string]any{"status": "cancelled"}})
		e.logger.Info("plan aborted", "plan_id", planID)
		return res, runErr

	default:
		now := time.Now()
		plan.Status = models.PlanFailed
		plan.CompletedAt = &now
		plan.Error = runErr.Error()
		if err := e.store.UpdatePlan(ctx, plan); err != nil {
			e.logger.Warn("fail plan", "plan_id", planID, "error", err)
		}
		res.Status = models.PlanFailed
		res.Error = runErr.Error()
		e.emit(ctx, Event{Type: EventPlanFailed, PlanID: planID, Payload: map[string]any{"error": runErr.Error()}})
		e.logger.Error("plan failed", "plan_id", planID, "error", runErr)
		return res, runErr
	}
}

// loop is the main execution loop. It returns paused=true when the plan
// entered the paused set, nil error on quiescence, or the failure that
// should terminate the plan.
func (e *Executor) loop(ctx context.Context, handle *runHandle, planID string, results map[string]any) (bool, error) {
	stallCount := 0
	for {
		// Yield one scheduling quantum so long plans never starve the
		// rest of the process.
		runtime.Gosched()

		if err := ctx.Err(); err != nil {
			return false, err
		}
		if handle.aborted() {
			return false, ErrAborted
		}
		if e.IsPaused(planID) {
			return true, nil
		}

		next, err := e.store.GetNextStep(ctx, planID)
		if errors.Is(err, storage.ErrNotFound) {
			// Quiescence: no pending steps remain.
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("fetch next step: %w", err)
		}

		met, err := e.store.AreDependenciesMet(ctx, next)
		if err != nil {
			return false, fmt.Errorf("check dependencies: %w", err)
		}
		if !met {
			next, err = e.findRunnableStep(ctx, planID)
			if err != nil {
				return false, err
			}
			if next == nil {
				stallCount++
				if stallCount >= e.cfg.MaxStalls {
					if err := e.markDeadlocked(ctx, planID); err != nil {
						return false, err
					}
					return false, ErrDeadlock
				}
				if err := e.sleep(ctx, handle, e.cfg.StallSleep); err != nil {
					return false, err
				}
				continue
			}
		}
		stallCount = 0

		outcome, err := e.executeStep(ctx, handle, planID, next, results)
		if err != nil {
			return false, err
		}
		if _, perr := e.store.RecalculateProgress(ctx, planID); perr != nil {
			e.logger.Warn("recalculate progress", "plan_id", planID, "error", perr)
		}
		if outcome != nil && (outcome.ShouldPause || outcome.RequiresApproval) {
			if err := e.pauseForStep(ctx, planID, next, outcome); err != nil {
				return false, err
			}
			return true, nil
		}
	}
}

// findRunnableStep scans all pending steps for one whose dependencies are
// met; nil when every pending step is blocked on its dependencies.
func (e *Executor) findRunnableStep(ctx context.Context, planID string) (*models.Step, error) {
	pending, err := e.store.GetStepsByStatus(ctx, planID, models.StepPending)
	if err != nil {
		return nil, fmt.Errorf("scan pending steps: %w", err)
	}
	for _, step := range pending {
		met, err := e.store.AreDependenciesMet(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("check dependencies: %w", err)
		}
		if met {
			return step, nil
		}
	}
	return nil, nil
}

// markDeadlocked marks every pending step with unmet dependencies blocked.
func (e *Executor) markDeadlocked(ctx context.Context, planID string) error {
	pending, err := e.store.GetStepsByStatus(ctx, planID, models.StepPending)
	if err != nil {
		return fmt.Errorf("scan pending steps: %w", err)
	}
	for _, step := range pending {
		met, err := e.store.AreDependenciesMet(ctx, step)
		if err != nil {
			return fmt.Errorf("check dependencies: %w", err)
		}
		if met {
			continue
		}
		step.Status = models.StepBlocked
		step.Error = ErrDeadlock.Error()
		if err := e.store.UpdateStep(ctx, step); err != nil {
			return fmt.Errorf("block step %s: %w", step.ID, err)
		}
	}
	return nil
}

// pauseForStep records the paused state requested by a step's flags.
func (e *Executor) pauseForStep(ctx context.Context, planID string, step *models.Step, outcome *StepResult) error {
	e.mu.Lock()
	e.paused[planID] = struct{}{}
	e.mu.Unlock()

	plan, err := e.store.GetPlan(ctx, "", planID)
	if err != nil {
		return fmt.Errorf("pause plan %s: %w", planID, err)
	}
	plan.Status = models.PlanPaused
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		return fmt.Errorf("pause plan %s: %w", planID, err)
	}
	if outcome.RequiresApproval {
		e.emit(ctx, Event{
			Type:   EventApprovalRequired,
			PlanID: planID,
			StepID: step.ID,
			Payload: map[string]any{
				"step_name": step.Name,
			},
		})
	}
	return nil
}

// executeStep runs one step through its handler: timeout, retry/backoff,
// branching and failure policy. A nil error means the loop continues; the
// returned StepResult carries pause flags when the step completed.
func (e *Executor) executeStep(ctx context.Context, handle *runHandle, planID string, step *models.Step, results map[string]any) (outcome *StepResult, err error) {
	if e.cfg.Tracer != nil {
		var span trace.Span
		ctx, span = e.cfg.Tracer.TracePlanStep(ctx, planID, step.ID, string(step.Type))
		defer func() {
			e.cfg.Tracer.RecordError(span, err)
			span.End()
		}()
	}

	// Refetch the plan: deletion mid-run must fail loudly, not run steps
	// of a plan the owner removed.
	plan, err := e.store.GetPlan(ctx, "", planID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrPlanDeleted
	}
	if err != nil {
		return nil, fmt.Errorf("refetch plan: %w", err)
	}

	e.mu.Lock()
	handler, ok := e.handlers[step.Type]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("step %s type %q: %w", step.ID, step.Type, ErrUnknownStepType)
	}

	step.Status = models.StepRunning
	step.Error = ""
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return nil, fmt.Errorf("mark step running: %w", err)
	}
	plan.CurrentStep = step.OrderNum
	if err := e.store.UpdatePlan(ctx, plan); err != nil {
		e.logger.Warn("record current step", "plan_id", planID, "error", err)
	}
	e.emit(ctx, Event{Type: EventStepStarted, PlanID: planID, StepID: step.ID, Payload: map[string]any{"name": step.Name}})

	hctx := HandlerContext{
		Plan:            plan,
		Step:            step,
		PreviousResults: results,
		Signal:          handle.cancel,
	}
	timeout := e.cfg.DefaultStepTimeout
	if step.TimeoutMS > 0 {
		timeout = time.Duration(step.TimeoutMS) * time.Millisecond
	}

	started := time.Now()
	outcome, handlerErr := runWithTimeout(ctx, handler, hctx, timeout)
	duration := time.Since(started)

	if handlerErr == nil && outcome != nil && outcome.Success {
		results[step.ID] = outcome.Data
		step.Status = models.StepCompleted
		step.Result = encodeResult(outcome.Data)
		step.DurationMS = duration.Milliseconds()
		if err := e.store.UpdateStep(ctx, step); err != nil {
			return nil, fmt.Errorf("mark step completed: %w", err)
		}
		e.emit(ctx, Event{Type: EventStepCompleted, PlanID: planID, StepID: step.ID, Payload: map[string]any{"duration_ms": step.DurationMS}})

		if outcome.NextStep != "" {
			if err := e.skipBetween(ctx, planID, step.OrderNum, outcome.NextStep, "Skipped due to condition branch"); err != nil {
				return nil, err
			}
		}
		return outcome, nil
	}

	// Failure, handler error or timeout: retry while budget remains.
	failMsg := "step handler failed"
	switch {
	case handlerErr != nil:
		failMsg = handlerErr.Error()
	case outcome != nil && outcome.Error != "":
		failMsg = outcome.Error
	}

	if step.RetryCount < step.MaxRetries {
		delay := e.cfg.BackoffFunc(step.RetryCount)
		step.RetryCount++
		step.Status = models.StepPending
		step.Error = failMsg
		if err := e.store.UpdateStep(ctx, step); err != nil {
			return nil, fmt.Errorf("requeue step for retry: %w", err)
		}
		e.logger.Warn("step failed, retrying",
			"plan_id", planID,
			"step_id", step.ID,
			"attempt", step.RetryCount,
			"backoff", delay,
			"error", failMsg)
		if err := e.sleep(ctx, handle, delay); err != nil {
			return nil, err
		}
		return nil, nil
	}

	step.Status = models.StepFailed
	step.Error = failMsg
	step.DurationMS = duration.Milliseconds()
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return nil, fmt.Errorf("mark step failed: %w", err)
	}
	e.emit(ctx, Event{Type: EventStepFailed, PlanID: planID, StepID: step.ID, Payload: map[string]any{"error": failMsg}})

	switch step.OnFailure {
	case models.OnFailureSkip:
		e.logger.Warn("step failed, skipping per policy", "plan_id", planID, "step_id", step.ID, "error", failMsg)
		return nil, nil
	case "", models.OnFailureAbort:
		return nil, fmt.Errorf("step %s failed: %s", step.Name, failMsg)
	default:
		// Jump target: skip pending steps between here and the target so
		// the normal ordering picks the target up next.
		if err := e.skipBetween(ctx, planID, step.OrderNum, step.OnFailure, "Skipped due to failure jump"); err != nil {
			return nil, err
		}
		e.logger.Warn("step failed, jumping per policy",
			"plan_id", planID,
			"step_id", step.ID,
			"target", step.OnFailure,
			"error", failMsg)
		return nil, nil
	}
}

// skipBetween marks every pending step with order strictly between the
// current order and the target step skipped.
func (e *Executor) skipBetween(ctx context.Context, planID string, fromOrder int, targetID, reason string) error {
	steps, err := e.store.GetSteps(ctx, planID)
	if err != nil {
		return fmt.Errorf("load steps for branch: %w", err)
	}
	var target *models.Step
	for _, st := range steps {
		if st.ID == targetID {
			target = st
			break
		}
	}
	if target == nil {
		e.logger.Warn("branch target not found", "plan_id", planID, "target", targetID)
		return nil
	}
	lo, hi := fromOrder, target.OrderNum
	if hi < lo {
		lo, hi = hi, lo
	}
	for _, st := range steps {
		if st.Status != models.StepPending || st.OrderNum <= lo || st.OrderNum >= hi {
			continue
		}
		st.Status = models.StepSkipped
		st.Error = ""
		st.Result = reason
		if err := e.store.UpdateStep(ctx, st); err != nil {
			return fmt.Errorf("skip step %s: %w", st.ID, err)
		}
		e.emit(ctx, Event{Type: EventStepSkipped, PlanID: planID, StepID: st.ID, Payload: map[string]any{"reason": reason}})
	}
	return nil
}

// sleep waits for d, ending early on context cancellation or abort.
func (e *Executor) sleep(ctx context.Context, handle *runHandle, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-handle.cancel:
		return ErrAborted
	case <-timer.C:
		return nil
	}
}

// emit appends the event to the plan event log and fans it out to
// listeners. Log-write failures are recorded but do not interrupt
// execution; the event log is an audit trail, not a correctness
// dependency.
func (e *Executor) emit(ctx context.Context, event Event) {
	var payload json.RawMessage
	if len(event.Payload) > 0 {
		if raw, err := json.Marshal(event.Payload); err == nil {
			payload = raw
		}
	}
	if err := e.store.LogEvent(ctx, &models.PlanEvent{
		PlanID:  event.PlanID,
		StepID:  event.StepID,
		Type:    event.Type,
		Payload: payload,
	}); err != nil {
		e.logger.Warn("append plan event", "plan_id", event.PlanID, "type", event.Type, "error", err)
	}

	e.lmu.Lock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.lmu.Unlock()
	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("plan event listener panicked", "type", event.Type, "panic", r)
				}
			}()
			listener(event)
		}()
	}
}

// runWithTimeout races the handler against the step deadline. The buffered
// channel doubles as the settled guard: a late completion has nowhere to
// deliver and is discarded.
func runWithTimeout(ctx context.Context, handler Handler, hctx HandlerContext, timeout time.Duration) (*StepResult, error) {
	type outcome struct {
		result *StepResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("step handler panicked: %v", r)}
			}
		}()
		result, err := handler.Run(ctx, hctx)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case o := <-done:
		return o.result, o.err
	case <-timer.C:
		return nil, fmt.Errorf("step timed out after %dms", timeout.Milliseconds())
	}
}
