package plan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/observability"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/pkg/models"
)

type fakeCall struct {
	name   string
	args   map[string]any
	userID string
}

// fakeRunner records every Execute and answers via respond, defaulting to
// a plain "ok" result.
type fakeRunner struct {
	mu      sync.Mutex
	known   map[string]bool
	calls   []fakeCall
	respond func(call int, name string, args map[string]any) *agent.ToolResult
	gate    chan struct{} // when set, Execute blocks until closed
	started chan struct{} // when set, closed on first Execute entry
}

func (f *fakeRunner) Has(name string) bool { return f.known[name] }

func (f *fakeRunner) Execute(ctx context.Context, name string, params json.RawMessage) (*agent.ToolResult, error) {
	var args map[string]any
	_ = json.Unmarshal(params, &args)
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, fakeCall{name: name, args: args, userID: agent.UserIDFromContext(ctx)})
	f.mu.Unlock()
	if f.started != nil && n == 0 {
		close(f.started)
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.respond != nil {
		return f.respond(n, name, args), nil
	}
	return &agent.ToolResult{Content: "ok"}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.calls))
	for i, c := range f.calls {
		names[i] = c.name
	}
	return names
}

func newTestExecutor(t *testing.T, runner ToolRunner) (*Executor, storage.PlanStore) {
	t.Helper()
	store := storage.NewMemoryPlanStore()
	exec := NewExecutor(store, slog.New(slog.NewTextHandler(io.Discard, nil)), &Config{
		DefaultStepTimeout: 500 * time.Millisecond,
		StallSleep:         5 * time.Millisecond,
		BackoffFunc:        func(int) time.Duration { return time.Millisecond },
	})
	if runner != nil {
		RegisterBuiltins(exec, runner, nil)
	}
	return exec, store
}

func seedPlan(t *testing.T, store storage.PlanStore, id string, steps ...*models.Step) *models.Plan {
	t.Helper()
	ctx := context.Background()
	plan := &models.Plan{ID: id, UserID: "u1", Name: "test plan", Status: models.PlanPending}
	if err := store.CreatePlan(ctx, plan); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	for _, step := range steps {
		step.PlanID = id
		if step.Status == "" {
			step.Status = models.StepPending
		}
		if err := store.CreateStep(ctx, step); err != nil {
			t.Fatalf("create step %s: %v", step.ID, err)
		}
	}
	return plan
}

func stepByID(t *testing.T, store storage.PlanStore, planID, stepID string) *models.Step {
	t.Helper()
	steps, err := store.GetSteps(context.Background(), planID)
	if err != nil {
		t.Fatalf("get steps: %v", err)
	}
	for _, st := range steps {
		if st.ID == stepID {
			return st
		}
	}
	t.Fatalf("step %s not found", stepID)
	return nil
}

func TestExecuteSingleToolStep(t *testing.T) {
	runner := &fakeRunner{
		known: map[string]bool{"get_time": true},
		respond: func(int, string, map[string]any) *agent.ToolResult {
			return &agent.ToolResult{Content: "12:00"}
		},
	}
	exec, store := newTestExecutor(t, runner)

	var mu sync.Mutex
	var events []string
	exec.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
	})

	seedPlan(t, store, "p1", &models.Step{
		ID: "s1", OrderNum: 1, Type: models.StepToolCall, Name: "time",
		Config: map[string]any{"toolName": "get_time"},
	})

	result, err := exec.Execute(context.Background(), "p1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != models.PlanCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if result.CompletedSteps != 1 {
		t.Errorf("completed steps = %d, want 1", result.CompletedSteps)
	}
	if runner.callCount() != 1 {
		t.Errorf("tool calls = %d, want 1", runner.callCount())
	}

	plan, err := store.GetPlan(context.Background(), "u1", "p1")
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if plan.Status != models.PlanCompleted || plan.Progress != 100 {
		t.Errorf("plan = %s/%d, want completed/100", plan.Status, plan.Progress)
	}
	step := stepByID(t, store, "p1", "s1")
	if step.Status != models.StepCompleted || step.Result != "12:00" {
		t.Errorf("step = %s %q, want completed %q", step.Status, step.Result, "12:00")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{EventPlanStarted, EventStepStarted, EventStepCompleted, EventPlanCompleted}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i, typ := range want {
		if events[i] != typ {
			t.Errorf("event[%d] = %s, want %s", i, events[i], typ)
		}
	}
}

func TestExecuteRecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = provider.Shutdown(context.Background())
	})
	tracer, _ := observability.NewTracer(observability.TraceConfig{ServiceName: "test"})

	runner := &fakeRunner{
		known: map[string]bool{"get_time": true},
		respond: func(int, string, map[string]any) *agent.ToolResult {
			return &agent.ToolResult{Content: "12:00"}
		},
	}
	store := storage.NewMemoryPlanStore()
	exec := NewExecutor(store, slog.New(slog.NewTextHandler(io.Discard, nil)), &Config{
		DefaultStepTimeout: 500 * time.Millisecond,
		StallSleep:         5 * time.Millisecond,
		BackoffFunc:        func(int) time.Duration { return time.Millisecond },
		Tracer:             tracer,
	})
	RegisterBuiltins(exec, runner, nil)

	seedPlan(t, store, "p1", &models.Step{
		ID: "s1", OrderNum: 1, Type: models.StepToolCall, Name: "time",
		Config: map[string]any{"toolName": "get_time"},
	})

	if _, err := exec.Execute(context.Background(), "p1"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var planSpan, stepSpan bool
	for _, s := range exporter.GetSpans() {
		switch s.Name {
		case "plan.execute":
			planSpan = true
		case "plan.step.tool_call":
			stepSpan = true
		}
	}
	if !planSpan || !stepSpan {
		t.Fatalf("plan=%v step=%v, want both spans exported", planSpan, stepSpan)
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	runner := &fakeRunner{
		known: map[string]bool{"flaky": true},
		respond: func(call int, _ string, _ map[string]any) *agent.ToolResult {
			if call == 0 {
				return &agent.ToolResult{Content: "transient", IsError: true}
			}
			return &agent.ToolResult{Content: "ok"}
		},
	}
	exec, store := newTestExecutor(t, runner)
	seedPlan(t, store, "p1", &models.Step{
		ID: "s1", OrderNum: 1, Type: models.StepToolCall, Name: "flaky",
		MaxRetries: 2, OnFailure: models.OnFailureAbort,
		Config: map[string]any{"toolName": "flaky"},
	})

	result, err := exec.Execute(context.Background(), "p1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != models.PlanCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if runner.callCount() != 2 {
		t.Errorf("tool calls = %d, want 2", runner.callCount())
	}
	step := stepByID(t, store, "p1", "s1")
	if step.Status != models.StepCompleted || step.RetryCount != 1 {
		t.Errorf("step = %s retries=%d, want completed retries=1", step.Status, step.RetryCount)
	}
}

func TestExecuteDeadlock(t *testing.T) {
	exec, store := newTestExecutor(t, &fakeRunner{known: map[string]bool{}})
	seedPlan(t, store, "p1", &models.Step{
		ID: "s1", OrderNum: 1, Type: models.StepToolCall, Name: "stuck",
		Dependencies: []string{"never-created"},
		Config:       map[string]any{"toolName": "whatever"},
	})

	result, err := exec.Execute(context.Background(), "p1")
	if !errors.Is(err, ErrDeadlock) {
		t.Fatalf("err = %v, want ErrDeadlock", err)
	}
	if result.Status != models.PlanFailed {
		t.Errorf("status = %s, want failed", result.Status)
	}
	step := stepByID(t, store, "p1", "s1")
	if step.Status != models.StepBlocked {
		t.Errorf("step status = %s, want blocked", step.Status)
	}
	plan, _ := store.GetPlan(context.Background(), "u1", "p1")
	if plan.Status != models.PlanFailed || !strings.Contains(plan.Error, "deadlock") {
		t.Errorf("plan = %s %q, want failed with deadlock error", plan.Status, plan.Error)
	}
}

func TestConditionBranchSkipsIntermediateSteps(t *testing.T) {
	runner := &fakeRunner{known: map[string]bool{"work": true}}
	exec, store := newTestExecutor(t, runner)

	var mu sync.Mutex
	var skipped []string
	exec.Subscribe(func(ev Event) {
		if ev.Type == EventStepSkipped {
			mu.Lock()
			skipped = append(skipped, ev.StepID)
			mu.Unlock()
		}
	})

	seedPlan(t, store, "p1",
		&models.Step{ID: "S1", OrderNum: 1, Type: models.StepCondition, Name: "branch",
			Config: map[string]any{"condition": "true", "trueStep": "S4"}},
		&models.Step{ID: "S2", OrderNum: 2, Type: models.StepToolCall, Name: "a",
			Config: map[string]any{"toolName": "work"}},
		&models.Step{ID: "S3", OrderNum: 3, Type: models.StepToolCall, Name: "b",
			Config: map[string]any{"toolName": "work"}},
		&models.Step{ID: "S4", OrderNum: 4, Type: models.StepToolCall, Name: "c",
			Config: map[string]any{"toolName": "work"}},
	)

	result, err := exec.Execute(context.Background(), "p1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != models.PlanCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if got := stepByID(t, store, "p1", "S2").Status; got != models.StepSkipped {
		t.Errorf("S2 = %s, want skipped", got)
	}
	if got := stepByID(t, store, "p1", "S3").Status; got != models.StepSkipped {
		t.Errorf("S3 = %s, want skipped", got)
	}
	if got := stepByID(t, store, "p1", "S4").Status; got != models.StepCompleted {
		t.Errorf("S4 = %s, want completed", got)
	}
	if runner.callCount() != 1 {
		t.Errorf("tool calls = %v, want just S4", runner.callNames())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(skipped) != 2 {
		t.Errorf("skipped events = %v, want 2", skipped)
	}
}

func TestPauseAndResumeKeepsProgress(t *testing.T) {
	runner := &fakeRunner{
		known:   map[string]bool{"work": true},
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	exec, store := newTestExecutor(t, runner)
	seedPlan(t, store, "p1",
		&models.Step{ID: "s1", OrderNum: 1, Type: models.StepToolCall, Name: "a",
			Config: map[string]any{"toolName": "work"}},
		&models.Step{ID: "s2", OrderNum: 2, Type: models.StepToolCall, Name: "b",
			Config: map[string]any{"toolName": "work"}},
	)

	done := make(chan *Result, 1)
	go func() {
		result, _ := exec.Execute(context.Background(), "p1")
		done <- result
	}()

	<-runner.started
	if !exec.Pause("p1") {
		t.Fatal("pause returned false for running plan")
	}
	close(runner.gate)

	result := <-done
	if result.Status != models.PlanPaused {
		t.Fatalf("status = %s, want paused", result.Status)
	}
	if !exec.IsPaused("p1") || exec.IsRunning("p1") {
		t.Fatal("expected paused, not running")
	}
	if got := stepByID(t, store, "p1", "s1").Status; got != models.StepCompleted {
		t.Errorf("s1 = %s, want completed before pause", got)
	}

	resumed, err := exec.Resume(context.Background(), "p1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != models.PlanCompleted {
		t.Fatalf("resumed status = %s, want completed", resumed.Status)
	}
	// s1 ran once before the pause, s2 once after.
	if runner.callCount() != 2 {
		t.Errorf("tool calls = %d, want 2", runner.callCount())
	}
}

func TestResumeFromNonPausedFails(t *testing.T) {
	exec, store := newTestExecutor(t, &fakeRunner{})
	seedPlan(t, store, "p1")
	if _, err := exec.Resume(context.Background(), "p1"); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("err = %v, want ErrIllegalState", err)
	}
}

func TestAbortCancelsPlan(t *testing.T) {
	runner := &fakeRunner{
		known:   map[string]bool{"work": true},
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	exec, store := newTestExecutor(t, runner)
	seedPlan(t, store, "p1",
		&models.Step{ID: "s1", OrderNum: 1, Type: models.StepToolCall, Name: "a",
			Config: map[string]any{"toolName": "work"}},
		&models.Step{ID: "s2", OrderNum: 2, Type: models.StepToolCall, Name: "b",
			Config: map[string]any{"toolName": "work"}},
	)

	done := make(chan error, 1)
	go func() {
		_, err := exec.Execute(context.Background(), "p1")
		done <- err
	}()

	<-runner.started
	if !exec.Abort("p1") {
		t.Fatal("abort returned false for running plan")
	}
	close(runner.gate)

	if err := <-done; !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	plan, _ := store.GetPlan(context.Background(), "u1", "p1")
	if plan.Status != models.PlanCancelled {
		t.Errorf("plan status = %s, want cancelled", plan.Status)
	}
	if got := stepByID(t, store, "p1", "s2").Status; got != models.StepPending {
		t.Errorf("s2 = %s, want untouched pending", got)
	}
}

func TestUserInputPausesThenResumes(t *testing.T) {
	runner := &fakeRunner{known: map[string]bool{"work": true}}
	exec, store := newTestExecutor(t, runner)
	seedPlan(t, store, "p1",
		&models.Step{ID: "s1", OrderNum: 1, Type: models.StepUserInput, Name: "ask",
			Config: map[string]any{"question": "Proceed?"}},
		&models.Step{ID: "s2", OrderNum: 2, Type: models.StepToolCall, Name: "do",
			Config: map[string]any{"toolName": "work"}},
	)

	result, err := exec.Execute(context.Background(), "p1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != models.PlanPaused {
		t.Fatalf("status = %s, want paused", result.Status)
	}
	step := stepByID(t, store, "p1", "s1")
	if step.Status != models.StepCompleted || !strings.Contains(step.Result, "Proceed?") {
		t.Errorf("s1 = %s %q, want completed carrying the question", step.Status, step.Result)
	}

	resumed, err := exec.Resume(context.Background(), "p1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != models.PlanCompleted {
		t.Fatalf("resumed status = %s, want completed", resumed.Status)
	}
}

func TestOnFailureSkipContinues(t *testing.T) {
	runner := &fakeRunner{
		known: map[string]bool{"bad": true, "good": true},
		respond: func(_ int, name string, _ map[string]any) *agent.ToolResult {
			if name == "bad" {
				return &agent.ToolResult{Content: "boom", IsError: true}
			}
			return &agent.ToolResult{Content: "ok"}
		},
	}
	exec, store := newTestExecutor(t, runner)
	seedPlan(t, store, "p1",
		&models.Step{ID: "s1", OrderNum: 1, Type: models.StepToolCall, Name: "bad",
			OnFailure: models.OnFailureSkip,
			Config:    map[string]any{"toolName": "bad"}},
		&models.Step{ID: "s2", OrderNum: 2, Type: models.StepToolCall, Name: "good",
			Config: map[string]any{"toolName": "good"}},
	)

	result, err := exec.Execute(context.Background(), "p1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != models.PlanCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if got := stepByID(t, store, "p1", "s1").Status; got != models.StepFailed {
		t.Errorf("s1 = %s, want failed", got)
	}
	if got := stepByID(t, store, "p1", "s2").Status; got != models.StepCompleted {
		t.Errorf("s2 = %s, want completed", got)
	}
}

func TestStepTimeoutFailsPlan(t *testing.T) {
	exec, store := newTestExecutor(t, nil)
	exec.RegisterHandler(models.StepToolCall, HandlerFunc(func(ctx context.Context, _ HandlerContext) (*StepResult, error) {
		time.Sleep(200 * time.Millisecond)
		return &StepResult{Success: true}, nil
	}))
	seedPlan(t, store, "p1", &models.Step{
		ID: "s1", OrderNum: 1, Type: models.StepToolCall, Name: "slow",
		TimeoutMS: 10, OnFailure: models.OnFailureAbort,
	})

	result, err := exec.Execute(context.Background(), "p1")
	if err == nil {
		t.Fatal("expected timeout failure")
	}
	if result.Status != models.PlanFailed {
		t.Errorf("status = %s, want failed", result.Status)
	}
	step := stepByID(t, store, "p1", "s1")
	if !strings.Contains(step.Error, "timed out after 10ms") {
		t.Errorf("step error = %q, want timeout message", step.Error)
	}
}

func TestExecuteAlreadyRunning(t *testing.T) {
	runner := &fakeRunner{
		known:   map[string]bool{"work": true},
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	exec, store := newTestExecutor(t, runner)
	seedPlan(t, store, "p1", &models.Step{
		ID: "s1", OrderNum: 1, Type: models.StepToolCall, Name: "a",
		Config: map[string]any{"toolName": "work"},
	})

	done := make(chan struct{})
	go func() {
		_, _ = exec.Execute(context.Background(), "p1")
		close(done)
	}()

	<-runner.started
	if _, err := exec.Execute(context.Background(), "p1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
	close(runner.gate)
	<-done
}

func TestCheckpointRoundTrip(t *testing.T) {
	exec, store := newTestExecutor(t, nil)
	seedPlan(t, store, "p1")

	if err := exec.Checkpoint(context.Background(), "p1", map[string]any{"cursor": 7}); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	cp, err := exec.RestoreFromCheckpoint(context.Background(), "p1")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if cp == nil || cp.Timestamp.IsZero() {
		t.Fatal("expected checkpoint with timestamp")
	}
	data, ok := cp.Data.(map[string]any)
	if !ok || data["cursor"] != float64(7) {
		t.Errorf("data = %#v, want cursor 7", cp.Data)
	}

	events, err := store.GetEvents(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Type == EventCheckpoint {
			found = true
		}
	}
	if !found {
		t.Error("expected checkpoint event in plan log")
	}
}

func TestRestoreFromCheckpointAbsent(t *testing.T) {
	exec, store := newTestExecutor(t, nil)
	seedPlan(t, store, "p1")
	cp, err := exec.RestoreFromCheckpoint(context.Background(), "p1")
	if err != nil || cp != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", cp, err)
	}
}

func TestBackoffCapsAtThirtySeconds(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempt); got != tc.want {
			t.Errorf("Backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
