package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/locushq/locus/pkg/models"
)

// NewMemoryStoreSet wires a full in-memory StoreSet for tests and the
// zero-config dev path.
func NewMemoryStoreSet() StoreSet {
	return StoreSet{
		Plans:       NewMemoryPlanStore(),
		Memories:    NewMemoryMemoryStore(),
		Goals:       NewMemoryGoalStore(),
		CustomTools: NewMemoryCustomToolStore(),
		Approvals:   NewMemoryApprovalStore(),
		Triggers:    NewMemoryTriggerStore(),
		Usage:       NewMemoryUsageStore(),
		Messages:    NewMemoryMessageStore(),
	}
}

// MemoryPlanStore provides an in-memory PlanStore.
type MemoryPlanStore struct {
	mu     sync.RWMutex
	plans  map[string]*models.Plan
	steps  map[string][]*models.Step // planID -> steps ordered by OrderNum
	events map[string][]*models.PlanEvent
}

// NewMemoryPlanStore creates an in-memory plan store.
func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{
		plans:  make(map[string]*models.Plan),
		steps:  make(map[string][]*models.Step),
		events: make(map[string][]*models.PlanEvent),
	}
}

func (s *MemoryPlanStore) CreatePlan(ctx context.Context, plan *models.Plan) error {
	if plan == nil || plan.UserID == "" {
		return fmt.Errorf("plan and user id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if _, exists := s.plans[plan.ID]; exists {
		return ErrAlreadyExists
	}
	now := time.Now()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now
	if plan.Status == "" {
		plan.Status = models.PlanPending
	}
	cp := *plan
	s.plans[plan.ID] = &cp
	return nil
}

func (s *MemoryPlanStore) GetPlan(ctx context.Context, userID, planID string) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[planID]
	if !ok || (userID != "" && plan.UserID != userID) {
		return nil, ErrNotFound
	}
	cp := *plan
	return &cp, nil
}

func (s *MemoryPlanStore) UpdatePlan(ctx context.Context, plan *models.Plan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plans[plan.ID]; !exists {
		return ErrNotFound
	}
	plan.UpdatedAt = time.Now()
	cp := *plan
	s.plans[plan.ID] = &cp
	return nil
}

func (s *MemoryPlanStore) DeletePlan(ctx context.Context, userID, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[planID]
	if !ok || (userID != "" && plan.UserID != userID) {
		return ErrNotFound
	}
	delete(s.plans, planID)
	delete(s.steps, planID)
	delete(s.events, planID)
	return nil
}

func (s *MemoryPlanStore) ListPlans(ctx context.Context, userID string, limit, offset int) ([]*models.Plan, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plans := make([]*models.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if userID != "" && p.UserID != userID {
			continue
		}
		cp := *p
		plans = append(plans, &cp)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.After(plans[j].CreatedAt) })
	total := len(plans)
	if offset < 0 {
		offset = 0
	}
	if offset > len(plans) {
		offset = len(plans)
	}
	end := len(plans)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return plans[offset:end], total, nil
}

func (s *MemoryPlanStore) CreateStep(ctx context.Context, step *models.Step) error {
	if step == nil || step.PlanID == "" {
		return fmt.Errorf("step and plan id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[step.PlanID]
	if !ok {
		return ErrNotFound
	}
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	now := time.Now()
	if step.CreatedAt.IsZero() {
		step.CreatedAt = now
	}
	step.UpdatedAt = now
	if step.Status == "" {
		step.Status = models.StepPending
	}
	cp := *step
	s.steps[step.PlanID] = append(s.steps[step.PlanID], &cp)
	sort.SliceStable(s.steps[step.PlanID], func(i, j int) bool {
		return s.steps[step.PlanID][i].OrderNum < s.steps[step.PlanID][j].OrderNum
	})
	plan.TotalSteps = len(s.steps[step.PlanID])
	return nil
}

func (s *MemoryPlanStore) GetSteps(ctx context.Context, planID string) ([]*models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := s.steps[planID]
	out := make([]*models.Step, len(steps))
	for i, st := range steps {
		cp := *st
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryPlanStore) GetNextStep(ctx context.Context, planID string) (*models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.steps[planID] {
		if st.Status == models.StepPending {
			cp := *st
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryPlanStore) GetStepsByStatus(ctx context.Context, planID string, status models.StepStatus) ([]*models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Step
	for _, st := range s.steps[planID] {
		if st.Status == status {
			cp := *st
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryPlanStore) UpdateStep(ctx context.Context, step *models.Step) error {
	if step == nil || step.ID == "" {
		return fmt.Errorf("step id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range s.steps[step.PlanID] {
		if st.ID == step.ID {
			step.UpdatedAt = time.Now()
			cp := *step
			s.steps[step.PlanID][i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryPlanStore) AreDependenciesMet(ctx context.Context, step *models.Step) (bool, error) {
	if step == nil {
		return false, fmt.Errorf("step is required")
	}
	if len(step.Dependencies) == 0 {
		return true, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := make(map[string]*models.Step, len(s.steps[step.PlanID]))
	for _, st := range s.steps[step.PlanID] {
		byID[st.ID] = st
	}
	for _, dep := range step.Dependencies {
		st, ok := byID[dep]
		if !ok || st.Status != models.StepCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (s *MemoryPlanStore) RecalculateProgress(ctx context.Context, planID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[planID]
	if !ok {
		return 0, ErrNotFound
	}
	steps := s.steps[planID]
	if len(steps) == 0 {
		plan.Progress = 0
		return 0, nil
	}
	done := 0
	for _, st := range steps {
		switch st.Status {
		case models.StepCompleted, models.StepFailed, models.StepSkipped, models.StepBlocked:
			done++
		}
	}
	plan.Progress = done * 100 / len(steps)
	plan.TotalSteps = len(steps)
	plan.UpdatedAt = time.Now()
	return plan.Progress, nil
}

func (s *MemoryPlanStore) LogEvent(ctx context.Context, event *models.PlanEvent) error {
	if event == nil || event.PlanID == "" {
		return fmt.Errorf("event and plan id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	cp := *event
	s.events[event.PlanID] = append(s.events[event.PlanID], &cp)
	return nil
}

func (s *MemoryPlanStore) GetEvents(ctx context.Context, planID string, limit int) ([]*models.PlanEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[planID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]*models.PlanEvent, len(events))
	for i, ev := range events {
		cp := *ev
		out[i] = &cp
	}
	return out, nil
}

// MemoryMemoryStore provides an in-memory MemoryStore.
type MemoryMemoryStore struct {
	mu       sync.RWMutex
	memories map[string]*models.Memory
}

// NewMemoryMemoryStore creates an in-memory memory store.
func NewMemoryMemoryStore() *MemoryMemoryStore {
	return &MemoryMemoryStore{memories: make(map[string]*models.Memory)}
}

func (s *MemoryMemoryStore) AddMemory(ctx context.Context, mem *models.Memory) error {
	if mem == nil || mem.UserID == "" || mem.Content == "" {
		return fmt.Errorf("memory, user id and content are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}
	now := time.Now()
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = now
	}
	mem.UpdatedAt = now
	cp := *mem
	s.memories[mem.ID] = &cp
	return nil
}

func (s *MemoryMemoryStore) SearchMemories(ctx context.Context, userID, query string, limit int) ([]*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	terms := strings.Fields(strings.ToLower(query))
	var out []*models.Memory
	for _, m := range s.memories {
		if userID != "" && m.UserID != userID {
			continue
		}
		content := strings.ToLower(m.Content)
		matched := true
		for _, t := range terms {
			if !strings.Contains(content, t) {
				matched = false
				break
			}
		}
		if matched {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryMemoryStore) ListMemories(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Memory
	for _, m := range s.memories {
		if userID != "" && m.UserID != userID {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset < 0 {
		offset = 0
	}
	if offset > len(out) {
		offset = len(out)
	}
	end := len(out)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], total, nil
}

func (s *MemoryMemoryStore) DeleteMemory(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok || (userID != "" && m.UserID != userID) {
		return ErrNotFound
	}
	delete(s.memories, id)
	return nil
}

func (s *MemoryMemoryStore) GetImportantMemories(ctx context.Context, userID string, threshold float64, limit int) ([]*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Memory
	for _, m := range s.memories {
		if userID != "" && m.UserID != userID {
			continue
		}
		if m.Importance >= threshold {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryGoalStore provides an in-memory GoalStore.
type MemoryGoalStore struct {
	mu    sync.RWMutex
	goals map[string]*models.Goal
}

// NewMemoryGoalStore creates an in-memory goal store.
func NewMemoryGoalStore() *MemoryGoalStore {
	return &MemoryGoalStore{goals: make(map[string]*models.Goal)}
}

func (s *MemoryGoalStore) CreateGoal(ctx context.Context, goal *models.Goal) error {
	if goal == nil || goal.UserID == "" || goal.Title == "" {
		return fmt.Errorf("goal, user id and title are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	now := time.Now()
	if goal.CreatedAt.IsZero() {
		goal.CreatedAt = now
	}
	goal.UpdatedAt = now
	if goal.Status == "" {
		goal.Status = models.GoalActive
	}
	cp := *goal
	s.goals[goal.ID] = &cp
	return nil
}

func (s *MemoryGoalStore) GetGoal(ctx context.Context, userID, id string) (*models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[id]
	if !ok || (userID != "" && g.UserID != userID) {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryGoalStore) UpdateGoal(ctx context.Context, goal *models.Goal) error {
	if goal == nil || goal.ID == "" {
		return fmt.Errorf("goal id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.goals[goal.ID]; !ok {
		return ErrNotFound
	}
	goal.UpdatedAt = time.Now()
	cp := *goal
	s.goals[goal.ID] = &cp
	return nil
}

func (s *MemoryGoalStore) CompleteGoalStep(ctx context.Context, userID, id string) (*models.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok || (userID != "" && g.UserID != userID) {
		return nil, ErrNotFound
	}
	if len(g.NextActions) > 0 {
		g.NextActions = g.NextActions[1:]
	}
	if len(g.NextActions) == 0 {
		g.Status = models.GoalCompleted
	}
	g.UpdatedAt = time.Now()
	cp := *g
	return &cp, nil
}

func (s *MemoryGoalStore) GetActiveGoals(ctx context.Context, userID string, limit int) ([]*models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Goal
	for _, g := range s.goals {
		if userID != "" && g.UserID != userID {
			continue
		}
		if g.Status == models.GoalActive {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryGoalStore) GetNextActions(ctx context.Context, userID string, limit int) ([]string, error) {
	goals, err := s.GetActiveGoals(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, g := range goals {
		if len(g.NextActions) > 0 {
			out = append(out, g.NextActions[0])
		}
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
	}
	return out, nil
}

// MemoryCustomToolStore provides an in-memory CustomToolStore.
type MemoryCustomToolStore struct {
	mu    sync.RWMutex
	tools map[string]*models.CustomTool
}

// NewMemoryCustomToolStore creates an in-memory custom tool store.
func NewMemoryCustomToolStore() *MemoryCustomToolStore {
	return &MemoryCustomToolStore{tools: make(map[string]*models.CustomTool)}
}

func (s *MemoryCustomToolStore) CreateCustomTool(ctx context.Context, tool *models.CustomTool) error {
	if tool == nil || tool.UserID == "" || tool.Name == "" {
		return fmt.Errorf("tool, user id and name are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tools {
		if t.UserID == tool.UserID && t.Name == tool.Name {
			return ErrAlreadyExists
		}
	}
	if tool.ID == "" {
		tool.ID = uuid.NewString()
	}
	now := time.Now()
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = now
	}
	tool.UpdatedAt = now
	cp := *tool
	s.tools[tool.ID] = &cp
	return nil
}

func (s *MemoryCustomToolStore) GetCustomTool(ctx context.Context, userID, id string) (*models.CustomTool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[id]
	if !ok || (userID != "" && t.UserID != userID) {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryCustomToolStore) GetCustomToolByName(ctx context.Context, userID, name string) (*models.CustomTool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tools {
		if t.Name == name && (userID == "" || t.UserID == userID) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryCustomToolStore) ListCustomTools(ctx context.Context, userID string, filter CustomToolFilter) ([]*models.CustomTool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CustomTool
	for _, t := range s.tools {
		if userID != "" && t.UserID != userID {
			continue
		}
		if filter.Enabled != nil && t.Enabled != *filter.Enabled {
			continue
		}
		if filter.Approved != nil && t.Approved != *filter.Approved {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryCustomToolStore) UpdateCustomTool(ctx context.Context, tool *models.CustomTool) error {
	if tool == nil || tool.ID == "" {
		return fmt.Errorf("tool id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[tool.ID]; !ok {
		return ErrNotFound
	}
	tool.UpdatedAt = time.Now()
	cp := *tool
	s.tools[tool.ID] = &cp
	return nil
}

func (s *MemoryCustomToolStore) DeleteCustomTool(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[id]
	if !ok || (userID != "" && t.UserID != userID) {
		return ErrNotFound
	}
	delete(s.tools, id)
	return nil
}

func (s *MemoryCustomToolStore) setFlag(userID, id string, set func(*models.CustomTool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[id]
	if !ok || (userID != "" && t.UserID != userID) {
		return ErrNotFound
	}
	set(t)
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryCustomToolStore) SetCustomToolEnabled(ctx context.Context, userID, id string, enabled bool) error {
	return s.setFlag(userID, id, func(t *models.CustomTool) { t.Enabled = enabled })
}

func (s *MemoryCustomToolStore) SetCustomToolApproved(ctx context.Context, userID, id string, approved bool) error {
	return s.setFlag(userID, id, func(t *models.CustomTool) { t.Approved = approved })
}

func (s *MemoryCustomToolStore) RecordCustomToolUsage(ctx context.Context, userID, id string) error {
	return s.setFlag(userID, id, func(t *models.CustomTool) { t.UsageCount++ })
}

func (s *MemoryCustomToolStore) GetActiveCustomTools(ctx context.Context, userID string) ([]*models.CustomTool, error) {
	enabled, approved := true, true
	return s.ListCustomTools(ctx, userID, CustomToolFilter{Enabled: &enabled, Approved: &approved})
}

// MemoryApprovalStore provides an in-memory ApprovalStore.
type MemoryApprovalStore struct {
	mu       sync.RWMutex
	requests map[string]*models.ApprovalRequest
}

// NewMemoryApprovalStore creates an in-memory approval store.
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{requests: make(map[string]*models.ApprovalRequest)}
}

func (s *MemoryApprovalStore) CreateApproval(ctx context.Context, req *models.ApprovalRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("approval id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return ErrAlreadyExists
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryApprovalStore) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *MemoryApprovalStore) UpdateApproval(ctx context.Context, req *models.ApprovalRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("approval id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return ErrNotFound
	}
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryApprovalStore) PruneApprovals(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, req := range s.requests {
		if req.Status != models.ApprovalPending && req.CreatedAt.Before(cutoff) {
			delete(s.requests, id)
			n++
			continue
		}
		if req.Status == models.ApprovalPending && req.ExpiresAt.Before(cutoff) {
			delete(s.requests, id)
			n++
		}
	}
	return n, nil
}

// MemoryTriggerStore provides an in-memory TriggerStore.
type MemoryTriggerStore struct {
	mu       sync.RWMutex
	triggers map[string]*models.Trigger
}

// NewMemoryTriggerStore creates an in-memory trigger store.
func NewMemoryTriggerStore() *MemoryTriggerStore {
	return &MemoryTriggerStore{triggers: make(map[string]*models.Trigger)}
}

func (s *MemoryTriggerStore) CreateTrigger(ctx context.Context, trig *models.Trigger) error {
	if trig == nil || trig.UserID == "" || trig.Name == "" {
		return fmt.Errorf("trigger, user id and name are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if trig.ID == "" {
		trig.ID = uuid.NewString()
	}
	now := time.Now()
	if trig.CreatedAt.IsZero() {
		trig.CreatedAt = now
	}
	trig.UpdatedAt = now
	cp := *trig
	s.triggers[trig.ID] = &cp
	return nil
}

func (s *MemoryTriggerStore) GetTrigger(ctx context.Context, userID, id string) (*models.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.triggers[id]
	if !ok || (userID != "" && t.UserID != userID) {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryTriggerStore) UpdateTrigger(ctx context.Context, trig *models.Trigger) error {
	if trig == nil || trig.ID == "" {
		return fmt.Errorf("trigger id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[trig.ID]; !ok {
		return ErrNotFound
	}
	trig.UpdatedAt = time.Now()
	cp := *trig
	s.triggers[trig.ID] = &cp
	return nil
}

func (s *MemoryTriggerStore) DeleteTrigger(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok || (userID != "" && t.UserID != userID) {
		return ErrNotFound
	}
	delete(s.triggers, id)
	return nil
}

func (s *MemoryTriggerStore) ListTriggers(ctx context.Context, userID string) ([]*models.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Trigger
	for _, t := range s.triggers {
		if userID != "" && t.UserID != userID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryTriggerStore) ListEnabledTriggers(ctx context.Context) ([]*models.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Trigger
	for _, t := range s.triggers {
		if t.Enabled {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MemoryUsageStore provides an in-memory UsageStore.
type MemoryUsageStore struct {
	mu      sync.RWMutex
	records []*models.UsageRecord
}

// NewMemoryUsageStore creates an in-memory usage store.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) InsertUsage(ctx context.Context, rec *models.UsageRecord) error {
	if rec == nil {
		return fmt.Errorf("usage record is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

// Records returns a copy of all recorded rows, oldest first.
func (s *MemoryUsageStore) Records() []*models.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.UsageRecord, len(s.records))
	for i, r := range s.records {
		cp := *r
		out[i] = &cp
	}
	return out
}

// MemoryMessageStore provides an in-memory MessageStore.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string][]*models.Message // sessionID -> messages in order
}

// NewMemoryMessageStore creates an in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string][]*models.Message)}
}

func (s *MemoryMessageStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return fmt.Errorf("message and session id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	cp := *msg
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], &cp)
	return nil
}

func (s *MemoryMessageStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}
