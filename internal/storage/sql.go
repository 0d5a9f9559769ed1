package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/locushq/locus/pkg/models"
)

// SQLConfig selects the backing database.
type SQLConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DSN is the database path for sqlite or a lib/pq connection string.
	DSN string
}

// SQLStore implements every storage interface over one database/sql handle.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

// OpenSQL opens the configured database and creates the schema.
func OpenSQL(cfg SQLConfig) (*SQLStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	dsn := cfg.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &SQLStore{db: db, postgres: driver == "postgres"}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStoreSet opens the database and wires a full StoreSet around it.
func NewSQLStoreSet(cfg SQLConfig) (StoreSet, error) {
	s, err := OpenSQL(cfg)
	if err != nil {
		return StoreSet{}, err
	}
	return StoreSet{
		Plans:       s,
		Memories:    s,
		Goals:       s,
		CustomTools: s,
		Approvals:   s,
		Triggers:    s,
		Usage:       s,
		Messages:    s,
		closer:      s.Close,
	}, nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			goal TEXT,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			total_steps INTEGER NOT NULL DEFAULT 0,
			current_step INTEGER NOT NULL DEFAULT 0,
			priority INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			checkpoint TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plan_steps (
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			order_num INTEGER NOT NULL,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			config TEXT,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			dependencies TEXT,
			timeout_ms INTEGER NOT NULL DEFAULT 0,
			on_failure TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plan_events (
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			step_id TEXT,
			type TEXT NOT NULL,
			payload TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS goals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			next_actions TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS custom_tools (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			parameters TEXT,
			code TEXT,
			language TEXT,
			enabled INTEGER NOT NULL DEFAULT 0,
			approved INTEGER NOT NULL DEFAULT 0,
			usage_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			category TEXT,
			action_type TEXT,
			description TEXT,
			params TEXT,
			status TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS triggers (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			expr TEXT NOT NULL,
			action TEXT NOT NULL,
			payload TEXT,
			workspace_id TEXT,
			match TEXT,
			enabled INTEGER NOT NULL DEFAULT 0,
			last_fired_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT,
			provider TEXT,
			model TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			request_type TEXT,
			error TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			channel TEXT,
			channel_id TEXT,
			direction TEXT,
			role TEXT NOT NULL,
			content TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_user ON plans(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_plan ON plan_steps(plan_id, order_num)`,
		`CREATE INDEX IF NOT EXISTS idx_events_plan ON plan_events(plan_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, importance)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_user ON goals(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_custom_tools_user ON custom_tools(user_id, name)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func marshalJSONColumn(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal column: %w", err)
	}
	return string(raw), nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// --- plans ---

func (s *SQLStore) CreatePlan(ctx context.Context, plan *models.Plan) error {
	if plan == nil || plan.UserID == "" {
		return fmt.Errorf("plan and user id are required")
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	now := time.Now()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now
	if plan.Status == "" {
		plan.Status = models.PlanPending
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO plans (id, user_id, name, goal, status, progress, total_steps, current_step, priority, error, checkpoint, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		plan.ID, plan.UserID, plan.Name, plan.Goal, string(plan.Status), plan.Progress,
		plan.TotalSteps, plan.CurrentStep, plan.Priority, plan.Error, plan.Checkpoint,
		nullTime(plan.StartedAt), nullTime(plan.CompletedAt), plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

func (s *SQLStore) scanPlan(row *sql.Row) (*models.Plan, error) {
	var p models.Plan
	var status string
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Goal, &status, &p.Progress,
		&p.TotalSteps, &p.CurrentStep, &p.Priority, &p.Error, &p.Checkpoint,
		&startedAt, &completedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	p.Status = models.PlanStatus(status)
	if startedAt.Valid {
		p.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return &p, nil
}

const planColumns = `id, user_id, name, goal, status, progress, total_steps, current_step, priority, error, checkpoint, started_at, completed_at, created_at, updated_at`

func (s *SQLStore) GetPlan(ctx context.Context, userID, planID string) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = ?`
	args := []any{planID}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	return s.scanPlan(s.db.QueryRowContext(ctx, s.rebind(query), args...))
}

func (s *SQLStore) UpdatePlan(ctx context.Context, plan *models.Plan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	plan.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE plans SET name = ?, goal = ?, status = ?, progress = ?, total_steps = ?, current_step = ?, priority = ?, error = ?, checkpoint = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`),
		plan.Name, plan.Goal, string(plan.Status), plan.Progress, plan.TotalSteps,
		plan.CurrentStep, plan.Priority, plan.Error, plan.Checkpoint,
		nullTime(plan.StartedAt), nullTime(plan.CompletedAt), plan.UpdatedAt, plan.ID)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeletePlan(ctx context.Context, userID, planID string) error {
	query := `DELETE FROM plans WHERE id = ?`
	args := []any{planID}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, _ = s.db.ExecContext(ctx, s.rebind(`DELETE FROM plan_steps WHERE plan_id = ?`), planID)
	_, _ = s.db.ExecContext(ctx, s.rebind(`DELETE FROM plan_events WHERE plan_id = ?`), planID)
	return nil
}

func (s *SQLStore) ListPlans(ctx context.Context, userID string, limit, offset int) ([]*models.Plan, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM plans WHERE user_id = ?`), userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count plans: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+planColumns+` FROM plans WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`),
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()
	var plans []*models.Plan
	for rows.Next() {
		var p models.Plan
		var status string
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Goal, &status, &p.Progress,
			&p.TotalSteps, &p.CurrentStep, &p.Priority, &p.Error, &p.Checkpoint,
			&startedAt, &completedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan plan: %w", err)
		}
		p.Status = models.PlanStatus(status)
		if startedAt.Valid {
			p.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			p.CompletedAt = &completedAt.Time
		}
		plans = append(plans, &p)
	}
	return plans, total, rows.Err()
}

// --- steps ---

const stepColumns = `id, plan_id, order_num, type, name, config, status, result, error, duration_ms, retry_count, max_retries, dependencies, timeout_ms, on_failure, created_at, updated_at`

func (s *SQLStore) CreateStep(ctx context.Context, step *models.Step) error {
	if step == nil || step.PlanID == "" {
		return fmt.Errorf("step and plan id are required")
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
	config, err := marshalJSONColumn(step.Config)
	if err != nil {
		return err
	}
	deps, err := marshalJSONColumn(step.Dependencies)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO plan_steps (`+stepColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		step.ID, step.PlanID, step.OrderNum, string(step.Type), step.Name, config,
		string(step.Status), step.Result, step.Error, step.DurationMS, step.RetryCount,
		step.MaxRetries, deps, step.TimeoutMS, step.OnFailure, step.CreatedAt, step.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create step: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		UPDATE plans SET total_steps = (SELECT COUNT(*) FROM plan_steps WHERE plan_id = ?) WHERE id = ?`),
		step.PlanID, step.PlanID)
	if err != nil {
		return fmt.Errorf("update plan step count: %w", err)
	}
	return nil
}

type stepScanner interface {
	Scan(dest ...any) error
}

func scanStep(row stepScanner) (*models.Step, error) {
	var st models.Step
	var typ, status, config, deps string
	err := row.Scan(&st.ID, &st.PlanID, &st.OrderNum, &typ, &st.Name, &config,
		&status, &st.Result, &st.Error, &st.DurationMS, &st.RetryCount,
		&st.MaxRetries, &deps, &st.TimeoutMS, &st.OnFailure, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step: %w", err)
	}
	st.Type = models.StepType(typ)
	st.Status = models.StepStatus(status)
	if config != "" {
		if err := json.Unmarshal([]byte(config), &st.Config); err != nil {
			return nil, fmt.Errorf("unmarshal step config: %w", err)
		}
	}
	if deps != "" {
		if err := json.Unmarshal([]byte(deps), &st.Dependencies); err != nil {
			return nil, fmt.Errorf("unmarshal step dependencies: %w", err)
		}
	}
	return &st, nil
}

func (s *SQLStore) GetSteps(ctx context.Context, planID string) ([]*models.Step, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+stepColumns+` FROM plan_steps WHERE plan_id = ? ORDER BY order_num`), planID)
	if err != nil {
		return nil, fmt.Errorf("get steps: %w", err)
	}
	defer rows.Close()
	var steps []*models.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *SQLStore) GetNextStep(ctx context.Context, planID string) (*models.Step, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+stepColumns+` FROM plan_steps WHERE plan_id = ? AND status = ? ORDER BY order_num LIMIT 1`),
		planID, string(models.StepPending))
	return scanStep(row)
}

func (s *SQLStore) GetStepsByStatus(ctx context.Context, planID string, status models.StepStatus) ([]*models.Step, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+stepColumns+` FROM plan_steps WHERE plan_id = ? AND status = ? ORDER BY order_num`),
		planID, string(status))
	if err != nil {
		return nil, fmt.Errorf("get steps by status: %w", err)
	}
	defer rows.Close()
	var steps []*models.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *SQLStore) UpdateStep(ctx context.Context, step *models.Step) error {
	if step == nil || step.ID == "" {
		return fmt.Errorf("step id is required")
	}
	step.UpdatedAt = time.Now()
	config, err := marshalJSONColumn(step.Config)
	if err != nil {
		return err
	}
	deps, err := marshalJSONColumn(step.Dependencies)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE plan_steps SET order_num = ?, type = ?, name = ?, config = ?, status = ?, result = ?, error = ?, duration_ms = ?, retry_count = ?, max_retries = ?, dependencies = ?, timeout_ms = ?, on_failure = ?, updated_at = ?
		WHERE id = ?`),
		step.OrderNum, string(step.Type), step.Name, config, string(step.Status),
		step.Result, step.Error, step.DurationMS, step.RetryCount, step.MaxRetries,
		deps, step.TimeoutMS, step.OnFailure, step.UpdatedAt, step.ID)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) AreDependenciesMet(ctx context.Context, step *models.Step) (bool, error) {
	if step == nil {
		return false, fmt.Errorf("step is required")
	}
	if len(step.Dependencies) == 0 {
		return true, nil
	}
	for _, dep := range step.Dependencies {
		var status string
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT status FROM plan_steps WHERE id = ?`), dep).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("check dependency %s: %w", dep, err)
		}
		if models.StepStatus(status) != models.StepCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (s *SQLStore) RecalculateProgress(ctx context.Context, planID string) (int, error) {
	var total, done int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*), COUNT(CASE WHEN status IN ('completed','failed','skipped','blocked') THEN 1 END)
		FROM plan_steps WHERE plan_id = ?`), planID).Scan(&total, &done)
	if err != nil {
		return 0, fmt.Errorf("recalculate progress: %w", err)
	}
	progress := 0
	if total > 0 {
		progress = done * 100 / total
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		UPDATE plans SET progress = ?, total_steps = ?, updated_at = ? WHERE id = ?`),
		progress, total, time.Now(), planID)
	if err != nil {
		return 0, fmt.Errorf("store progress: %w", err)
	}
	return progress, nil
}

func (s *SQLStore) LogEvent(ctx context.Context, event *models.PlanEvent) error {
	if event == nil || event.PlanID == "" {
		return fmt.Errorf("event and plan id are required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO plan_events (id, plan_id, step_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		event.ID, event.PlanID, event.StepID, event.Type, string(event.Payload), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

func (s *SQLStore) GetEvents(ctx context.Context, planID string, limit int) ([]*models.PlanEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, plan_id, step_id, type, payload, created_at FROM plan_events
		WHERE plan_id = ? ORDER BY created_at DESC LIMIT ?`), planID, limit)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()
	var events []*models.PlanEvent
	for rows.Next() {
		var ev models.PlanEvent
		var payload string
		if err := rows.Scan(&ev.ID, &ev.PlanID, &ev.StepID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload != "" {
			ev.Payload = json.RawMessage(payload)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// --- memories ---

func (s *SQLStore) AddMemory(ctx context.Context, mem *models.Memory) error {
	if mem == nil || mem.UserID == "" || mem.Content == "" {
		return fmt.Errorf("memory, user id and content are required")
	}
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}
	now := time.Now()
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = now
	}
	mem.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO memories (id, user_id, type, content, importance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		mem.ID, mem.UserID, string(mem.Type), mem.Content, mem.Importance, mem.CreatedAt, mem.UpdatedAt)
	if err != nil {
		return fmt.Errorf("add memory: %w", err)
	}
	return nil
}

func (s *SQLStore) queryMemories(ctx context.Context, query string, args ...any) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()
	var out []*models.Memory
	for rows.Next() {
		var m models.Memory
		var typ string
		if err := rows.Scan(&m.ID, &m.UserID, &typ, &m.Content, &m.Importance, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Type = models.MemoryType(typ)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLStore) SearchMemories(ctx context.Context, userID, query string, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, user_id, type, content, importance, created_at, updated_at FROM memories WHERE user_id = ?`
	args := []any{userID}
	for _, term := range strings.Fields(strings.ToLower(query)) {
		q += ` AND LOWER(content) LIKE ?`
		args = append(args, "%"+term+"%")
	}
	q += ` ORDER BY importance DESC LIMIT ?`
	args = append(args, limit)
	return s.queryMemories(ctx, q, args...)
}

func (s *SQLStore) ListMemories(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM memories WHERE user_id = ?`), userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count memories: %w", err)
	}
	out, err := s.queryMemories(ctx, `
		SELECT id, user_id, type, content, importance, created_at, updated_at FROM memories
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	return out, total, err
}

func (s *SQLStore) DeleteMemory(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM memories WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetImportantMemories(ctx context.Context, userID string, threshold float64, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryMemories(ctx, `
		SELECT id, user_id, type, content, importance, created_at, updated_at FROM memories
		WHERE user_id = ? AND importance >= ? ORDER BY importance DESC LIMIT ?`,
		userID, threshold, limit)
}

// --- goals ---

func (s *SQLStore) CreateGoal(ctx context.Context, goal *models.Goal) error {
	if goal == nil || goal.UserID == "" || goal.Title == "" {
		return fmt.Errorf("goal, user id and title are required")
	}
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
	actions, err := marshalJSONColumn(goal.NextActions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO goals (id, user_id, title, description, status, priority, next_actions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		goal.ID, goal.UserID, goal.Title, goal.Description, string(goal.Status),
		goal.Priority, actions, goal.CreatedAt, goal.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create goal: %w", err)
	}
	return nil
}

func scanGoal(row stepScanner) (*models.Goal, error) {
	var g models.Goal
	var status, actions string
	err := row.Scan(&g.ID, &g.UserID, &g.Title, &g.Description, &status, &g.Priority,
		&actions, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan goal: %w", err)
	}
	g.Status = models.GoalStatus(status)
	if actions != "" {
		if err := json.Unmarshal([]byte(actions), &g.NextActions); err != nil {
			return nil, fmt.Errorf("unmarshal next actions: %w", err)
		}
	}
	return &g, nil
}

const goalColumns = `id, user_id, title, description, status, priority, next_actions, created_at, updated_at`

func (s *SQLStore) GetGoal(ctx context.Context, userID, id string) (*models.Goal, error) {
	return scanGoal(s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+goalColumns+` FROM goals WHERE id = ? AND user_id = ?`), id, userID))
}

func (s *SQLStore) UpdateGoal(ctx context.Context, goal *models.Goal) error {
	if goal == nil || goal.ID == "" {
		return fmt.Errorf("goal id is required")
	}
	goal.UpdatedAt = time.Now()
	actions, err := marshalJSONColumn(goal.NextActions)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE goals SET title = ?, description = ?, status = ?, priority = ?, next_actions = ?, updated_at = ?
		WHERE id = ?`),
		goal.Title, goal.Description, string(goal.Status), goal.Priority, actions, goal.UpdatedAt, goal.ID)
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) CompleteGoalStep(ctx context.Context, userID, id string) (*models.Goal, error) {
	goal, err := s.GetGoal(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if len(goal.NextActions) > 0 {
		goal.NextActions = goal.NextActions[1:]
	}
	if len(goal.NextActions) == 0 {
		goal.Status = models.GoalCompleted
	}
	if err := s.UpdateGoal(ctx, goal); err != nil {
		return nil, err
	}
	return goal, nil
}

func (s *SQLStore) GetActiveGoals(ctx context.Context, userID string, limit int) ([]*models.Goal, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+goalColumns+` FROM goals WHERE user_id = ? AND status = ? ORDER BY priority DESC LIMIT ?`),
		userID, string(models.GoalActive), limit)
	if err != nil {
		return nil, fmt.Errorf("get active goals: %w", err)
	}
	defer rows.Close()
	var goals []*models.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

func (s *SQLStore) GetNextActions(ctx context.Context, userID string, limit int) ([]string, error) {
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

// --- custom tools ---

const customToolColumns = `id, user_id, name, description, parameters, code, language, enabled, approved, usage_count, created_at, updated_at`

func (s *SQLStore) CreateCustomTool(ctx context.Context, tool *models.CustomTool) error {
	if tool == nil || tool.UserID == "" || tool.Name == "" {
		return fmt.Errorf("tool, user id and name are required")
	}
	if _, err := s.GetCustomToolByName(ctx, tool.UserID, tool.Name); err == nil {
		return ErrAlreadyExists
	}
	if tool.ID == "" {
		tool.ID = uuid.NewString()
	}
	now := time.Now()
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = now
	}
	tool.UpdatedAt = now
	params, err := marshalJSONColumn(tool.Parameters)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO custom_tools (`+customToolColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		tool.ID, tool.UserID, tool.Name, tool.Description, params, tool.Code,
		tool.Language, tool.Enabled, tool.Approved, tool.UsageCount, tool.CreatedAt, tool.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create custom tool: %w", err)
	}
	return nil
}

func scanCustomTool(row stepScanner) (*models.CustomTool, error) {
	var t models.CustomTool
	var params string
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Description, &params, &t.Code,
		&t.Language, &t.Enabled, &t.Approved, &t.UsageCount, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan custom tool: %w", err)
	}
	if params != "" {
		if err := json.Unmarshal([]byte(params), &t.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal tool parameters: %w", err)
		}
	}
	return &t, nil
}

func (s *SQLStore) GetCustomTool(ctx context.Context, userID, id string) (*models.CustomTool, error) {
	return scanCustomTool(s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+customToolColumns+` FROM custom_tools WHERE id = ? AND user_id = ?`), id, userID))
}

func (s *SQLStore) GetCustomToolByName(ctx context.Context, userID, name string) (*models.CustomTool, error) {
	return scanCustomTool(s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+customToolColumns+` FROM custom_tools WHERE name = ? AND user_id = ?`), name, userID))
}

func (s *SQLStore) ListCustomTools(ctx context.Context, userID string, filter CustomToolFilter) ([]*models.CustomTool, error) {
	q := `SELECT ` + customToolColumns + ` FROM custom_tools WHERE user_id = ?`
	args := []any{userID}
	if filter.Enabled != nil {
		q += ` AND enabled = ?`
		args = append(args, *filter.Enabled)
	}
	if filter.Approved != nil {
		q += ` AND approved = ?`
		args = append(args, *filter.Approved)
	}
	q += ` ORDER BY name`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list custom tools: %w", err)
	}
	defer rows.Close()
	var tools []*models.CustomTool
	for rows.Next() {
		t, err := scanCustomTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

func (s *SQLStore) UpdateCustomTool(ctx context.Context, tool *models.CustomTool) error {
	if tool == nil || tool.ID == "" {
		return fmt.Errorf("tool id is required")
	}
	tool.UpdatedAt = time.Now()
	params, err := marshalJSONColumn(tool.Parameters)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE custom_tools SET name = ?, description = ?, parameters = ?, code = ?, language = ?, enabled = ?, approved = ?, usage_count = ?, updated_at = ?
		WHERE id = ?`),
		tool.Name, tool.Description, params, tool.Code, tool.Language,
		tool.Enabled, tool.Approved, tool.UsageCount, tool.UpdatedAt, tool.ID)
	if err != nil {
		return fmt.Errorf("update custom tool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteCustomTool(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM custom_tools WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("delete custom tool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) setCustomToolFlag(ctx context.Context, userID, id, column string, value any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE custom_tools SET `+column+` = ?, updated_at = ? WHERE id = ? AND user_id = ?`),
		value, time.Now(), id, userID)
	if err != nil {
		return fmt.Errorf("update custom tool %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) SetCustomToolEnabled(ctx context.Context, userID, id string, enabled bool) error {
	return s.setCustomToolFlag(ctx, userID, id, "enabled", enabled)
}

func (s *SQLStore) SetCustomToolApproved(ctx context.Context, userID, id string, approved bool) error {
	return s.setCustomToolFlag(ctx, userID, id, "approved", approved)
}

func (s *SQLStore) RecordCustomToolUsage(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE custom_tools SET usage_count = usage_count + 1, updated_at = ? WHERE id = ? AND user_id = ?`),
		time.Now(), id, userID)
	if err != nil {
		return fmt.Errorf("record custom tool usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetActiveCustomTools(ctx context.Context, userID string) ([]*models.CustomTool, error) {
	enabled, approved := true, true
	return s.ListCustomTools(ctx, userID, CustomToolFilter{Enabled: &enabled, Approved: &approved})
}

// --- approvals ---

func (s *SQLStore) CreateApproval(ctx context.Context, req *models.ApprovalRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("approval id is required")
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	params, err := marshalJSONColumn(req.Params)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO approvals (id, user_id, category, action_type, description, params, status, expires_at, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		req.ID, req.UserID, req.Category, req.ActionType, req.Description, params,
		string(req.Status), req.ExpiresAt, req.CreatedAt, nullTime(req.ResolvedAt))
	if err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

func (s *SQLStore) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	var status, params string
	var resolvedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, user_id, category, action_type, description, params, status, expires_at, created_at, resolved_at
		FROM approvals WHERE id = ?`), id).
		Scan(&req.ID, &req.UserID, &req.Category, &req.ActionType, &req.Description,
			&params, &status, &req.ExpiresAt, &req.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	req.Status = models.ApprovalStatus(status)
	if params != "" {
		if err := json.Unmarshal([]byte(params), &req.Params); err != nil {
			return nil, fmt.Errorf("unmarshal approval params: %w", err)
		}
	}
	if resolvedAt.Valid {
		req.ResolvedAt = &resolvedAt.Time
	}
	return &req, nil
}

func (s *SQLStore) UpdateApproval(ctx context.Context, req *models.ApprovalRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("approval id is required")
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE approvals SET status = ?, resolved_at = ? WHERE id = ?`),
		string(req.Status), nullTime(req.ResolvedAt), req.ID)
	if err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) PruneApprovals(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM approvals WHERE (status != ? AND created_at < ?) OR (status = ? AND expires_at < ?)`),
		string(models.ApprovalPending), cutoff, string(models.ApprovalPending), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune approvals: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- triggers ---

const triggerColumns = `id, user_id, name, kind, expr, action, payload, workspace_id, match, enabled, last_fired_at, created_at, updated_at`

func (s *SQLStore) CreateTrigger(ctx context.Context, trig *models.Trigger) error {
	if trig == nil || trig.UserID == "" || trig.Name == "" {
		return fmt.Errorf("trigger, user id and name are required")
	}
	if trig.ID == "" {
		trig.ID = uuid.NewString()
	}
	now := time.Now()
	if trig.CreatedAt.IsZero() {
		trig.CreatedAt = now
	}
	trig.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO triggers (`+triggerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		trig.ID, trig.UserID, trig.Name, string(trig.Kind), trig.Expr, string(trig.Action),
		trig.Payload, trig.WorkspaceID, trig.Match, trig.Enabled,
		nullTime(trig.LastFiredAt), trig.CreatedAt, trig.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create trigger: %w", err)
	}
	return nil
}

func scanTrigger(row stepScanner) (*models.Trigger, error) {
	var t models.Trigger
	var kind, action string
	var lastFired sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &kind, &t.Expr, &action, &t.Payload,
		&t.WorkspaceID, &t.Match, &t.Enabled, &lastFired, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trigger: %w", err)
	}
	t.Kind = models.TriggerKind(kind)
	t.Action = models.TriggerAction(action)
	if lastFired.Valid {
		t.LastFiredAt = &lastFired.Time
	}
	return &t, nil
}

func (s *SQLStore) GetTrigger(ctx context.Context, userID, id string) (*models.Trigger, error) {
	return scanTrigger(s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+triggerColumns+` FROM triggers WHERE id = ? AND user_id = ?`), id, userID))
}

func (s *SQLStore) UpdateTrigger(ctx context.Context, trig *models.Trigger) error {
	if trig == nil || trig.ID == "" {
		return fmt.Errorf("trigger id is required")
	}
	trig.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE triggers SET name = ?, kind = ?, expr = ?, action = ?, payload = ?, workspace_id = ?, match = ?, enabled = ?, last_fired_at = ?, updated_at = ?
		WHERE id = ?`),
		trig.Name, string(trig.Kind), trig.Expr, string(trig.Action), trig.Payload,
		trig.WorkspaceID, trig.Match, trig.Enabled, nullTime(trig.LastFiredAt),
		trig.UpdatedAt, trig.ID)
	if err != nil {
		return fmt.Errorf("update trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteTrigger(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM triggers WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) listTriggers(ctx context.Context, query string, args ...any) ([]*models.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()
	var triggers []*models.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

func (s *SQLStore) ListTriggers(ctx context.Context, userID string) ([]*models.Trigger, error) {
	return s.listTriggers(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE user_id = ? ORDER BY name`, userID)
}

func (s *SQLStore) ListEnabledTriggers(ctx context.Context) ([]*models.Trigger, error) {
	return s.listTriggers(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE enabled = ? ORDER BY name`, true)
}

// --- usage ---

func (s *SQLStore) InsertUsage(ctx context.Context, rec *models.UsageRecord) error {
	if rec == nil {
		return fmt.Errorf("usage record is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO usage_records (id, user_id, session_id, provider, model, input_tokens, output_tokens, total_tokens, latency_ms, request_type, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.UserID, rec.SessionID, rec.Provider, rec.Model, rec.InputTokens,
		rec.OutputTokens, rec.TotalTokens, rec.LatencyMS, rec.RequestType, rec.Error, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// --- messages ---

func (s *SQLStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return fmt.Errorf("message and session id are required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	metadata, err := marshalJSONColumn(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO messages (id, session_id, channel, channel_id, direction, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.SessionID, string(msg.Channel), msg.ChannelID, string(msg.Direction),
		string(msg.Role), msg.Content, metadata, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *SQLStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, session_id, channel, channel_id, direction, role, content, metadata, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`), sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()
	var msgs []*models.Message
	for rows.Next() {
		var m models.Message
		var channel, direction, role, metadata string
		if err := rows.Scan(&m.ID, &m.SessionID, &channel, &m.ChannelID, &direction,
			&role, &m.Content, &metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Channel = models.ChannelType(channel)
		m.Direction = models.Direction(direction)
		m.Role = models.Role(role)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal message metadata: %w", err)
			}
		}
		msgs = append(msgs, &m)
	}
	// Oldest first for callers building context windows.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, rows.Err()
}
