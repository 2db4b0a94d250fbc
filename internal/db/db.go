// Package db handles database operations for kpilot
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloud-shuttle/kpilot/internal/recalc"
	"github.com/cloud-shuttle/kpilot/internal/schema"
	"github.com/cloud-shuttle/kpilot/pkg/types"
	_ "github.com/glebarez/go-sqlite"
)

// Store manages database operations
type Store struct {
	DB *sql.DB

	// now is the clock all timestamps and finish-date projections are
	// taken from; tests pin it
	now func() time.Time

	// hoursPerDay drives finish-date projection
	hoursPerDay float64
}

// Open opens a SQLite database at the given path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Set busy timeout to handle lock contention gracefully
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &Store{
		DB:          db,
		now:         time.Now,
		hoursPerDay: recalc.DefaultHoursPerDay,
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

// SetClock overrides the store's clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetHoursPerDay overrides the workday length used for projection
func (s *Store) SetHoursPerDay(h float64) {
	if h > 0 {
		s.hoursPerDay = h
	}
}

// InitSchema creates the database schema
func (s *Store) InitSchema() error {
	schemaSQL := `
	-- Tasks are the unit of tracking
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		resource TEXT DEFAULT '',
		work_hours REAL DEFAULT 0,
		baseline_hours REAL DEFAULT 0,
		variance REAL DEFAULT 0,
		hours_completed REAL DEFAULT 0,
		hours_remaining REAL DEFAULT 0,
		earned_value REAL DEFAULT 0,
		dev_hours REAL DEFAULT 0,
		dev_percent REAL DEFAULT 0,
		test_hours REAL DEFAULT 0,
		test_percent REAL DEFAULT 0,
		review_hours REAL DEFAULT 0,
		review_percent REAL DEFAULT 0,
		percent_complete INTEGER DEFAULT 0,
		current_phase TEXT DEFAULT 'development',
		cr_stage TEXT DEFAULT 'submitted',
		task_type TEXT DEFAULT 'Fixed Work',
		start_date TEXT DEFAULT '',
		finish_date TEXT DEFAULT '',
		parent_id INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (parent_id) REFERENCES tasks(id)
	);

	-- People tasks can be assigned to
	CREATE TABLE IF NOT EXISTS resources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		available_hours_per_day REAL DEFAULT 8,
		is_active INTEGER DEFAULT 1
	);

	-- Free-text audit trail of applied changes
	CREATE TABLE IF NOT EXISTS changelog (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		action TEXT,
		task_name TEXT,
		resource TEXT,
		details TEXT
	);

	-- Candidate resolutions awaiting a follow-up call
	CREATE TABLE IF NOT EXISTS pending_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TEXT NOT NULL,
		task_id INTEGER,
		action_type TEXT,
		original_query TEXT,
		options TEXT,
		expires_at TEXT NOT NULL,
		status TEXT DEFAULT 'pending'
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_tasks_resource ON tasks(resource);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);
	CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_actions(status);
	CREATE INDEX IF NOT EXISTS idx_changelog_ts ON changelog(timestamp);
	`

	_, err := s.DB.Exec(schemaSQL)
	return err
}

// MigrateSchema runs database migrations for existing databases
func (s *Store) MigrateSchema() error {
	var crStageExists bool
	err := s.DB.QueryRow(`
		SELECT COUNT(*) > 0 FROM pragma_table_info('tasks') WHERE name = 'cr_stage'
	`).Scan(&crStageExists)
	if err != nil {
		return fmt.Errorf("checking for cr_stage column: %w", err)
	}

	if !crStageExists {
		_, err := s.DB.Exec(`
			ALTER TABLE tasks ADD COLUMN cr_stage TEXT DEFAULT 'submitted';
		`)
		if err != nil {
			return fmt.Errorf("adding cr_stage column: %w", err)
		}
	}

	return nil
}

const taskColumns = `id, name, COALESCE(resource, ''), work_hours, baseline_hours, variance,
       hours_completed, hours_remaining, earned_value,
       dev_hours, dev_percent, test_hours, test_percent, review_hours, review_percent,
       percent_complete, current_phase, cr_stage, task_type,
       COALESCE(start_date, ''), COALESCE(finish_date, ''), COALESCE(parent_id, 0),
       created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var t types.Task
	err := row.Scan(
		&t.ID, &t.Name, &t.Resource, &t.WorkHours, &t.BaselineHours, &t.Variance,
		&t.HoursCompleted, &t.HoursRemaining, &t.EarnedValue,
		&t.DevHours, &t.DevPercent, &t.TestHours, &t.TestPercent, &t.ReviewHours, &t.ReviewPercent,
		&t.PercentComplete, &t.CurrentPhase, &t.CRStage, &t.Type,
		&t.StartDate, &t.FinishDate, &t.ParentID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(id int64) (*types.Task, error) {
	task, err := scanTask(s.DB.QueryRow(`
		SELECT `+taskColumns+` FROM tasks WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %d: %w", id, err)
	}
	return task, nil
}

// ListTasks returns all tasks ordered by id
func (s *Store) ListTasks() ([]*types.Task, error) {
	rows, err := s.DB.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListSubtasks returns the direct subtasks of a parent task
func (s *Store) ListSubtasks(parentID int64) ([]*types.Task, error) {
	rows, err := s.DB.Query(`
		SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? ORDER BY id ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("querying subtasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subtask: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CreateTask inserts a new task. A zero ID lets SQLite assign one; a
// positive ID is honored so imports keep their numbering. Derived
// fields are computed at insert time.
func (s *Store) CreateTask(t *types.Task) (*types.Task, error) {
	if t.ParentID != 0 {
		parent, err := s.GetTask(t.ParentID)
		if err != nil {
			return nil, fmt.Errorf("parent task: %w", err)
		}
		if parent.ParentID != 0 {
			return nil, fmt.Errorf("parent task %d is already a subtask (max depth is 2 levels)", t.ParentID)
		}
	}

	now := s.now().Unix()
	t.Variance = recalc.Variance(t.WorkHours, t.BaselineHours)
	t.HoursCompleted = recalc.HoursCompleted(t.WorkHours, t.PercentComplete)
	t.HoursRemaining = recalc.HoursRemaining(t.WorkHours, t.PercentComplete)
	t.EarnedValue = recalc.EarnedValue(t.BaselineHours, t.PercentComplete)
	if t.CurrentPhase == "" {
		t.CurrentPhase = types.PhaseDevelopment
	}
	if t.CRStage == "" {
		t.CRStage = types.CRStageSubmitted
	}
	if t.Type == "" {
		t.Type = types.TaskTypeFixedWork
	}

	var idValue any
	if t.ID > 0 {
		idValue = t.ID
	}
	var parentValue any
	if t.ParentID != 0 {
		parentValue = t.ParentID
	}

	res, err := s.DB.Exec(`
		INSERT INTO tasks (id, name, resource, work_hours, baseline_hours, variance,
		                   hours_completed, hours_remaining, earned_value,
		                   dev_hours, dev_percent, test_hours, test_percent, review_hours, review_percent,
		                   percent_complete, current_phase, cr_stage, task_type,
		                   start_date, finish_date, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, idValue, t.Name, t.Resource, t.WorkHours, t.BaselineHours, t.Variance,
		t.HoursCompleted, t.HoursRemaining, t.EarnedValue,
		t.DevHours, t.DevPercent, t.TestHours, t.TestPercent, t.ReviewHours, t.ReviewPercent,
		t.PercentComplete, t.CurrentPhase, t.CRStage, t.Type,
		t.StartDate, t.FinishDate, parentValue, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	if t.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("getting task id: %w", err)
		}
		t.ID = id
	}

	if t.ParentID != 0 {
		if err := s.rollupParent(t.ParentID); err != nil {
			return nil, err
		}
	}

	return s.GetTask(t.ID)
}

// taskFieldValue reads the effective value of a field from a pending
// update, falling back to the task's current value
func floatField(fields map[string]any, name string, current float64) float64 {
	if v, ok := fields[name]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		case int:
			return float64(n)
		}
	}
	return current
}

func intField(fields map[string]any, name string, current int) int {
	if v, ok := fields[name]; ok {
		switch n := v.(type) {
		case int64:
			return int(n)
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return current
}

// UpdateTask applies field values to a task. Unknown and read-only
// fields are silently dropped. Derived fields (hours_completed,
// hours_remaining, earned_value, variance) are always re-derived from
// the effective work_hours / baseline_hours / percent_complete, and
// finish_date is re-projected when percent_complete or work_hours
// changed, finish_date was not explicitly supplied, remaining hours are
// positive and the task has a start date. A cr_stage change nudges
// percent_complete up to the stage minimum, never down. The write and
// the parent rollup commit in one transaction.
func (s *Store) UpdateTask(id int64, fields map[string]any) (*types.Task, error) {
	current, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}

	filtered := make(map[string]any, len(fields))
	for name, value := range fields {
		if !schema.Editable(name) {
			continue
		}
		coerced, err := schema.Coerce(schema.Fields[name], value)
		if err != nil {
			return nil, fmt.Errorf("coercing %s: %w", name, err)
		}
		filtered[name] = coerced
	}
	if len(filtered) == 0 {
		return current, nil
	}

	// Stage changes pull percent_complete up to the stage floor
	if v, ok := filtered["cr_stage"]; ok {
		stage := types.CRStage(v.(string))
		if floor, ok := types.CRStageMinPercent[stage]; ok {
			pct := intField(filtered, "percent_complete", current.PercentComplete)
			if floor > pct {
				filtered["percent_complete"] = int64(floor)
			}
		}
	}

	workHours := recalc.Round1(floatField(filtered, "work_hours", current.WorkHours))
	baseline := recalc.Round1(floatField(filtered, "baseline_hours", current.BaselineHours))
	percent := intField(filtered, "percent_complete", current.PercentComplete)

	filtered["hours_completed"] = recalc.HoursCompleted(workHours, percent)
	hoursRemaining := recalc.HoursRemaining(workHours, percent)
	filtered["hours_remaining"] = hoursRemaining
	filtered["earned_value"] = recalc.EarnedValue(baseline, percent)
	variance := recalc.Variance(workHours, baseline)

	_, pctChanged := fields["percent_complete"]
	_, workChanged := fields["work_hours"]
	_, stageChanged := fields["cr_stage"]
	_, finishSupplied := fields["finish_date"]
	if (pctChanged || workChanged || stageChanged) && !finishSupplied && hoursRemaining > 0 {
		if _, err := time.Parse(recalc.DateLayout, valueOr(filtered, "start_date", current.StartDate)); err == nil {
			finish := recalc.ProjectFinish(s.now(), hoursRemaining, s.hoursPerDay)
			filtered["finish_date"] = finish.Format(recalc.DateLayout)
		}
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	setClause := "variance = ?, updated_at = ?"
	args := []any{variance, s.now().Unix()}
	for name, value := range filtered {
		if name == "parent_id" {
			// normalize 0 to NULL to keep the FK satisfied
			setClause += ", parent_id = ?"
			if n, _ := value.(int64); n == 0 {
				args = append(args, nil)
			} else {
				args = append(args, value)
			}
			continue
		}
		setClause += ", " + name + " = ?"
		args = append(args, value)
	}
	args = append(args, id)

	if _, err := tx.Exec("UPDATE tasks SET "+setClause+" WHERE id = ?", args...); err != nil {
		return nil, fmt.Errorf("updating task %d: %w", id, err)
	}

	// Roll up the old and (if reparented) new parent before returning
	parents := map[int64]bool{}
	if current.ParentID != 0 {
		parents[current.ParentID] = true
	}
	if v, ok := filtered["parent_id"]; ok {
		if n, _ := v.(int64); n != 0 {
			parents[n] = true
		}
	}
	for parentID := range parents {
		if err := s.rollupParentTx(tx, parentID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing update: %w", err)
	}

	return s.GetTask(id)
}

func valueOr(fields map[string]any, name, current string) string {
	if v, ok := fields[name]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return current
}

// rollupParent recomputes a parent's aggregate fields in its own
// transaction
func (s *Store) rollupParent(parentID int64) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("beginning rollup transaction: %w", err)
	}
	defer tx.Rollback()
	if err := s.rollupParentTx(tx, parentID); err != nil {
		return err
	}
	return tx.Commit()
}

// rollupParentTx recomputes a parent task's aggregate fields from its
// direct subtasks, inside the caller's transaction. Hierarchy is at
// most two levels deep, so no recursion is needed.
func (s *Store) rollupParentTx(tx *sql.Tx, parentID int64) error {
	rows, err := tx.Query(`
		SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? ORDER BY id ASC
	`, parentID)
	if err != nil {
		return fmt.Errorf("querying subtasks for rollup: %w", err)
	}
	defer rows.Close()

	var subtasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return fmt.Errorf("scanning subtask for rollup: %w", err)
		}
		subtasks = append(subtasks, task)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(subtasks) == 0 {
		return nil
	}

	r := recalc.AggregateParent(subtasks)
	variance := recalc.Variance(r.WorkHours, r.BaselineHours)

	_, err = tx.Exec(`
		UPDATE tasks SET
			work_hours = ?,
			baseline_hours = ?,
			variance = ?,
			hours_completed = ?,
			hours_remaining = ?,
			earned_value = ?,
			dev_hours = ?,
			test_hours = ?,
			review_hours = ?,
			percent_complete = ?,
			start_date = COALESCE(NULLIF(?, ''), start_date),
			finish_date = COALESCE(NULLIF(?, ''), finish_date),
			updated_at = ?
		WHERE id = ?
	`, r.WorkHours, r.BaselineHours, variance,
		r.HoursCompleted, r.HoursRemaining, r.EarnedValue,
		r.DevHours, r.TestHours, r.ReviewHours,
		r.PercentComplete, r.StartDate, r.FinishDate,
		s.now().Unix(), parentID)
	if err != nil {
		return fmt.Errorf("rolling up parent %d: %w", parentID, err)
	}
	return nil
}
