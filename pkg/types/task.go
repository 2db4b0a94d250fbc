// Package types defines core data structures for kpilot
package types

// Phase identifies one of the three work phases a task is broken into
type Phase string

const (
	PhaseDevelopment Phase = "development"
	PhaseTesting     Phase = "testing"
	PhaseReview      Phase = "review"
)

// Phases lists the work phases in canonical order
var Phases = []Phase{PhaseDevelopment, PhaseTesting, PhaseReview}

// TaskType represents the scheduling type of a task
type TaskType string

const (
	TaskTypeFixedWork     TaskType = "Fixed Work"
	TaskTypeFixedDuration TaskType = "Fixed Duration"
	TaskTypeFixedUnits    TaskType = "Fixed Units"
)

// TaskTypes lists the allowed task types
var TaskTypes = []TaskType{TaskTypeFixedWork, TaskTypeFixedDuration, TaskTypeFixedUnits}

// CRStage represents a change-request lifecycle stage
type CRStage string

const (
	CRStageSubmitted       CRStage = "submitted"
	CRStageScreening       CRStage = "screening"
	CRStageAnalysis        CRStage = "analysis"
	CRStageApproved        CRStage = "approved"
	CRStageInDevelopment   CRStage = "in_development"
	CRStageInTesting       CRStage = "in_testing"
	CRStageInReview        CRStage = "in_review"
	CRStageReadyForRelease CRStage = "ready_for_release"
	CRStageClosed          CRStage = "closed"
)

// CRStages lists the lifecycle stages in order
var CRStages = []CRStage{
	CRStageSubmitted,
	CRStageScreening,
	CRStageAnalysis,
	CRStageApproved,
	CRStageInDevelopment,
	CRStageInTesting,
	CRStageInReview,
	CRStageReadyForRelease,
	CRStageClosed,
}

// CRStageMinPercent maps each stage to its suggested minimum
// percent_complete. Moving a task into a stage nudges percent_complete
// up to this floor; it never lowers it.
var CRStageMinPercent = map[CRStage]int{
	CRStageSubmitted:       0,
	CRStageScreening:       5,
	CRStageAnalysis:        10,
	CRStageApproved:        20,
	CRStageInDevelopment:   40,
	CRStageInTesting:       70,
	CRStageInReview:        85,
	CRStageReadyForRelease: 95,
	CRStageClosed:          100,
}

// Task represents a tracked unit of project work
type Task struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Resource string `json:"resource" db:"resource"`

	WorkHours      float64 `json:"work_hours" db:"work_hours"`
	BaselineHours  float64 `json:"baseline_hours" db:"baseline_hours"`
	Variance       float64 `json:"variance" db:"variance"`
	HoursCompleted float64 `json:"hours_completed" db:"hours_completed"`
	HoursRemaining float64 `json:"hours_remaining" db:"hours_remaining"`
	EarnedValue    float64 `json:"earned_value" db:"earned_value"`

	DevHours      float64 `json:"dev_hours" db:"dev_hours"`
	DevPercent    float64 `json:"dev_percent" db:"dev_percent"`
	TestHours     float64 `json:"test_hours" db:"test_hours"`
	TestPercent   float64 `json:"test_percent" db:"test_percent"`
	ReviewHours   float64 `json:"review_hours" db:"review_hours"`
	ReviewPercent float64 `json:"review_percent" db:"review_percent"`

	PercentComplete int      `json:"percent_complete" db:"percent_complete"`
	CurrentPhase    Phase    `json:"current_phase" db:"current_phase"`
	CRStage         CRStage  `json:"cr_stage" db:"cr_stage"`
	Type            TaskType `json:"task_type" db:"task_type"`

	// Dates are YYYY-MM-DD strings; empty means unset
	StartDate  string `json:"start_date" db:"start_date"`
	FinishDate string `json:"finish_date" db:"finish_date"`

	// ParentID references the containing task by id. Zero means
	// top-level. At most two levels of hierarchy are supported.
	ParentID int64 `json:"parent_id,omitempty" db:"parent_id"`

	CreatedAt int64 `json:"created_at" db:"created_at"`
	UpdatedAt int64 `json:"updated_at" db:"updated_at"`
}

// HasPhaseHours reports whether any of the three phases has hours booked
func (t *Task) HasPhaseHours() bool {
	return t.DevHours > 0 || t.TestHours > 0 || t.ReviewHours > 0
}

// PhaseHours returns the hours allocation for the given phase
func (t *Task) PhaseHours(p Phase) float64 {
	switch p {
	case PhaseDevelopment:
		return t.DevHours
	case PhaseTesting:
		return t.TestHours
	case PhaseReview:
		return t.ReviewHours
	}
	return 0
}

// PhasePercent returns the completion percentage for the given phase
func (t *Task) PhasePercent(p Phase) float64 {
	switch p {
	case PhaseDevelopment:
		return t.DevPercent
	case PhaseTesting:
		return t.TestPercent
	case PhaseReview:
		return t.ReviewPercent
	}
	return 0
}

// Resource represents a person tasks can be assigned to
type Resource struct {
	ID                int64   `json:"id" db:"id"`
	Name              string  `json:"name" db:"name"`
	AvailableHoursDay float64 `json:"available_hours_per_day" db:"available_hours_per_day"`
	Active            bool    `json:"is_active" db:"is_active"`
}

// ResourceAllocation summarizes a resource's workload across all tasks
type ResourceAllocation struct {
	Name          string  `json:"name"`
	Capacity      float64 `json:"capacity"`
	Allocated     float64 `json:"allocated"`
	Completed     float64 `json:"completed"`
	Remaining     float64 `json:"remaining"`
	Available     float64 `json:"available"`
	Utilization   float64 `json:"utilization"`
	Overallocated bool    `json:"overallocated"`
}

// Summary aggregates project-wide totals
type Summary struct {
	TotalTasks       int     `json:"total_tasks"`
	TotalHours       float64 `json:"total_hours"`
	TotalBaseline    float64 `json:"total_baseline"`
	TotalVariance    float64 `json:"total_variance"`
	AvgPercent       float64 `json:"avg_percent"`
	TotalCompleted   float64 `json:"total_completed"`
	TotalRemaining   float64 `json:"total_remaining"`
	TotalEarnedValue float64 `json:"total_earned_value"`
}

// ChangelogEntry is a free-text audit record of one applied change
type ChangelogEntry struct {
	ID        int64  `json:"id" db:"id"`
	Timestamp string `json:"timestamp" db:"timestamp"`
	Action    string `json:"action" db:"action"`
	TaskName  string `json:"task_name" db:"task_name"`
	Resource  string `json:"resource" db:"resource"`
	Details   string `json:"details" db:"details"`
}
