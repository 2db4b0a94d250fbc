package db

import (
	"fmt"
	"math"
	"time"

	"github.com/cloud-shuttle/kpilot/internal/recalc"
	"github.com/cloud-shuttle/kpilot/pkg/types"
)

// EnsureResource inserts a resource if it does not exist yet
func (s *Store) EnsureResource(name string) error {
	if name == "" {
		return nil
	}
	_, err := s.DB.Exec(`
		INSERT OR IGNORE INTO resources (name) VALUES (?)
	`, name)
	if err != nil {
		return fmt.Errorf("ensuring resource %q: %w", name, err)
	}
	return nil
}

// ListResources returns all active resources
func (s *Store) ListResources() ([]types.Resource, error) {
	rows, err := s.DB.Query(`
		SELECT id, name, available_hours_per_day, is_active
		FROM resources WHERE is_active = 1 ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying resources: %w", err)
	}
	defer rows.Close()

	var resources []types.Resource
	for rows.Next() {
		var r types.Resource
		if err := rows.Scan(&r.ID, &r.Name, &r.AvailableHoursDay, &r.Active); err != nil {
			return nil, fmt.Errorf("scanning resource: %w", err)
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// Summary returns aggregated project totals
func (s *Store) Summary() (*types.Summary, error) {
	var sum types.Summary
	err := s.DB.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(work_hours), 0),
		       COALESCE(SUM(baseline_hours), 0),
		       COALESCE(SUM(work_hours) - SUM(baseline_hours), 0),
		       COALESCE(AVG(percent_complete), 0),
		       COALESCE(SUM(hours_completed), 0),
		       COALESCE(SUM(hours_remaining), 0),
		       COALESCE(SUM(earned_value), 0)
		FROM tasks
	`).Scan(&sum.TotalTasks, &sum.TotalHours, &sum.TotalBaseline, &sum.TotalVariance,
		&sum.AvgPercent, &sum.TotalCompleted, &sum.TotalRemaining, &sum.TotalEarnedValue)
	if err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}
	return &sum, nil
}

// ResourceAllocation computes capacity vs. allocated vs. completed per
// resource over the project's date span. Capacity assumes 5 of 7 days
// are working days at the resource's daily hours.
func (s *Store) ResourceAllocation() ([]types.ResourceAllocation, error) {
	resources, err := s.ListResources()
	if err != nil {
		return nil, err
	}
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}

	projectDays := projectSpanDays(tasks)

	var result []types.ResourceAllocation
	for _, r := range resources {
		workDays := projectDays * 5 / 7
		capacity := r.AvailableHoursDay * float64(workDays)

		var allocated, completed, remaining float64
		for _, t := range tasks {
			if t.Resource != r.Name {
				continue
			}
			allocated += t.WorkHours
			completed += t.HoursCompleted
			remaining += t.HoursRemaining
		}

		var utilization float64
		if capacity > 0 {
			utilization = allocated / capacity * 100
		}

		result = append(result, types.ResourceAllocation{
			Name:          r.Name,
			Capacity:      recalc.Round1(capacity),
			Allocated:     recalc.Round1(allocated),
			Completed:     recalc.Round1(completed),
			Remaining:     recalc.Round1(remaining),
			Available:     recalc.Round1(math.Max(0, capacity-allocated)),
			Utilization:   recalc.Round1(utilization),
			Overallocated: utilization > 100,
		})
	}
	return result, nil
}

// projectSpanDays measures the calendar span covered by task dates,
// defaulting to 30 days when no task has dates
func projectSpanDays(tasks []*types.Task) int {
	var min, max time.Time
	for _, t := range tasks {
		for _, ds := range []string{t.StartDate, t.FinishDate} {
			d, err := time.Parse(recalc.DateLayout, ds)
			if err != nil {
				continue
			}
			if min.IsZero() || d.Before(min) {
				min = d
			}
			if max.IsZero() || d.After(max) {
				max = d
			}
		}
	}
	if min.IsZero() {
		return 30
	}
	return int(max.Sub(min).Hours()/24) + 1
}

// MismatchWarning flags a task whose phase hours have drifted from its
// total work hours
type MismatchWarning struct {
	TaskID   int64
	TaskName string
	Message  string
}

// MismatchWarnings returns the tasks whose dev+test+review hours differ
// from work_hours by more than half an hour. The phase split is a soft
// invariant: it is reconciled by warnings, not enforced.
func (s *Store) MismatchWarnings() ([]MismatchWarning, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}

	var warnings []MismatchWarning
	for _, t := range tasks {
		if !t.HasPhaseHours() {
			continue
		}
		phaseTotal := t.DevHours + t.TestHours + t.ReviewHours
		if math.Abs(phaseTotal-t.WorkHours) > 0.5 {
			warnings = append(warnings, MismatchWarning{
				TaskID:   t.ID,
				TaskName: t.Name,
				Message: fmt.Sprintf("%s: phase hours total %.1fh but work_hours is %.1fh",
					t.Name, phaseTotal, t.WorkHours),
			})
		}
	}
	return warnings, nil
}
