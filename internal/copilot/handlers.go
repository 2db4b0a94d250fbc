package copilot

import (
	"fmt"
	"math"

	"github.com/cloud-shuttle/kpilot/internal/recalc"
	"github.com/cloud-shuttle/kpilot/pkg/types"
)

func phaseHoursField(p types.Phase) string {
	switch p {
	case types.PhaseDevelopment:
		return "dev_hours"
	case types.PhaseTesting:
		return "test_hours"
	case types.PhaseReview:
		return "review_hours"
	}
	return ""
}

func phasePercentField(p types.Phase) string {
	switch p {
	case types.PhaseDevelopment:
		return "dev_percent"
	case types.PhaseTesting:
		return "test_percent"
	case types.PhaseReview:
		return "review_percent"
	}
	return ""
}

// logHoursChanges converts "N hours of work happened" into a change set.
// Logged hours are progress: completed work grows and percent_complete is
// recomputed. When the logged total exceeds the allocation, or the task
// has no allocation yet, work_hours is raised to the logged total so the
// task never ends up more than 100% done.
func logHoursChanges(task *types.Task, hours float64, phase types.Phase) []types.ChangeEntry {
	work := task.WorkHours
	newCompleted := task.HoursCompleted + hours

	var changes []types.ChangeEntry
	if newCompleted > work || work <= 0 {
		changes = append(changes, types.ChangeEntry{
			TaskID: task.ID, Field: "work_hours", Value: recalc.Round1(newCompleted),
		})
		work = newCompleted
	}

	percent := 0
	if work > 0 {
		percent = int(math.Round(newCompleted / work * 100))
		if percent > 100 {
			percent = 100
		}
	}
	changes = append(changes, types.ChangeEntry{
		TaskID: task.ID, Field: "percent_complete", Value: percent,
	})

	if phase != "" {
		total := task.PhaseHours(phase)
		if total > 0 {
			completed := total*task.PhasePercent(phase)/100 + hours
			pct := math.Round(completed / total * 100)
			if pct > 100 {
				pct = 100
			}
			changes = append(changes, types.ChangeEntry{
				TaskID: task.ID, Field: phasePercentField(phase), Value: pct,
			})
		}
	}

	return changes
}

// addHoursResult is either a ready change set or, when the instruction
// left the target phase ambiguous, the candidate options to choose from.
type addHoursResult struct {
	Changes []types.ChangeEntry
	Options []types.Option
}

// addHoursChanges converts "grow the allocation by N hours" into a change
// set. Added hours are scope, not progress: percent_complete is untouched.
// Without a phase or distribution mode the outcome depends on the task:
// tasks with no phase breakdown get a direct work_hours bump, tasks with
// one need the caller to pick a phase.
func addHoursChanges(task *types.Task, hours float64, phase types.Phase, mode string) addHoursResult {
	if phase == "" && mode == "" {
		if !task.HasPhaseHours() {
			return addHoursResult{Changes: []types.ChangeEntry{{
				TaskID: task.ID, Field: "work_hours", Value: recalc.Round1(task.WorkHours + hours),
			}}}
		}
		return addHoursResult{Options: phaseSelectionOptions(task, hours)}
	}

	newTotal := task.WorkHours + hours
	var changes []types.ChangeEntry

	if mode == "scale_all" {
		if task.WorkHours > 0 {
			factor := newTotal / task.WorkHours
			changes = append(changes,
				types.ChangeEntry{TaskID: task.ID, Field: "dev_hours", Value: recalc.Round1(task.DevHours * factor)},
				types.ChangeEntry{TaskID: task.ID, Field: "test_hours", Value: recalc.Round1(task.TestHours * factor)},
				types.ChangeEntry{TaskID: task.ID, Field: "review_hours", Value: recalc.Round1(task.ReviewHours * factor)},
			)
		}
	} else if phase != "" {
		changes = append(changes, types.ChangeEntry{
			TaskID: task.ID, Field: phaseHoursField(phase), Value: recalc.Round1(task.PhaseHours(phase) + hours),
		})
	}

	changes = append(changes, types.ChangeEntry{
		TaskID: task.ID, Field: "work_hours", Value: recalc.Round1(newTotal),
	})
	return addHoursResult{Changes: changes}
}

// phaseSelectionOptions builds the candidate resolutions offered when an
// instruction added hours to a task with a phase breakdown but named no
// phase. The last option is always the explicit cancel.
func phaseSelectionOptions(task *types.Task, delta float64) []types.Option {
	newTotal := task.WorkHours + delta

	options := []types.Option{
		{
			Ordinal:     1,
			Label:       fmt.Sprintf("Add to Development (+%gh)", delta),
			Description: fmt.Sprintf("Dev: %gh -> %gh | Total: %gh -> %gh", task.DevHours, task.DevHours+delta, task.WorkHours, newTotal),
			Changes: []types.ChangeEntry{
				{TaskID: task.ID, Field: "dev_hours", Value: task.DevHours + delta},
				{TaskID: task.ID, Field: "work_hours", Value: newTotal},
			},
		},
		{
			Ordinal:     2,
			Label:       fmt.Sprintf("Add to Testing (+%gh)", delta),
			Description: fmt.Sprintf("Test: %gh -> %gh | Total: %gh -> %gh", task.TestHours, task.TestHours+delta, task.WorkHours, newTotal),
			Changes: []types.ChangeEntry{
				{TaskID: task.ID, Field: "test_hours", Value: task.TestHours + delta},
				{TaskID: task.ID, Field: "work_hours", Value: newTotal},
			},
		},
		{
			Ordinal:     3,
			Label:       fmt.Sprintf("Add to Review (+%gh)", delta),
			Description: fmt.Sprintf("Review: %gh -> %gh | Total: %gh -> %gh", task.ReviewHours, task.ReviewHours+delta, task.WorkHours, newTotal),
			Changes: []types.ChangeEntry{
				{TaskID: task.ID, Field: "review_hours", Value: task.ReviewHours + delta},
				{TaskID: task.ID, Field: "work_hours", Value: newTotal},
			},
		},
		{
			Ordinal:     4,
			Label:       "Scale all phases proportionally",
			Description: fmt.Sprintf("Distribute +%gh across Dev/Test/Review based on current ratios", delta),
		},
		{
			Ordinal:     5,
			Label:       "Cancel",
			Description: "No changes",
			Cancel:      true,
		},
	}

	if task.WorkHours > 0 {
		factor := newTotal / task.WorkHours
		newDev := recalc.Round1(task.DevHours * factor)
		newTest := recalc.Round1(task.TestHours * factor)
		newReview := recalc.Round1(task.ReviewHours * factor)
		options[3].Changes = []types.ChangeEntry{
			{TaskID: task.ID, Field: "dev_hours", Value: newDev},
			{TaskID: task.ID, Field: "test_hours", Value: newTest},
			{TaskID: task.ID, Field: "review_hours", Value: newReview},
			{TaskID: task.ID, Field: "work_hours", Value: newTotal},
		}
		options[3].Description = fmt.Sprintf("Dev: %gh | Test: %gh | Review: %gh", newDev, newTest, newReview)
	}

	return options
}
