// Package recalc implements the derived-field formulas applied on every
// task mutation. All functions are pure: they take scalar inputs and
// return values, leaving persistence to the caller.
package recalc

import (
	"math"
	"time"

	"github.com/cloud-shuttle/kpilot/pkg/types"
)

// DefaultHoursPerDay is the workday length used for finish projection
const DefaultHoursPerDay = 8.0

// DateLayout is the wire format for task dates
const DateLayout = "2006-01-02"

// Round1 rounds to one decimal place, the precision all derived hour
// quantities are stored at
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// ClampPercent rounds to the nearest integer and clamps to [0, 100]
func ClampPercent(v float64) int {
	p := int(math.Round(v))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Variance is the overrun against the original plan
func Variance(workHours, baselineHours float64) float64 {
	return Round1(workHours - baselineHours)
}

// EarnedValue is baseline hours scaled by completion
func EarnedValue(baselineHours float64, percentComplete int) float64 {
	return Round1(baselineHours * float64(percentComplete) / 100)
}

// HoursCompleted is total hours scaled by completion
func HoursCompleted(workHours float64, percentComplete int) float64 {
	return Round1(workHours * float64(percentComplete) / 100)
}

// HoursRemaining is what is left after completed hours
func HoursRemaining(workHours float64, percentComplete int) float64 {
	return Round1(workHours - workHours*float64(percentComplete)/100)
}

// ProjectFinish walks forward from `from` one day at a time, counting
// only weekdays, until the counted days cover remainingHours at
// hoursPerDay per day. Projection deliberately starts from the current
// date rather than the task's start or finish date: the schedule is
// always re-planned from now.
//
// Zero or negative remaining hours performs no advancement and returns
// `from` unchanged; the caller decides whether to keep the old date.
func ProjectFinish(from time.Time, remainingHours, hoursPerDay float64) time.Time {
	if remainingHours <= 0 || hoursPerDay <= 0 {
		return from
	}
	workDays := remainingHours / hoursPerDay
	current := from
	counted := 0.0
	for counted < workDays {
		current = current.AddDate(0, 0, 1)
		if wd := current.Weekday(); wd != time.Saturday && wd != time.Sunday {
			counted++
		}
	}
	return current
}

// ParentRollup holds the aggregate field values a parent task inherits
// from its subtasks
type ParentRollup struct {
	WorkHours       float64
	BaselineHours   float64
	HoursCompleted  float64
	HoursRemaining  float64
	EarnedValue     float64
	DevHours        float64
	TestHours       float64
	ReviewHours     float64
	PercentComplete int
	// StartDate / FinishDate are empty when no subtask supplies one,
	// meaning the parent's own dates are left untouched
	StartDate  string
	FinishDate string
}

// AggregateParent sums subtask hours into the parent's fields. The
// overall percentage is the work_hours-weighted average of subtask
// percentages (0 when total work is 0); the date range is the earliest
// subtask start to the latest subtask finish.
func AggregateParent(subtasks []*types.Task) ParentRollup {
	var r ParentRollup
	var weighted float64
	for _, t := range subtasks {
		r.WorkHours += t.WorkHours
		r.BaselineHours += t.BaselineHours
		r.HoursCompleted += t.HoursCompleted
		r.HoursRemaining += t.HoursRemaining
		r.EarnedValue += t.EarnedValue
		r.DevHours += t.DevHours
		r.TestHours += t.TestHours
		r.ReviewHours += t.ReviewHours
		weighted += float64(t.PercentComplete) * t.WorkHours

		if t.StartDate != "" && (r.StartDate == "" || t.StartDate < r.StartDate) {
			r.StartDate = t.StartDate
		}
		if t.FinishDate != "" && (r.FinishDate == "" || t.FinishDate > r.FinishDate) {
			r.FinishDate = t.FinishDate
		}
	}

	if r.WorkHours > 0 {
		r.PercentComplete = ClampPercent(weighted / r.WorkHours)
	}

	r.WorkHours = Round1(r.WorkHours)
	r.BaselineHours = Round1(r.BaselineHours)
	r.HoursCompleted = Round1(r.HoursCompleted)
	r.HoursRemaining = Round1(r.HoursRemaining)
	r.EarnedValue = Round1(r.EarnedValue)
	r.DevHours = Round1(r.DevHours)
	r.TestHours = Round1(r.TestHours)
	r.ReviewHours = Round1(r.ReviewHours)
	return r
}
