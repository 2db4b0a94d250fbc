// Package recalc_test provides tests for the recalc package
package recalc_test

import (
	"testing"
	"time"

	"github.com/cloud-shuttle/kpilot/internal/recalc"
	"github.com/cloud-shuttle/kpilot/pkg/types"
)

func TestVariance(t *testing.T) {
	if got := recalc.Variance(50, 40); got != 10 {
		t.Errorf("Variance(50, 40) = %g, want 10", got)
	}
	if got := recalc.Variance(30, 40); got != -10 {
		t.Errorf("Variance(30, 40) = %g, want -10", got)
	}
}

func TestEarnedValue(t *testing.T) {
	if got := recalc.EarnedValue(40, 25); got != 10 {
		t.Errorf("EarnedValue(40, 25) = %g, want 10", got)
	}
	if got := recalc.EarnedValue(0, 100); got != 0 {
		t.Errorf("EarnedValue(0, 100) = %g, want 0", got)
	}
}

func TestHoursCompletedAndRemaining(t *testing.T) {
	work := 41.0
	pct := 33

	completed := recalc.HoursCompleted(work, pct)
	remaining := recalc.HoursRemaining(work, pct)

	if completed != 13.5 {
		t.Errorf("HoursCompleted(41, 33) = %g, want 13.5", completed)
	}
	if remaining != 27.5 {
		t.Errorf("HoursRemaining(41, 33) = %g, want 27.5", remaining)
	}
}

func TestClampPercent(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{-5, 0},
		{0, 0},
		{49.5, 50},
		{100, 100},
		{150, 100},
	}
	for _, c := range cases {
		if got := recalc.ClampPercent(c.in); got != c.want {
			t.Errorf("ClampPercent(%g) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestProjectFinish_SkipsWeekends(t *testing.T) {
	// Monday 2026-01-05, 40h remaining at 8h/day is five working days:
	// Tue through Sat would include a weekend, so finish lands Monday
	monday := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	finish := recalc.ProjectFinish(monday, 40, 8)

	want := "2026-01-12"
	if got := finish.Format(recalc.DateLayout); got != want {
		t.Errorf("ProjectFinish from Monday with 40h = %s, want %s", got, want)
	}
}

func TestProjectFinish_PartialDayRoundsUp(t *testing.T) {
	monday := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	// 9h at 8h/day needs a second working day
	finish := recalc.ProjectFinish(monday, 9, 8)

	want := "2026-01-07"
	if got := finish.Format(recalc.DateLayout); got != want {
		t.Errorf("ProjectFinish from Monday with 9h = %s, want %s", got, want)
	}
}

func TestProjectFinish_NothingRemaining(t *testing.T) {
	friday := time.Date(2026, 1, 9, 9, 0, 0, 0, time.UTC)

	if got := recalc.ProjectFinish(friday, 0, 8); !got.Equal(friday) {
		t.Errorf("ProjectFinish with 0h remaining moved to %v, want start date", got)
	}
	if got := recalc.ProjectFinish(friday, -4, 8); !got.Equal(friday) {
		t.Errorf("ProjectFinish with negative remaining moved to %v, want start date", got)
	}
}

func TestAggregateParent_WeightedPercent(t *testing.T) {
	subs := []*types.Task{
		{WorkHours: 10, BaselineHours: 10, HoursCompleted: 5, HoursRemaining: 5, PercentComplete: 50, StartDate: "2026-01-05", FinishDate: "2026-01-09"},
		{WorkHours: 20, BaselineHours: 18, HoursCompleted: 5, HoursRemaining: 15, PercentComplete: 25, StartDate: "2026-01-07", FinishDate: "2026-01-20"},
	}

	r := recalc.AggregateParent(subs)

	if r.WorkHours != 30 {
		t.Errorf("WorkHours = %g, want 30", r.WorkHours)
	}
	if r.BaselineHours != 28 {
		t.Errorf("BaselineHours = %g, want 28", r.BaselineHours)
	}
	// (10*50 + 20*25) / 30 = 1000/30 = 33.3 -> 33
	if r.PercentComplete != 33 {
		t.Errorf("PercentComplete = %d, want 33", r.PercentComplete)
	}
	if r.StartDate != "2026-01-05" {
		t.Errorf("StartDate = %q, want earliest subtask start", r.StartDate)
	}
	if r.FinishDate != "2026-01-20" {
		t.Errorf("FinishDate = %q, want latest subtask finish", r.FinishDate)
	}
}

func TestAggregateParent_NoSubtasks(t *testing.T) {
	r := recalc.AggregateParent(nil)

	if r.WorkHours != 0 || r.PercentComplete != 0 || r.StartDate != "" || r.FinishDate != "" {
		t.Errorf("AggregateParent(nil) = %+v, want zero rollup", r)
	}
}
