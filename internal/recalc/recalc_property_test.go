package recalc_test

import (
	"math"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/cloud-shuttle/kpilot/internal/recalc"
)

func TestHoursSplitInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		work := rapid.Float64Range(0, 10000).Draw(t, "work")
		pct := rapid.IntRange(0, 100).Draw(t, "pct")

		completed := recalc.HoursCompleted(work, pct)
		remaining := recalc.HoursRemaining(work, pct)

		if completed < 0 || remaining < 0 {
			t.Fatalf("negative split: completed=%g remaining=%g", completed, remaining)
		}
		// Each side is rounded to one decimal, so the sum can drift by
		// at most 0.1 from the total
		if diff := math.Abs(completed + remaining - recalc.Round1(work)); diff > 0.1 {
			t.Fatalf("completed %g + remaining %g drifts %g from work %g", completed, remaining, diff, work)
		}
	})
}

func TestProjectFinishInvariant(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	rapid.Check(t, func(t *rapid.T) {
		offset := rapid.IntRange(0, 365).Draw(t, "offset")
		remaining := rapid.Float64Range(0.1, 500).Draw(t, "remaining")
		from := base.AddDate(0, 0, offset)

		finish := recalc.ProjectFinish(from, remaining, recalc.DefaultHoursPerDay)

		if finish.Before(from) {
			t.Fatalf("finish %v before start %v", finish, from)
		}
		if wd := finish.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Fatalf("finish %v lands on a weekend", finish)
		}
	})
}
